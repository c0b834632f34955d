package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
)

// Budget defaults, in milliseconds.
const (
	DefaultGlobalBudgetMS   = 15000
	DefaultFastPathBudgetMS = 150
	DefaultCacheBudgetMS    = 600
	DefaultProbesBudgetMS   = 2500
	DefaultDraftingSoftMS   = 4000
	DefaultDraftingHardMS   = 6000
	DefaultAuditingSoftMS   = 7000
	DefaultAuditingHardMS   = 9000
	DefaultEmergencyMS      = 2000
	DefaultReserveMS        = 500
)

// Pipeline defaults
const (
	DefaultMaxIterations       = 6
	DefaultSkipAuditConfidence = 0.80
	DefaultMinDraftTrust       = 0.40
	DefaultProbeConcurrency    = 4
	DefaultFixPenalty          = 0.05
	// RefusalCeiling keeps refusals below the usable floor.
	RefusalCeiling = 0.45
	// TrippedStreak is the bad streak at which an actor is considered tripped.
	TrippedStreak = 3
)

// Timeout and duration constants
const (
	// DefaultProbeTimeout is the per-command deadline when the catalog omits one
	DefaultProbeTimeout = 500 * time.Millisecond
	// DefaultHTTPClientTimeout is the timeout for backend HTTP requests
	DefaultHTTPClientTimeout = 60 * time.Second
	// DefaultFlushInterval is how often dirty trust and recipe state is persisted
	DefaultFlushInterval = 30 * time.Second
	// HistoryWriteTimeout bounds the synchronous history insert per answer
	HistoryWriteTimeout = 250 * time.Millisecond
	// DefaultDialTimeout bounds connecting to the daemon socket
	DefaultDialTimeout = 2 * time.Second
)

// Limit constants
const (
	// MaxParamBytes is the largest accepted probe parameter
	MaxParamBytes = 4096
	// MaxProbeOutputBytes caps stored probe stdout
	MaxProbeOutputBytes = 64 * 1024
	// DefaultTelemetryBuffer is the telemetry channel capacity
	DefaultTelemetryBuffer = 256
)

// History constants
const (
	// DefaultHistoryLimit is the default number of history records to display
	DefaultHistoryLimit = 20
	// DefaultHistorySearchLimit is the default number of search results to return
	DefaultHistorySearchLimit = 50
	// DefaultHistoryRetainDays is the default number of days to retain history
	DefaultHistoryRetainDays = 30
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339
)
