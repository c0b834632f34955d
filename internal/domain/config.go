package domain

// Config mirrors ~/.hostq/config.yaml.
type Config struct {
	ConfigFormatVersion string            `yaml:"config_format_version"`
	Daemon              DaemonSettings    `yaml:"daemon"`
	Budget              BudgetSettings    `yaml:"budget"`
	Pipeline            PipelineSettings  `yaml:"pipeline"`
	Recipes             RecipeSettings    `yaml:"recipes"`
	Roles               RoleSettings      `yaml:"roles"`
	Models              []ModelDefinition `yaml:"models"`
	Probes              ProbeSettings     `yaml:"probes"`
	Security            SecuritySettings  `yaml:"security"`
	History             HistorySettings   `yaml:"history"`
	Telemetry           TelemetrySettings `yaml:"telemetry"`
	State               StateSettings     `yaml:"state"`
}

// DaemonSettings configures the IPC front end.
type DaemonSettings struct {
	SocketPath  string `yaml:"socket_path"`
	PIDFile     string `yaml:"pid_file"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// BudgetSettings holds the time ceilings in milliseconds. Stage ceilings are
// per-call allowances and are always clamped by the global ceiling.
type BudgetSettings struct {
	GlobalMS       int `yaml:"global_ms"`
	FastPathMS     int `yaml:"fast_path_ms"`
	CacheMS        int `yaml:"cache_ms"`
	ProbesMS       int `yaml:"probes_ms"`
	DraftingSoftMS int `yaml:"drafting_soft_ms"`
	DraftingHardMS int `yaml:"drafting_hard_ms"`
	AuditingSoftMS int `yaml:"auditing_soft_ms"`
	AuditingHardMS int `yaml:"auditing_hard_ms"`
	EmergencyMS    int `yaml:"emergency_ms"`
	ReserveMS      int `yaml:"reserve_ms"`
}

// PipelineSettings tunes the two-stage compute pipeline.
type PipelineSettings struct {
	MaxIterations       int      `yaml:"max_iterations"`
	SkipAuditConfidence float64  `yaml:"skip_audit_confidence"`
	SimpleIntents       []string `yaml:"simple_intents"`
	MinDraftTrust       float64  `yaml:"min_draft_trust"`
	ProbeConcurrency    int      `yaml:"probe_concurrency"`
	FixPenalty          float64  `yaml:"fix_penalty"`
}

// RecipeSettings tunes the learned cache.
type RecipeSettings struct {
	Disabled       bool    `yaml:"disabled"`
	MinReliability float64 `yaml:"min_reliability"`
	MatchThreshold float64 `yaml:"match_threshold"`
	MaxPerIntent   int     `yaml:"max_per_intent"`
}

// RoleSettings names the model definitions used by each actor.
type RoleSettings struct {
	Drafting string `yaml:"drafting"`
	Auditing string `yaml:"auditing"`
}

// ProbeSettings points at an optional catalog override.
type ProbeSettings struct {
	CatalogFile string `yaml:"catalog_file"`
}

// SecuritySettings defines guardrail behavior.
type SecuritySettings struct {
	Enabled   bool   `yaml:"enabled"`
	RulesFile string `yaml:"rules_file"`
}

// HistorySettings controls the local answer history.
type HistorySettings struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// TelemetrySettings controls the debug/telemetry sink.
type TelemetrySettings struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	BufferSize int    `yaml:"buffer_size"`
}

// StateSettings controls persisted engine state.
type StateSettings struct {
	Dir                  string `yaml:"dir"`
	FlushIntervalSeconds int    `yaml:"flush_interval_seconds"`
}
