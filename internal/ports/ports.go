// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the orchestration core and
// external adapters (infrastructure). Following the Ports and Adapters
// (Hexagonal) pattern, these interfaces let the engine stay independent of the
// sqlite store, the HTTP backend, the unix socket front end and the host
// command runner.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., ComputeBackend, ProbeRunner)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.hostq/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// HostCollector gathers host facts used to ground backend prompts and doctor output.
type HostCollector interface {
	Collect(context.Context) (domain.HostSnapshot, error)
}

// ComputeBackend is the generative collaborator behind the drafting and auditing actors.
// Replies that do not decode into a known variant are returned as errors wrapping
// domain.ErrProtocol.
type ComputeBackend interface {
	Name() string
	Plan(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error)
	Audit(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error)
}

// ProbeRunner executes allow-listed diagnostic probes.
// Run never returns a partial payload: failures come back as Success=false.
type ProbeRunner interface {
	Run(ctx context.Context, id string, params map[string]string) domain.ProbeResult
	Catalog() []domain.ProbeSpec
}

// SecurityService validates probe parameters and rendered commands.
type SecurityService interface {
	ValidateParam(name, value string) error
	Evaluate(argv []string) (domain.RiskAssessment, error)
}

// RecipeRepository persists learned recipes keyed by intent.
type RecipeRepository interface {
	LoadRecipes(ctx context.Context) ([]domain.Recipe, error)
	ReplaceIntent(ctx context.Context, intent domain.Intent, recipes []domain.Recipe) error
	ClearRecipes(ctx context.Context) error
}

// TrustRepository persists one TrustRecord per actor.
type TrustRepository interface {
	LoadTrust(ctx context.Context) ([]domain.TrustRecord, error)
	SaveTrust(ctx context.Context, records []domain.TrustRecord) error
}

// HistoryRepository stores the local answer history.
type HistoryRepository interface {
	SaveAnswer(ctx context.Context, record domain.AnswerRecord) error
	Answers(ctx context.Context, limit int, search string) ([]domain.AnswerRecord, error)
	ClearAnswers(ctx context.Context) error
	PruneAnswers(ctx context.Context, before time.Time) (int64, error)
}

// TelemetrySink receives one event per resolved question. Emit must never block.
type TelemetrySink interface {
	Emit(domain.TelemetryEvent)
}

// DebugFlagStore persists the verbose trace toggle.
type DebugFlagStore interface {
	DebugEnabled() bool
	SetDebug(enabled bool) error
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
