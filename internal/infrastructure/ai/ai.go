// Package ai provides the compute backend behind the drafting and auditing actors.
//
// This package implements a unified, configuration-driven approach to chat backends:
//   - Factory: Builds a backend for the configured drafting and auditing roles
//   - HTTP client: Generic chat client supporting any service via the model's APIFormat
//   - Prompt templates: Render the question, host facts, catalog and evidence
//   - Decoding: Turns replies into the closed plan and audit variants
//
// All provider-specific behavior is controlled through the model's APIFormat configuration.
// When no model is configured the heuristic backend answers from evidence alone.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

const (
	defaultCallsPerSecond = 4
	defaultBurst          = 2
)

// ====================================================================================
// Factory
// ====================================================================================

// Factory creates backends from configuration. It shares one HTTP client and
// one rate limiter across every backend it builds.
type Factory struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	getenv     func(string) string
}

// NewFactory creates a factory with a configured HTTP client and limiter.
func NewFactory() *Factory {
	return &Factory{
		httpClient: &http.Client{Timeout: domain.DefaultHTTPClientTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultCallsPerSecond), defaultBurst),
		getenv:     os.Getenv,
	}
}

// WithRateLimit replaces the shared limiter.
func (f *Factory) WithRateLimit(limit rate.Limit, burst int) *Factory {
	f.limiter = rate.NewLimiter(limit, burst)
	return f
}

// ForConfig builds the backend for the configured roles. A config without
// models yields the heuristic backend.
func (f *Factory) ForConfig(cfg domain.Config) (ports.ComputeBackend, error) {
	drafting, ok := cfg.DraftingModel()
	if !ok {
		if cfg.Roles.Drafting != "" {
			return nil, fmt.Errorf("%w: drafting model %q not configured", domain.ErrBackendUnavailable, cfg.Roles.Drafting)
		}
		return NewHeuristicBackend(), nil
	}
	auditing, ok := cfg.AuditingModel()
	if !ok {
		return nil, fmt.Errorf("%w: auditing model %q not configured", domain.ErrBackendUnavailable, cfg.Roles.Auditing)
	}
	return &Backend{
		drafting: f.client(drafting),
		auditing: f.client(auditing),
		limiter:  f.limiter,
	}, nil
}

func (f *Factory) client(model domain.ModelDefinition) *chatClient {
	return &chatClient{model: model, httpClient: f.httpClient, getenv: f.getenv}
}

// ====================================================================================
// Backend
// ====================================================================================

// Backend routes Plan to the drafting model and Audit to the auditing model.
type Backend struct {
	drafting *chatClient
	auditing *chatClient
	limiter  *rate.Limiter
}

// Name reports the models behind each role.
func (b *Backend) Name() string {
	if b.drafting.model.Name == b.auditing.model.Name {
		return b.drafting.model.Name
	}
	return b.drafting.model.Name + "/" + b.auditing.model.Name
}

// Plan implements ports.ComputeBackend.
func (b *Backend) Plan(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
	messages, err := renderPlanMessages(b.drafting.model, req)
	if err != nil {
		return domain.PlanResponse{}, fmt.Errorf("render plan prompt: %w", err)
	}
	content, err := b.call(ctx, b.drafting, messages)
	if err != nil {
		return domain.PlanResponse{}, err
	}
	return decodePlan(content)
}

// Audit implements ports.ComputeBackend.
func (b *Backend) Audit(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error) {
	messages, err := renderAuditMessages(b.auditing.model, req)
	if err != nil {
		return domain.AuditResult{}, fmt.Errorf("render audit prompt: %w", err)
	}
	content, err := b.call(ctx, b.auditing, messages)
	if err != nil {
		return domain.AuditResult{}, err
	}
	return decodeAudit(content)
}

func (b *Backend) call(ctx context.Context, client *chatClient, messages []domain.PromptMessage) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			// The wait would outlast the stage deadline.
			return "", fmt.Errorf("rate limit: %w: %v", context.DeadlineExceeded, err)
		}
	}
	return client.complete(ctx, messages)
}

// ====================================================================================
// Configured backend
// ====================================================================================

// ConfiguredBackend resolves the role models from the current config on each
// call, so an edit picked up by the config watcher applies to the next question.
type ConfiguredBackend struct {
	Config  ports.ConfigProvider
	Factory *Factory
}

// Name implements ports.ComputeBackend.
func (c *ConfiguredBackend) Name() string {
	backend, err := c.resolve(context.Background())
	if err != nil {
		return "unconfigured"
	}
	return backend.Name()
}

// Plan implements ports.ComputeBackend.
func (c *ConfiguredBackend) Plan(ctx context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
	backend, err := c.resolve(ctx)
	if err != nil {
		return domain.PlanResponse{}, err
	}
	return backend.Plan(ctx, req)
}

// Audit implements ports.ComputeBackend.
func (c *ConfiguredBackend) Audit(ctx context.Context, req domain.AuditRequest) (domain.AuditResult, error) {
	backend, err := c.resolve(ctx)
	if err != nil {
		return domain.AuditResult{}, err
	}
	return backend.Audit(ctx, req)
}

func (c *ConfiguredBackend) resolve(ctx context.Context) (ports.ComputeBackend, error) {
	if c.Config == nil || c.Factory == nil {
		return nil, errors.New("configured backend: missing config or factory")
	}
	cfg, err := c.Config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load config: %v", domain.ErrBackendUnavailable, err)
	}
	return c.Factory.ForConfig(cfg)
}

var (
	_ ports.ComputeBackend = (*Backend)(nil)
	_ ports.ComputeBackend = (*ConfiguredBackend)(nil)
)
