package domain

import (
	"fmt"
	"time"
)

// FindModelByName searches for a model by its name
// Returns the model definition and true if found, empty model and false otherwise
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// HasModel checks if a model with the given name exists in the configuration
func (c *Config) HasModel(name string) bool {
	_, exists := c.FindModelByName(name)
	return exists
}

// DraftingModel returns the model bound to the drafting role.
// An empty role falls back to the first configured model.
func (c *Config) DraftingModel() (ModelDefinition, bool) {
	return c.modelForRole(c.Roles.Drafting)
}

// AuditingModel returns the model bound to the auditing role.
// An empty role falls back to the drafting model.
func (c *Config) AuditingModel() (ModelDefinition, bool) {
	if c.Roles.Auditing == "" {
		return c.DraftingModel()
	}
	return c.modelForRole(c.Roles.Auditing)
}

func (c *Config) modelForRole(name string) (ModelDefinition, bool) {
	if name == "" {
		if len(c.Models) == 0 {
			return ModelDefinition{}, false
		}
		return c.Models[0], true
	}
	return c.FindModelByName(name)
}

// HasComputeBackend reports whether any model is configured.
func (c *Config) HasComputeBackend() bool {
	_, ok := c.DraftingModel()
	return ok
}

// IsSimpleIntent reports whether drafts for the intent may skip the audit.
func (c *Config) IsSimpleIntent(intent Intent) bool {
	for _, raw := range c.Pipeline.GetSimpleIntents() {
		if Intent(raw) == intent {
			return true
		}
	}
	return false
}

// IsSecurityEnabled checks if danger-pattern guardrails are enabled
func (c *Config) IsSecurityEnabled() bool {
	return c.Security.Enabled
}

// GetHistoryRetentionDays returns the number of days to retain history
func (c *Config) GetHistoryRetentionDays() int {
	if c.History.RetentionDays <= 0 {
		return DefaultHistoryRetainDays
	}
	return c.History.RetentionDays
}

// GetFlushInterval returns how often dirty state is persisted
func (c *Config) GetFlushInterval() time.Duration {
	if c.State.FlushIntervalSeconds <= 0 {
		return DefaultFlushInterval
	}
	return time.Duration(c.State.FlushIntervalSeconds) * time.Second
}

// GetTelemetryBuffer returns the telemetry channel capacity
func (c *Config) GetTelemetryBuffer() int {
	if c.Telemetry.BufferSize <= 0 {
		return DefaultTelemetryBuffer
	}
	return c.Telemetry.BufferSize
}

// ValidateConsistency checks the internal consistency of the configuration
func (c *Config) ValidateConsistency() error {
	if c.Roles.Drafting != "" && !c.HasModel(c.Roles.Drafting) {
		return fmt.Errorf("drafting model %s does not exist in models list", c.Roles.Drafting)
	}
	if c.Roles.Auditing != "" && !c.HasModel(c.Roles.Auditing) {
		return fmt.Errorf("auditing model %s does not exist in models list", c.Roles.Auditing)
	}
	return c.Budget.ValidateOrdering()
}

func msOrDefault(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Millisecond
}

// Global returns the overall hard ceiling.
func (b BudgetSettings) Global() time.Duration {
	return msOrDefault(b.GlobalMS, DefaultGlobalBudgetMS)
}

// Emergency returns the ceiling for emergency answer generation.
func (b BudgetSettings) Emergency() time.Duration {
	return msOrDefault(b.EmergencyMS, DefaultEmergencyMS)
}

// Reserve returns the minimum remaining time needed to start an actor call.
func (b BudgetSettings) Reserve() time.Duration {
	return msOrDefault(b.ReserveMS, DefaultReserveMS)
}

// MinStart returns the least remaining time at which a stage may still begin.
// Actor stages also need a quarter of their soft ceiling on top of the reserve.
func (b BudgetSettings) MinStart(stage Stage) time.Duration {
	switch stage {
	case StageDrafting, StageAuditing:
		soft, _ := b.StageLimits(stage)
		return b.Reserve() + soft/4
	default:
		return b.Reserve()
	}
}

// StageLimits returns the soft and hard ceilings of one stage. Stages without
// a soft ceiling report soft == hard.
func (b BudgetSettings) StageLimits(stage Stage) (soft, hard time.Duration) {
	switch stage {
	case StageFastPath:
		hard = msOrDefault(b.FastPathMS, DefaultFastPathBudgetMS)
		return hard, hard
	case StageCache:
		hard = msOrDefault(b.CacheMS, DefaultCacheBudgetMS)
		return hard, hard
	case StageProbes:
		hard = msOrDefault(b.ProbesMS, DefaultProbesBudgetMS)
		return hard, hard
	case StageDrafting:
		return msOrDefault(b.DraftingSoftMS, DefaultDraftingSoftMS), msOrDefault(b.DraftingHardMS, DefaultDraftingHardMS)
	case StageAuditing:
		return msOrDefault(b.AuditingSoftMS, DefaultAuditingSoftMS), msOrDefault(b.AuditingHardMS, DefaultAuditingHardMS)
	default:
		g := b.Global()
		return g, g
	}
}

// ValidateOrdering enforces
// fast path < cache < drafting soft < drafting hard < auditing soft < auditing hard < global.
func (b BudgetSettings) ValidateOrdering() error {
	_, fast := b.StageLimits(StageFastPath)
	_, cache := b.StageLimits(StageCache)
	draftSoft, draftHard := b.StageLimits(StageDrafting)
	auditSoft, auditHard := b.StageLimits(StageAuditing)
	chain := []struct {
		name  string
		value time.Duration
	}{
		{"fast_path_ms", fast},
		{"cache_ms", cache},
		{"drafting_soft_ms", draftSoft},
		{"drafting_hard_ms", draftHard},
		{"auditing_soft_ms", auditSoft},
		{"auditing_hard_ms", auditHard},
		{"global_ms", b.Global()},
	}
	for i := 1; i < len(chain); i++ {
		if chain[i-1].value >= chain[i].value {
			return fmt.Errorf("budget.%s (%s) must be less than budget.%s (%s)",
				chain[i-1].name, chain[i-1].value, chain[i].name, chain[i].value)
		}
	}
	return nil
}

// GetMaxIterations returns the needs-more-evidence loop cap
func (p PipelineSettings) GetMaxIterations() int {
	if p.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return p.MaxIterations
}

// GetSkipAuditConfidence returns the draft confidence that allows skipping the audit
func (p PipelineSettings) GetSkipAuditConfidence() float64 {
	if p.SkipAuditConfidence <= 0 {
		return DefaultSkipAuditConfidence
	}
	return p.SkipAuditConfidence
}

// GetSimpleIntents returns the intents eligible for the audit skip
func (p PipelineSettings) GetSimpleIntents() []string {
	if len(p.SimpleIntents) == 0 {
		return []string{
			string(IntentMemoryTotal),
			string(IntentCPUCores),
			string(IntentDiskFree),
			string(IntentSelfHealth),
		}
	}
	return p.SimpleIntents
}

// GetMinDraftTrust returns the drafting trust needed before skipping the audit
func (p PipelineSettings) GetMinDraftTrust() float64 {
	if p.MinDraftTrust <= 0 {
		return DefaultMinDraftTrust
	}
	return p.MinDraftTrust
}

// GetProbeConcurrency returns the evidence-gathering fan-out limit
func (p PipelineSettings) GetProbeConcurrency() int {
	if p.ProbeConcurrency <= 0 {
		return DefaultProbeConcurrency
	}
	return p.ProbeConcurrency
}

// GetFixPenalty returns the reliability reduction applied to fix-and-accept verdicts
func (p PipelineSettings) GetFixPenalty() float64 {
	if p.FixPenalty <= 0 {
		return DefaultFixPenalty
	}
	return p.FixPenalty
}

// GetMinReliability returns the learning admission floor
func (r RecipeSettings) GetMinReliability() float64 {
	if r.MinReliability <= 0 {
		return MinRecipeReliability
	}
	return r.MinReliability
}

// GetMatchThreshold returns the minimum recipe match score
func (r RecipeSettings) GetMatchThreshold() float64 {
	if r.MatchThreshold <= 0 {
		return RecipeMatchThreshold
	}
	return r.MatchThreshold
}

// GetMaxPerIntent returns the per-intent recipe cap
func (r RecipeSettings) GetMaxPerIntent() int {
	if r.MaxPerIntent <= 0 {
		return MaxRecipesPerIntent
	}
	return r.MaxPerIntent
}
