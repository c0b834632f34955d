package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/doeshing/hostq/internal/domain"
)

// Validate ensures config structure is consistent.
func Validate(cfg domain.Config) error {
	var errs []error
	if err := validateModels(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Budget.ValidateOrdering(); err != nil {
		errs = append(errs, err)
	}
	if err := validateBudget(cfg.Budget); err != nil {
		errs = append(errs, err)
	}
	if err := validatePipeline(cfg.Pipeline); err != nil {
		errs = append(errs, err)
	}
	if err := validateRecipes(cfg.Recipes); err != nil {
		errs = append(errs, err)
	}
	if err := validateHistory(cfg.History); err != nil {
		errs = append(errs, err)
	}
	if err := validateTelemetry(cfg.Telemetry); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateModels(cfg domain.Config) error {
	seen := map[string]bool{}
	for i, model := range cfg.Models {
		if strings.TrimSpace(model.Name) == "" {
			return fmt.Errorf("models[%d].name must be set", i)
		}
		if seen[model.Name] {
			return fmt.Errorf("model %s is declared twice", model.Name)
		}
		seen[model.Name] = true
		if model.Endpoint == "" {
			return fmt.Errorf("model %s has no endpoint", model.Name)
		}
		if model.ModelID == "" {
			return fmt.Errorf("model %s has no model_id", model.Name)
		}
	}
	if cfg.Roles.Drafting != "" && !cfg.HasModel(cfg.Roles.Drafting) {
		return fmt.Errorf("roles.drafting model %s not found in models list", cfg.Roles.Drafting)
	}
	if cfg.Roles.Auditing != "" && !cfg.HasModel(cfg.Roles.Auditing) {
		return fmt.Errorf("roles.auditing model %s not found in models list", cfg.Roles.Auditing)
	}
	return nil
}

func validateBudget(budget domain.BudgetSettings) error {
	if budget.Reserve() >= budget.Global() {
		return fmt.Errorf("budget.reserve_ms (%s) must be less than budget.global_ms (%s)", budget.Reserve(), budget.Global())
	}
	return nil
}

func validatePipeline(p domain.PipelineSettings) error {
	if err := unitInterval("pipeline.skip_audit_confidence", p.SkipAuditConfidence); err != nil {
		return err
	}
	if err := unitInterval("pipeline.min_draft_trust", p.MinDraftTrust); err != nil {
		return err
	}
	if err := unitInterval("pipeline.fix_penalty", p.FixPenalty); err != nil {
		return err
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("pipeline.max_iterations must be >= 0")
	}
	for _, raw := range p.SimpleIntents {
		if domain.ParseIntent(raw) == domain.IntentUnclassified && raw != string(domain.IntentUnclassified) {
			return fmt.Errorf("pipeline.simple_intents: unknown intent %s", raw)
		}
	}
	return nil
}

func validateRecipes(r domain.RecipeSettings) error {
	if err := unitInterval("recipes.min_reliability", r.MinReliability); err != nil {
		return err
	}
	if err := unitInterval("recipes.match_threshold", r.MatchThreshold); err != nil {
		return err
	}
	if r.MinReliability != 0 && r.MinReliability < domain.MinRecipeReliability {
		return fmt.Errorf("recipes.min_reliability must be >= %.2f, got %.2f", domain.MinRecipeReliability, r.MinReliability)
	}
	if r.MaxPerIntent < 0 {
		return fmt.Errorf("recipes.max_per_intent must be >= 0")
	}
	return nil
}

func validateHistory(history domain.HistorySettings) error {
	if history.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must be >= 0")
	}
	return nil
}

func validateTelemetry(t domain.TelemetrySettings) error {
	if t.BufferSize < 0 {
		return fmt.Errorf("telemetry.buffer_size must be >= 0")
	}
	return nil
}

func unitInterval(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must lie in [0,1], got %.2f", name, v)
	}
	return nil
}
