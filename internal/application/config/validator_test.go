package config

import (
	"strings"
	"testing"

	"github.com/doeshing/hostq/internal/domain"
)

func validConfig() domain.Config {
	return domain.Config{
		ConfigFormatVersion: "1",
		Models: []domain.ModelDefinition{
			{Name: "local", Endpoint: "http://localhost:11434/api/chat", ModelID: "llama3.1"},
		},
		Roles: domain.RoleSettings{Drafting: "local", Auditing: "local"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*domain.Config) {}},
		{name: "no models is valid", mutate: func(c *domain.Config) {
			c.Models = nil
			c.Roles = domain.RoleSettings{}
		}},
		{name: "unknown drafting role", mutate: func(c *domain.Config) { c.Roles.Drafting = "gpt" }, wantErr: "roles.drafting"},
		{name: "unknown auditing role", mutate: func(c *domain.Config) { c.Roles.Auditing = "gpt" }, wantErr: "roles.auditing"},
		{name: "duplicate model", mutate: func(c *domain.Config) { c.Models = append(c.Models, c.Models[0]) }, wantErr: "declared twice"},
		{name: "cache slower than drafting", mutate: func(c *domain.Config) {
			c.Budget.CacheMS = 5000
		}, wantErr: "budget.cache_ms"},
		{name: "auditing hard past global", mutate: func(c *domain.Config) {
			c.Budget.GlobalMS = 8000
		}, wantErr: "budget.auditing_hard_ms"},
		{name: "threshold above one", mutate: func(c *domain.Config) {
			c.Recipes.MatchThreshold = 1.5
		}, wantErr: "recipes.match_threshold"},
		{name: "learning floor lowered", mutate: func(c *domain.Config) {
			c.Recipes.MinReliability = 0.6
		}, wantErr: "recipes.min_reliability"},
		{name: "negative confidence", mutate: func(c *domain.Config) {
			c.Pipeline.SkipAuditConfidence = -0.1
		}, wantErr: "pipeline.skip_audit_confidence"},
		{name: "unknown simple intent", mutate: func(c *domain.Config) {
			c.Pipeline.SimpleIntents = []string{"weather"}
		}, wantErr: "unknown intent weather"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
