package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	appconfig "github.com/doeshing/hostq/internal/application/config"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Store          Pinger
	Daemon         Pinger
	Runner         ports.ProbeRunner
	Flags          ports.DebugFlagStore
	Host           ports.HostCollector
	LookPath       func(string) (string, error)
	Getenv         func(string) string
}

// Run executes checks and returns a report. The error is non-nil only when
// the configuration cannot be loaded at all.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	checks = append(checks, ok("Config file", fmt.Sprintf("loaded format %s", cfg.ConfigFormatVersion)))

	if err := appconfig.Validate(cfg); err != nil {
		checks = append(checks, fail("Config validation", err.Error()))
	} else {
		checks = append(checks, ok("Config validation", "valid"))
	}

	if err := cfg.Budget.ValidateOrdering(); err != nil {
		checks = append(checks, fail("Budget ordering", err.Error()))
	} else {
		checks = append(checks, ok("Budget ordering", fmt.Sprintf("global ceiling %s", cfg.Budget.Global())))
	}

	checks = append(checks, s.storeCheck(ctx))
	checks = append(checks, s.probeChecks()...)
	checks = append(checks, s.backendChecks(cfg)...)

	if s.Host != nil {
		if snapshot, err := s.Host.Collect(ctx); err == nil {
			checks = append(checks, ok("Host", fmt.Sprintf("%s %s/%s, %d CPUs", snapshot.Hostname, snapshot.OS, snapshot.Arch, snapshot.CPUCount)))
		} else {
			checks = append(checks, warn("Host", err.Error()))
		}
	}

	checks = append(checks, s.daemonCheck(ctx))

	if s.Flags != nil {
		state := "off"
		if s.Flags.DebugEnabled() {
			state = "on"
		}
		checks = append(checks, ok("Debug trace", state))
	}

	return domain.HealthReport{Checks: checks}, nil
}

func (s *Service) storeCheck(ctx context.Context) domain.HealthCheck {
	if s.Store == nil {
		return warn("State store", "not opened")
	}
	if err := s.Store.Ping(ctx); err != nil {
		return fail("State store", err.Error())
	}
	return ok("State store", "reachable")
}

// probeChecks resolves each distinct probe binary once.
func (s *Service) probeChecks() []domain.HealthCheck {
	if s.Runner == nil {
		return []domain.HealthCheck{warn("Probes", "catalog not loaded")}
	}
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	users := map[string][]string{}
	for _, spec := range s.Runner.Catalog() {
		if bin := spec.Binary(); bin != "" {
			users[bin] = append(users[bin], spec.ID)
		}
	}
	binaries := make([]string, 0, len(users))
	for bin := range users {
		binaries = append(binaries, bin)
	}
	sort.Strings(binaries)

	var missing []string
	for _, bin := range binaries {
		if _, err := lookPath(bin); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%s)", bin, strings.Join(users[bin], ", ")))
		}
	}
	if len(missing) > 0 {
		return []domain.HealthCheck{warn("Probes", "missing binaries: "+strings.Join(missing, "; "))}
	}
	return []domain.HealthCheck{ok("Probes", fmt.Sprintf("%d binaries resolved", len(binaries)))}
}

func (s *Service) backendChecks(cfg domain.Config) []domain.HealthCheck {
	if !cfg.HasComputeBackend() {
		return []domain.HealthCheck{warn("Backend", "no model configured; using the heuristic backend")}
	}
	var checks []domain.HealthCheck
	roles := []struct {
		name  string
		model func() (domain.ModelDefinition, bool)
	}{
		{"drafting", cfg.DraftingModel},
		{"auditing", cfg.AuditingModel},
	}
	for _, role := range roles {
		model, found := role.model()
		name := "Backend (" + role.name + ")"
		switch {
		case !found:
			checks = append(checks, fail(name, "model not found"))
		case model.RequiresAPIKey() && s.getenv(model.AuthEnvVar) == "":
			checks = append(checks, warn(name, fmt.Sprintf("%s uses %s, which is not set", model.Name, model.AuthEnvVar)))
		default:
			checks = append(checks, ok(name, fmt.Sprintf("%s at %s", model.Name, model.Endpoint)))
		}
	}
	return checks
}

func (s *Service) daemonCheck(ctx context.Context) domain.HealthCheck {
	if s.Daemon == nil {
		return warn("Daemon", "socket not configured")
	}
	if err := s.Daemon.Ping(ctx); err != nil {
		return warn("Daemon", "not answering: "+err.Error())
	}
	return ok("Daemon", "answering on socket")
}

func (s *Service) getenv(key string) string {
	if s.Getenv != nil {
		return s.Getenv(key)
	}
	return os.Getenv(key)
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
