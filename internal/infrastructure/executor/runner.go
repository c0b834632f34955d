package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// cleanupInterval is how often go-cache sweeps expired entries.
const cleanupInterval = time.Minute

// Runner validates, executes, parses and caches probes. It implements ports.ProbeRunner.
type Runner struct {
	catalog  *Catalog
	commands CommandRunner
	security ports.SecurityService
	logger   ports.Logger
	cache    *gocache.Cache
	ttl      map[domain.CacheClass]time.Duration
	now      func() time.Time
}

// NewRunner wires the catalog to a command runner and the guardrail.
func NewRunner(catalog *Catalog, commands CommandRunner, security ports.SecurityService, logger ports.Logger) *Runner {
	ttl := map[domain.CacheClass]time.Duration{}
	for _, class := range []domain.CacheClass{domain.CacheStatic, domain.CacheSlow, domain.CacheVolatile} {
		ttl[class] = class.TTL()
	}
	return &Runner{
		catalog:  catalog,
		commands: commands,
		security: security,
		logger:   logger,
		cache:    gocache.New(domain.VolatileCacheTTL, cleanupInterval),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Catalog implements ports.ProbeRunner.
func (r *Runner) Catalog() []domain.ProbeSpec {
	return r.catalog.Specs()
}

// Flush drops every cached result.
func (r *Runner) Flush() {
	r.cache.Flush()
}

// Run implements ports.ProbeRunner. Every failure comes back as Success=false.
func (r *Runner) Run(ctx context.Context, id string, params map[string]string) domain.ProbeResult {
	spec, ok := r.catalog.Lookup(id)
	if !ok {
		return r.fail(id, domain.CacheVolatile, fmt.Errorf("%w: %s", domain.ErrProbeNotAllowed, id))
	}
	for name, value := range params {
		if err := r.security.ValidateParam(name, value); err != nil {
			return r.fail(id, spec.Class, err)
		}
	}
	if err := r.catalog.checkParams(id, params); err != nil {
		return r.fail(id, spec.Class, err)
	}

	key := domain.FormatProbeRef(id, params)
	if cached, found := r.cache.Get(key); found {
		result := cached.(domain.ProbeResult)
		result.FromCache = true
		result.Fields = copyFields(result.Fields)
		return result
	}

	argv := render(spec, params)
	risk, err := r.security.Evaluate(argv)
	if err != nil {
		return r.fail(id, spec.Class, err)
	}
	if risk.Blocked() {
		return r.fail(id, spec.Class, fmt.Errorf("%w: guardrail blocked %q (%s)", domain.ErrProbeNotAllowed,
			strings.Join(argv, " "), strings.Join(risk.Reasons, "; ")))
	}

	execCtx, cancel := context.WithTimeout(ctx, spec.GetTimeout())
	defer cancel()
	out := r.commands.Execute(execCtx, argv)
	if !out.Succeeded() {
		return r.fail(id, spec.Class, executionError(out, spec.GetTimeout()))
	}

	fields, err := parsers[parserName(spec)](out.Stdout)
	if err != nil {
		return r.fail(id, spec.Class, fmt.Errorf("unparseable output from %s: %w", spec.Binary(), err))
	}

	result := domain.ProbeResult{
		ProbeID:   id,
		Success:   true,
		Payload:   truncate(out.Stdout, domain.MaxProbeOutputBytes),
		Fields:    fields,
		Class:     spec.Class,
		Timestamp: r.now(),
		Duration:  out.Duration,
	}
	r.cache.Set(key, result, r.expiration(spec.Class))
	return domain.ProbeResult{
		ProbeID:   result.ProbeID,
		Success:   true,
		Payload:   result.Payload,
		Fields:    copyFields(fields),
		Class:     result.Class,
		Timestamp: result.Timestamp,
		Duration:  result.Duration,
	}
}

func (r *Runner) expiration(class domain.CacheClass) time.Duration {
	ttl := r.ttl[class]
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (r *Runner) fail(id string, class domain.CacheClass, err error) domain.ProbeResult {
	if r.logger != nil {
		r.logger.Debug("probe failed", map[string]interface{}{
			"probe": id,
			"error": err.Error(),
		})
	}
	return domain.FailedProbe(id, class, err.Error(), r.now())
}

func executionError(out domain.ExecutionResult, timeout time.Duration) error {
	if errors.Is(out.Err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", strings.Join(out.Argv, " "), timeout)
	}
	if errors.Is(out.Err, context.Canceled) {
		return fmt.Errorf("%s cancelled", strings.Join(out.Argv, " "))
	}
	msg := strings.TrimSpace(out.Stderr)
	if msg == "" && out.Err != nil {
		msg = out.Err.Error()
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("%s exited %d: %s", strings.Join(out.Argv, " "), out.ExitCode, msg)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func copyFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

var _ ports.ProbeRunner = (*Runner)(nil)
