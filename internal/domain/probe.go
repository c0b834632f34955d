package domain

import (
	"sort"
	"strings"
	"time"
)

// CacheClass declares how long a probe result stays fresh.
type CacheClass string

const (
	CacheStatic   CacheClass = "static"
	CacheSlow     CacheClass = "slow"
	CacheVolatile CacheClass = "volatile"
)

const (
	// SlowCacheTTL bounds slow-class results.
	SlowCacheTTL = time.Hour
	// VolatileCacheTTL bounds volatile-class results.
	VolatileCacheTTL = 5 * time.Second
)

// TTL returns the freshness window. Zero means the result never expires.
func (c CacheClass) TTL() time.Duration {
	switch c {
	case CacheStatic:
		return 0
	case CacheSlow:
		return SlowCacheTTL
	default:
		return VolatileCacheTTL
	}
}

// Valid reports whether the class is one of the declared classes.
func (c CacheClass) Valid() bool {
	return c == CacheStatic || c == CacheSlow || c == CacheVolatile
}

// ProbeSpec is one allow-listed diagnostic operation.
type ProbeSpec struct {
	ID          string            `yaml:"id"`
	Description string            `yaml:"description"`
	Argv        []string          `yaml:"argv"`
	Class       CacheClass        `yaml:"class"`
	TimeoutMS   int               `yaml:"timeout_ms"`
	Parser      string            `yaml:"parser"`
	Params      map[string]string `yaml:"params,omitempty"`
}

// GetTimeout returns the per-command deadline with a default of 500ms.
func (p ProbeSpec) GetTimeout() time.Duration {
	if p.TimeoutMS <= 0 {
		return DefaultProbeTimeout
	}
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// Binary is the executable the probe runs.
func (p ProbeSpec) Binary() string {
	if len(p.Argv) == 0 {
		return ""
	}
	return p.Argv[0]
}

// ProbeResult is the output of one executor invocation. Never mutated after creation.
type ProbeResult struct {
	ProbeID   string            `json:"probe_id"`
	Success   bool              `json:"success"`
	Payload   string            `json:"payload,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Error     string            `json:"error,omitempty"`
	Class     CacheClass        `json:"class"`
	Timestamp time.Time         `json:"timestamp"`
	FromCache bool              `json:"from_cache,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// FailedProbe builds a failure result with a human readable message.
func FailedProbe(id string, class CacheClass, message string, at time.Time) ProbeResult {
	return ProbeResult{
		ProbeID:   id,
		Success:   false,
		Error:     message,
		Class:     class,
		Timestamp: at,
	}
}

// Evidence is the ordered set of probe results gathered for one question.
type Evidence []ProbeResult

// Successful returns only the results that succeeded.
func (e Evidence) Successful() Evidence {
	var out Evidence
	for _, r := range e {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Has reports whether a successful result for the probe is present.
func (e Evidence) Has(id string) bool {
	for _, r := range e {
		if r.ProbeID == id && r.Success {
			return true
		}
	}
	return false
}

// ProbeIDs returns the ids of successful results in gathering order.
func (e Evidence) ProbeIDs() []string {
	var ids []string
	seen := map[string]bool{}
	for _, r := range e {
		if r.Success && !seen[r.ProbeID] {
			seen[r.ProbeID] = true
			ids = append(ids, r.ProbeID)
		}
	}
	return ids
}

// Fields merges parsed fields of successful results. Later results win.
func (e Evidence) Fields() map[string]string {
	merged := map[string]string{}
	for _, r := range e {
		if !r.Success {
			continue
		}
		for k, v := range r.Fields {
			merged[k] = v
		}
	}
	return merged
}

// Summary renders the evidence as plain text capped at limit runes.
func (e Evidence) Summary(limit int) string {
	var b strings.Builder
	for _, r := range e {
		if !r.Success {
			continue
		}
		b.WriteString("[")
		b.WriteString(r.ProbeID)
		b.WriteString("] ")
		if len(r.Fields) > 0 {
			keys := make([]string, 0, len(r.Fields))
			for k := range r.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for i, k := range keys {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(k)
				b.WriteString("=")
				b.WriteString(r.Fields[k])
			}
		} else {
			b.WriteString(strings.Join(strings.Fields(r.Payload), " "))
		}
		b.WriteString("\n")
	}
	return truncateRunes(strings.TrimSpace(b.String()), limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ParseProbeRef splits "service.status unit=nginx" into the probe id and its parameters.
func ParseProbeRef(raw string) (string, map[string]string) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return "", nil
	}
	var params map[string]string
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			continue
		}
		if params == nil {
			params = map[string]string{}
		}
		params[key] = value
	}
	return parts[0], params
}

// FormatProbeRef is the inverse of ParseProbeRef. Parameters are written in key order.
func FormatProbeRef(id string, params map[string]string) string {
	if len(params) == 0 {
		return id
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(id)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}
