package fastpath

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// Reliability of fast-path answers.
const (
	ProbeReliability  = 0.99
	ToggleReliability = 1.0

	// ToggleFailedReliability reports a flag write that did not happen.
	ToggleFailedReliability = 0.5
)

// TrustReader exposes the ledger snapshot used by the self-health answer.
type TrustReader interface {
	Snapshot() []domain.TrustRecord
}

// RecipeCounter exposes the learned recipe count.
type RecipeCounter interface {
	Count() int
}

type handler func(ctx context.Context, s *Service, q domain.Question) (string, float64, bool)

// Service answers well-known intents without the compute pipeline.
type Service struct {
	Runner    ports.ProbeRunner
	Flags     ports.DebugFlagStore
	Trust     TrustReader
	Recipes   RecipeCounter
	StartedAt time.Time
	Now       func() time.Time
	Logger    ports.Logger
}

var handlers = map[domain.Intent]handler{
	domain.IntentMemoryTotal: memoryTotal,
	domain.IntentCPUCores:    cpuCores,
	domain.IntentDiskFree:    diskFree,
	domain.IntentSelfHealth:  selfHealth,
	domain.IntentDebugToggle: debugToggle,
}

// Handles reports whether the intent has a fast-path handler.
func Handles(intent domain.Intent) bool {
	_, ok := handlers[intent]
	return ok
}

type outcome struct {
	text        string
	reliability float64
	ok          bool
}

// Resolve returns a fast-path resolution or false. The handler runs under ctx;
// when ctx ends first the handler is abandoned and the question falls through.
func (s *Service) Resolve(ctx context.Context, q domain.Question) (domain.Resolution, bool) {
	h, ok := handlers[q.Intent]
	if !ok {
		return domain.Resolution{}, false
	}

	done := make(chan outcome, 1)
	go func() {
		text, reliability, ok := h(ctx, s, q)
		done <- outcome{text: text, reliability: reliability, ok: ok}
	}()

	select {
	case <-ctx.Done():
		if s.Logger != nil {
			s.Logger.Debug("fast path abandoned at ceiling", map[string]interface{}{"intent": string(q.Intent)})
		}
		return domain.Resolution{}, false
	case out := <-done:
		if !out.ok || strings.TrimSpace(out.text) == "" {
			return domain.Resolution{}, false
		}
		return domain.Resolution{
			Origin:      domain.OriginFastPath,
			Text:        out.text,
			Reliability: out.reliability,
			Events:      []domain.OutcomeEvent{domain.EventFastPathSolved},
		}, true
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) probe(ctx context.Context, id string) (map[string]string, bool) {
	if s.Runner == nil {
		return nil, false
	}
	result := s.Runner.Run(ctx, id, nil)
	if !result.Success {
		return nil, false
	}
	return result.Fields, true
}

func parseBytes(fields map[string]string, key string) (uint64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

func memoryTotal(ctx context.Context, s *Service, _ domain.Question) (string, float64, bool) {
	fields, ok := s.probe(ctx, "mem.info")
	if !ok {
		return "", 0, false
	}
	total, ok := parseBytes(fields, "mem_total_bytes")
	if !ok {
		return "", 0, false
	}
	text := fmt.Sprintf("You have %s of RAM", humanize.IBytes(total))
	if available, ok := parseBytes(fields, "mem_available_bytes"); ok {
		text += fmt.Sprintf(" (%s available)", humanize.IBytes(available))
	}
	return text + ".", ProbeReliability, true
}

func cpuCores(ctx context.Context, s *Service, _ domain.Question) (string, float64, bool) {
	fields, ok := s.probe(ctx, "cpu.info")
	if !ok {
		return "", 0, false
	}
	cpus, err := strconv.Atoi(fields["cpus"])
	if err != nil || cpus <= 0 {
		return "", 0, false
	}
	unit := "logical CPUs"
	if cpus == 1 {
		unit = "logical CPU"
	}
	text := fmt.Sprintf("This machine has %d %s", cpus, unit)
	if model := strings.TrimSpace(fields["model_name"]); model != "" {
		text += fmt.Sprintf(" (%s)", model)
	}
	if threads, err := strconv.Atoi(fields["threads_per_core"]); err == nil && threads > 1 {
		text += fmt.Sprintf(", %d physical cores with %d threads each", cpus/threads, threads)
	}
	return text + ".", ProbeReliability, true
}

// otherMount spots a path other than "/" in the question.
var otherMount = regexp.MustCompile(`(^|\s)(/[A-Za-z0-9_.-]+)+`)

func diskFree(ctx context.Context, s *Service, q domain.Question) (string, float64, bool) {
	if otherMount.MatchString(q.Text) {
		return "", 0, false
	}
	fields, ok := s.probe(ctx, "disk.root")
	if !ok {
		return "", 0, false
	}
	size, ok := parseBytes(fields, "size_bytes")
	if !ok {
		return "", 0, false
	}
	avail, ok := parseBytes(fields, "avail_bytes")
	if !ok {
		return "", 0, false
	}
	mount := fields["mount"]
	if mount == "" {
		mount = "/"
	}
	return fmt.Sprintf("The %s filesystem has %s free of %s (%s%% free).",
		mount, humanize.IBytes(avail), humanize.IBytes(size), fields["percent"]), ProbeReliability, true
}

func selfHealth(_ context.Context, s *Service, _ domain.Question) (string, float64, bool) {
	var b strings.Builder
	b.WriteString("hostq is running")
	if !s.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf(" (started %s)", humanize.RelTime(s.StartedAt, s.now(), "ago", "from now")))
	}
	b.WriteString(".")
	if s.Trust != nil {
		var parts []string
		for _, record := range s.Trust.Snapshot() {
			parts = append(parts, fmt.Sprintf("%s %.2f (level %d)", record.Actor, record.Score, record.Level()))
		}
		if len(parts) > 0 {
			b.WriteString(" Trust: ")
			b.WriteString(strings.Join(parts, ", "))
			b.WriteString(".")
		}
	}
	if s.Recipes != nil {
		b.WriteString(fmt.Sprintf(" Learned recipes: %d.", s.Recipes.Count()))
	}
	return b.String(), ProbeReliability, true
}

var (
	enableWords  = regexp.MustCompile(`(?i)\b(on|enable\w*|activate)\b`)
	disableWords = regexp.MustCompile(`(?i)\b(off|disable\w*|deactivate)\b`)
)

func debugToggle(_ context.Context, s *Service, q domain.Question) (string, float64, bool) {
	if s.Flags == nil {
		return "", 0, false
	}
	enable := enableWords.MatchString(q.Text)
	disable := disableWords.MatchString(q.Text)
	switch {
	case disable && !enable:
		if err := s.Flags.SetDebug(false); err != nil {
			return fmt.Sprintf("Could not disable verbose trace: %v.", err), ToggleFailedReliability, true
		}
		return "Verbose trace disabled.", ToggleReliability, true
	case enable && !disable && !isStatusQuestion(q.Text):
		if err := s.Flags.SetDebug(true); err != nil {
			return fmt.Sprintf("Could not enable verbose trace: %v.", err), ToggleFailedReliability, true
		}
		return "Verbose trace enabled.", ToggleReliability, true
	default:
		if s.Flags.DebugEnabled() {
			return "Verbose trace is on.", ToggleReliability, true
		}
		return "Verbose trace is off.", ToggleReliability, true
	}
}

var statusQuestion = regexp.MustCompile(`(?i)^\s*(is|are|was)\b|\bstatus\b|\?\s*$`)

func isStatusQuestion(text string) bool {
	return statusQuestion.MatchString(text)
}
