package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/doeshing/hostq/internal/domain"
)

const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
)

// ColorEnabled reports whether out is a terminal that should get ANSI colours.
func ColorEnabled(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RenderAnswer prints the answer text followed by a one-line reliability footer.
func RenderAnswer(out io.Writer, answer domain.Answer, color bool) {
	fmt.Fprintln(out, answer.Text)
	fmt.Fprintln(out)

	label := "[" + strings.ToUpper(string(answer.Label)) + "]"
	if color {
		label = labelColor(answer.Label) + label + ansiReset
	}
	footer := fmt.Sprintf("%s reliability %.2f | %s | %s", label, answer.Reliability, answer.Origin, roundElapsed(answer.Elapsed))
	if answer.Degradation != "" {
		footer += " | degraded: " + answer.Degradation
	}
	fmt.Fprintln(out, footer)

	if answer.Trace != nil {
		renderTrace(out, *answer.Trace, color)
	}
}

// RenderJSON prints the full answer envelope.
func RenderJSON(out io.Writer, answer domain.Answer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(answer)
}

func renderTrace(out io.Writer, trace domain.Trace, color bool) {
	prefix, suffix := "", ""
	if color {
		prefix, suffix = ansiDim, ansiReset
	}
	fmt.Fprintf(out, "%strace: %d iteration(s)\n", prefix, trace.Iterations)
	for _, tier := range trace.Tiers {
		fmt.Fprintf(out, "  %-10s %-12s %s\n", tier.Tier, tier.Outcome, roundElapsed(tier.Duration))
	}
	if len(trace.Probes) > 0 {
		fmt.Fprintf(out, "  probes: %s\n", strings.Join(trace.Probes, ", "))
	}
	for _, hint := range trace.SoftHints {
		fmt.Fprintf(out, "  hint: %s\n", hint)
	}
	fmt.Fprint(out, suffix)
}

func labelColor(label domain.Label) string {
	switch label {
	case domain.LabelGreen:
		return ansiGreen
	case domain.LabelYellow:
		return ansiYellow
	default:
		return ansiRed
	}
}

func roundElapsed(d time.Duration) time.Duration {
	if d > time.Second {
		return d.Round(10 * time.Millisecond)
	}
	return d.Round(time.Millisecond)
}
