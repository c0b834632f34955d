package intent

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/doeshing/hostq/internal/domain"
)

type rule struct {
	intent  domain.Intent
	match   *regexp.Regexp
	exclude *regexp.Regexp
}

func (r rule) matches(text string) bool {
	if !r.match.MatchString(text) {
		return false
	}
	if r.exclude != nil && r.exclude.MatchString(text) {
		return false
	}
	return true
}

// debugObject is the flag being toggled: "debug", "verbose trace", "the
// tracing mode" and similar.
const debugObject = `(the\s+)?(debug|verbose|trac(e|ing))(\s+(mode|trace|tracing|output|logging))?`

// debugToggle needs a toggle verb or an on/off state attached to the flag
// itself. A question that merely mentions debugging is not a toggle.
var debugToggle = regexp.MustCompile(`(?i)` +
	`\b(turn|switch)\s+(on|off)\s+` + debugObject + `\b` +
	`|\b(turn|switch)\s+` + debugObject + `\s+(on|off)\b` +
	`|\b(enable|disable|activate|deactivate|toggle)\s+` + debugObject + `\b` +
	`|^\s*(is|are)\s+` + debugObject + `\s+(on|off|enabled|disabled|active)\b` +
	`|^\s*` + debugObject + `\s+(on|off|status)\s*[?.!]*\s*$`)

var usageWords = `\b(us(age|ed|ing)|consum\w*|leak\w*|process(es)?|swap|free|pressure|load|busy|utili[sz]ation|hog\w*|top)\b`

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		intent:  domain.IntentDebugToggle,
		match:   debugToggle,
		exclude: regexp.MustCompile(`(?i)\.service\b|\b(services?|daemons?|units?|process(es)?|why|for)\b`),
	},
	{
		intent: domain.IntentSelfHealth,
		match:  regexp.MustCompile(`(?i)\b(hostq|yourself|self[- ]?(check|health|test)|are you (ok|okay|alive|healthy|working|up))\b|\byour (own )?(health|status|uptime)\b`),
	},
	{
		intent:  domain.IntentMemoryTotal,
		match:   regexp.MustCompile(`(?i)\b(ram|memory|mem)\b`),
		exclude: regexp.MustCompile(`(?i)` + usageWords),
	},
	{
		intent:  domain.IntentCPUCores,
		match:   regexp.MustCompile(`(?i)\b(cores?|processors?|v?cpus?|threads?)\b`),
		exclude: regexp.MustCompile(`(?i)` + usageWords + `|\b(temp\w*|hot|slow)\b`),
	},
	{
		intent: domain.IntentDiskFree,
		match:  regexp.MustCompile(`(?i)\b(disk|disks|storage|filesystem|file system|drive|partition|space)\b`),
	},
	{
		intent: domain.IntentServiceHealth,
		match:  regexp.MustCompile(`(?i)\b(services?|daemons?|systemd|units?|journal|logs?|running|crash\w*|restart\w*|failed|failing)\b|\.service\b`),
	},
	{
		intent: domain.IntentResourceUsage,
		match:  regexp.MustCompile(`(?i)\b(load|usage|busy|utili[sz]ation|uptime|swap|memory|ram|cpu|slow|performance|hog\w*)\b`),
	},
	{
		intent: domain.IntentNetwork,
		match:  regexp.MustCompile(`(?i)\b(ip|ipv4|ipv6|network\w*|interfaces?|ethernet|wi-?fi|dns|route|gateway|address(es)?|nic)\b`),
	},
	{
		intent: domain.IntentConfiguration,
		match:  regexp.MustCompile(`(?i)\b(kernel|os|distro|distribution|version|release|hostname|config\w*|gpu|graphics|hardware|installed)\b`),
	},
}

var (
	unitSuffix = regexp.MustCompile(`(?i)\b([a-z0-9][a-z0-9@_.-]*)\.service\b`)
	unitBefore = regexp.MustCompile(`(?i)\b([a-z0-9][a-z0-9@_-]*)\s+(service|daemon|unit)\b`)
	unitAfter  = regexp.MustCompile(`(?i)\b(?:is|does|did|why|has)\s+([a-z0-9][a-z0-9@_-]*)\s+(?:running|up|down|failing|failed|crash\w*|restart\w*|active|dead|ok)\b`)
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "am": true,
	"do": true, "does": true, "did": true, "i": true, "me": true, "my": true,
	"we": true, "you": true, "it": true, "this": true, "that": true, "of": true,
	"on": true, "in": true, "to": true, "for": true, "and": true, "or": true,
	"what": true, "how": true, "much": true, "many": true, "have": true,
	"has": true, "there": true, "be": true, "can": true, "please": true,
	"tell": true, "show": true, "with": true, "any": true, "about": true,
	"machine": true, "box": true, "host": true, "server": true, "computer": true,
}

// unitStopWords keeps generic words from being read as a unit name.
var unitStopWords = map[string]bool{
	"the": true, "a": true, "my": true, "any": true, "which": true, "what": true,
	"each": true, "every": true, "this": true, "that": true, "some": true,
	"failed": true, "system": true, "systemd": true, "it": true, "everything": true,
}

// Classifier maps free text to an intent. It holds no state and is safe for
// concurrent use.
type Classifier struct{}

// NewClassifier returns the rule-based classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify never fails: unmatched text is unclassified.
func (c *Classifier) Classify(text string) domain.Intent {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return domain.IntentUnclassified
	}
	for _, r := range rules {
		if r.matches(normalized) {
			return r.intent
		}
	}
	return domain.IntentUnclassified
}

// Question builds the immutable classified question.
func (c *Classifier) Question(id, text string, mode domain.InteractionMode, at time.Time) domain.Question {
	intent := c.Classify(text)
	q := domain.Question{
		ID:         id,
		Text:       text,
		Intent:     intent,
		Tokens:     Tokenize(text),
		Mode:       mode,
		ReceivedAt: at,
	}
	if intent == domain.IntentServiceHealth {
		q.Subject = ExtractUnit(text)
	}
	return q
}

// Tokenize lower-cases the text and keeps alphanumeric words of two or more
// runes that are not stop words. Duplicates are dropped, order is kept.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// ExtractUnit finds a systemd unit named in the text, or returns "".
func ExtractUnit(text string) string {
	for _, re := range []*regexp.Regexp{unitSuffix, unitBefore, unitAfter} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		unit := strings.ToLower(m[1])
		if unitStopWords[unit] {
			continue
		}
		return unit
	}
	return ""
}
