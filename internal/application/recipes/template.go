package recipes

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/doeshing/hostq/internal/domain"
)

// minFieldValueLen keeps one-character values such as "1" from turning every
// digit of an answer into a placeholder.
const minFieldValueLen = 2

// DeriveTemplate replaces probe field values found in the answer text with
// {field} placeholders. Only whole values bounded by non-alphanumeric runes are
// replaced and longer values win over their substrings.
func DeriveTemplate(text string, fields map[string]string) string {
	type candidate struct {
		key   string
		value string
	}
	candidates := make([]candidate, 0, len(fields))
	for key, value := range fields {
		value = strings.TrimSpace(value)
		if len(value) < minFieldValueLen {
			continue
		}
		candidates = append(candidates, candidate{key: key, value: value})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].value) != len(candidates[j].value) {
			return len(candidates[i].value) > len(candidates[j].value)
		}
		return candidates[i].key < candidates[j].key
	})

	template := text
	for _, c := range candidates {
		template = replaceBounded(template, c.value, "{"+c.key+"}")
	}
	return template
}

func replaceBounded(text, value, placeholder string) string {
	var b strings.Builder
	for {
		idx := indexBounded(text, value)
		if idx < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:idx])
		b.WriteString(placeholder)
		text = text[idx+len(value):]
	}
}

func indexBounded(text, value string) int {
	offset := 0
	for {
		idx := strings.Index(text[offset:], value)
		if idx < 0 {
			return -1
		}
		start := offset + idx
		end := start + len(value)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return start
		}
		offset = start + 1
	}
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, size := utf8.DecodeLastRuneInString(text[:idx])
	if r == '.' && idx-size > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:idx-size])
		return !unicode.IsDigit(prev)
	}
	return !isWordRune(r) && r != '{'
}

func boundaryAfter(text string, idx int) bool {
	if idx >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	if r == '.' && idx+1 < len(text) {
		next, _ := utf8.DecodeRuneInString(text[idx+1:])
		return !unicode.IsDigit(next)
	}
	return !isWordRune(r) && r != '}'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// ErrUntemplated is returned by Learn when an answer backed by probes repeats
// none of their values, so a replay could only echo the learning-time text.
var ErrUntemplated = errors.New("answer repeats no probe value")

// Learn builds the recipe admitted from a compute answer.
func Learn(id string, q domain.Question, text string, reliability float64, evidence domain.Evidence, probeRefs []string, now time.Time) (domain.Recipe, error) {
	recipe := domain.Recipe{
		ID:          id,
		Intent:      q.Intent,
		Tokens:      append([]string(nil), q.Tokens...),
		Probes:      append([]string(nil), probeRefs...),
		Template:    DeriveTemplate(text, evidence.Fields()),
		Reliability: reliability,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	if len(recipe.Probes) > 0 && len(recipe.Placeholders()) == 0 {
		return domain.Recipe{}, ErrUntemplated
	}
	return recipe, nil
}
