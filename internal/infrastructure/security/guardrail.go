package security

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/hostq/assets"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/filesystem"
	"github.com/doeshing/hostq/internal/ports"
)

// shellMetacharacters never appear in an accepted probe parameter.
const shellMetacharacters = ";&|$`<>(){}[]*?!~\\'\"\n\r"

// Guardrail implements the SecurityService port.
type Guardrail struct {
	patterns []compiledPattern
	enabled  bool
}

type compiledPattern struct {
	re   *regexp.Regexp
	rule DangerPattern
}

// DangerPattern describes a regex-based guardrail rule.
type DangerPattern struct {
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
	Action  string `yaml:"action"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules struct {
		DangerPatterns []DangerPattern `yaml:"danger_patterns"`
	} `yaml:"rules"`
}

// NewGuardrail loads guardrail rules from disk (or the embedded defaults when missing).
// A disabled guardrail still validates parameters; only danger patterns are skipped.
func NewGuardrail(path string, enabled bool) (*Guardrail, error) {
	rules, err := loadRules(path)
	if err != nil {
		return nil, err
	}

	var compiled []compiledPattern
	for _, pattern := range rules.Rules.DangerPatterns {
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", pattern.Pattern, err)
		}
		compiled = append(compiled, compiledPattern{
			re:   re,
			rule: pattern,
		})
	}

	return &Guardrail{patterns: compiled, enabled: enabled}, nil
}

// ValidateParam implements ports.SecurityService.
func (g *Guardrail) ValidateParam(name, value string) error {
	switch {
	case len(value) > domain.MaxParamBytes:
		return fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidParameter, name, domain.MaxParamBytes)
	case strings.ContainsRune(value, 0):
		return fmt.Errorf("%w: %s contains a NUL byte", domain.ErrInvalidParameter, name)
	case strings.Contains(value, ".."):
		return fmt.Errorf("%w: %s contains a path traversal sequence", domain.ErrInvalidParameter, name)
	case strings.ContainsAny(value, shellMetacharacters):
		return fmt.Errorf("%w: %s contains shell metacharacters", domain.ErrInvalidParameter, name)
	case strings.HasPrefix(value, "-"):
		return fmt.Errorf("%w: %s must not start with '-'", domain.ErrInvalidParameter, name)
	}
	return nil
}

// Evaluate implements ports.SecurityService.
func (g *Guardrail) Evaluate(argv []string) (domain.RiskAssessment, error) {
	if g == nil {
		return domain.RiskAssessment{}, errors.New("guardrail nil")
	}
	assessment := domain.RiskAssessment{
		Level:  domain.RiskSafe,
		Action: domain.ActionAllow,
	}
	if !g.enabled {
		return assessment, nil
	}
	command := strings.Join(argv, " ")
	highest := domain.RiskSafe
	for _, pattern := range g.patterns {
		if pattern.re.MatchString(command) {
			ruleLevel := parseRiskLevel(pattern.rule.Level)
			if moreSevere(ruleLevel, highest) {
				highest = ruleLevel
				assessment.Level = ruleLevel
				assessment.Action = parseAction(pattern.rule.Action, ruleLevel)
			}
			assessment.Reasons = append(assessment.Reasons, pattern.rule.Message)
			assessment.MatchedRules = append(assessment.MatchedRules, pattern.rule.Pattern)
		}
	}
	return assessment, nil
}

// RuleCount reports how many danger patterns are active.
func (g *Guardrail) RuleCount() int {
	return len(g.patterns)
}

func loadRules(path string) (RulesFile, error) {
	var rules RulesFile
	data, err := os.ReadFile(filesystem.ExpandPath(path))
	if path == "" || err != nil {
		data = assets.DefaultGuardrailYAML
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, fmt.Errorf("parse guardrail rules: %w", err)
	}
	if len(rules.Rules.DangerPatterns) == 0 {
		if err := yaml.Unmarshal(assets.DefaultGuardrailYAML, &rules); err != nil {
			return RulesFile{}, fmt.Errorf("parse default guardrail rules: %w", err)
		}
	}
	return rules, nil
}

func parseRiskLevel(value string) domain.RiskLevel {
	switch strings.ToLower(value) {
	case "low":
		return domain.RiskLow
	case "medium":
		return domain.RiskMedium
	case "high":
		return domain.RiskHigh
	case "critical":
		return domain.RiskCritical
	default:
		return domain.RiskSafe
	}
}

// parseAction maps rule actions; probes cannot be confirmed interactively so
// anything above medium blocks.
func parseAction(value string, fallback domain.RiskLevel) domain.GuardrailAction {
	switch strings.ToLower(value) {
	case "allow":
		return domain.ActionAllow
	case "warn":
		return domain.ActionWarn
	case "block":
		return domain.ActionBlock
	default:
		if fallback == domain.RiskSafe || fallback == domain.RiskLow {
			return domain.ActionWarn
		}
		return domain.ActionBlock
	}
}

func moreSevere(next domain.RiskLevel, current domain.RiskLevel) bool {
	order := map[domain.RiskLevel]int{
		domain.RiskSafe:     0,
		domain.RiskLow:      1,
		domain.RiskMedium:   2,
		domain.RiskHigh:     3,
		domain.RiskCritical: 4,
	}
	return order[next] > order[current]
}

var _ ports.SecurityService = (*Guardrail)(nil)
