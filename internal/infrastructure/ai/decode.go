package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/doeshing/hostq/internal/domain"
)

type planReply struct {
	Action     string            `json:"action"`
	Probes     []json.RawMessage `json:"probes"`
	Reason     string            `json:"reason"`
	Text       string            `json:"text"`
	Confidence *float64          `json:"confidence"`
	Citations  []string          `json:"citations"`
}

type auditReply struct {
	Verdict string `json:"verdict"`
	Scores  *struct {
		Evidence  *float64 `json:"evidence"`
		Reasoning *float64 `json:"reasoning"`
		Coverage  *float64 `json:"coverage"`
	} `json:"scores"`
	FixedAnswer string            `json:"fixed_answer"`
	Probes      []json.RawMessage `json:"probes"`
	Reason      string            `json:"reason"`
}

// decodePlan maps a drafting reply onto the closed PlanResponse variants.
func decodePlan(content string) (domain.PlanResponse, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return domain.PlanResponse{}, err
	}
	var reply planReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return domain.PlanResponse{}, fmt.Errorf("%w: plan reply: %v", domain.ErrProtocol, err)
	}

	var resp domain.PlanResponse
	switch strings.ToLower(strings.TrimSpace(reply.Action)) {
	case string(domain.PlanRequestProbes):
		probes, err := decodeProbeRefs(reply.Probes)
		if err != nil {
			return domain.PlanResponse{}, err
		}
		resp = domain.RequestProbes(reply.Reason, probes...)
	case string(domain.PlanDraft):
		if reply.Confidence == nil {
			return domain.PlanResponse{}, fmt.Errorf("%w: draft without confidence", domain.ErrProtocol)
		}
		confidence, err := unitScore("confidence", *reply.Confidence)
		if err != nil {
			return domain.PlanResponse{}, err
		}
		resp = domain.ProposeDraft(strings.TrimSpace(reply.Text), confidence, reply.Citations...)
	default:
		return domain.PlanResponse{}, fmt.Errorf("%w: unknown action %q", domain.ErrProtocol, reply.Action)
	}
	if err := resp.Validate(); err != nil {
		return domain.PlanResponse{}, err
	}
	return resp, nil
}

// decodeAudit maps an auditing reply onto AuditResult.
func decodeAudit(content string) (domain.AuditResult, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return domain.AuditResult{}, err
	}
	var reply auditReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return domain.AuditResult{}, fmt.Errorf("%w: audit reply: %v", domain.ErrProtocol, err)
	}

	verdict, err := domain.ParseVerdict(strings.ToLower(strings.TrimSpace(reply.Verdict)))
	if err != nil {
		return domain.AuditResult{}, err
	}
	if reply.Scores == nil || reply.Scores.Evidence == nil || reply.Scores.Reasoning == nil || reply.Scores.Coverage == nil {
		return domain.AuditResult{}, fmt.Errorf("%w: audit reply missing scores", domain.ErrProtocol)
	}
	var scores domain.AuditScores
	if scores.Evidence, err = unitScore("evidence", *reply.Scores.Evidence); err != nil {
		return domain.AuditResult{}, err
	}
	if scores.Reasoning, err = unitScore("reasoning", *reply.Scores.Reasoning); err != nil {
		return domain.AuditResult{}, err
	}
	if scores.Coverage, err = unitScore("coverage", *reply.Scores.Coverage); err != nil {
		return domain.AuditResult{}, err
	}
	probes, err := decodeProbeRefs(reply.Probes)
	if err != nil {
		return domain.AuditResult{}, err
	}

	result := domain.AuditResult{
		Verdict:       verdict,
		Scores:        scores,
		CorrectedText: strings.TrimSpace(reply.FixedAnswer),
		Probes:        probes,
		Reason:        reply.Reason,
	}
	if err := result.Validate(); err != nil {
		return domain.AuditResult{}, err
	}
	return result, nil
}

// unitScore accepts [0,1] and reads (1,100] as a percentage.
func unitScore(name string, v float64) (float64, error) {
	switch {
	case v >= 0 && v <= 1:
		return v, nil
	case v > 1 && v <= 100:
		return v / 100, nil
	default:
		return 0, fmt.Errorf("%w: %s %.2f out of range", domain.ErrProtocol, name, v)
	}
}

// decodeProbeRefs accepts "id key=value" strings or {"id":..,"params":{..}} objects.
func decodeProbeRefs(items []json.RawMessage) ([]string, error) {
	refs := make([]string, 0, len(items))
	for _, item := range items {
		var ref string
		if err := json.Unmarshal(item, &ref); err == nil {
			if ref = strings.TrimSpace(ref); ref != "" {
				refs = append(refs, ref)
			}
			continue
		}
		var obj struct {
			ID     string            `json:"id"`
			Params map[string]string `json:"params"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.ID == "" {
			return nil, fmt.Errorf("%w: unreadable probe reference %s", domain.ErrProtocol, string(item))
		}
		refs = append(refs, domain.FormatProbeRef(obj.ID, obj.Params))
	}
	return refs, nil
}

// extractJSON finds the JSON object in a reply: a fenced block first, then
// the first balanced {...}.
func extractJSON(content string) (string, error) {
	text := strings.TrimSpace(content)
	if block := extractCodeBlock(text); block != "" {
		text = block
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return "", fmt.Errorf("%w: reply contains no JSON object", domain.ErrProtocol)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unterminated JSON object", domain.ErrProtocol)
}

// extractCodeBlock returns the body of the first ``` fenced block, without
// its language marker.
func extractCodeBlock(content string) string {
	start := strings.Index(content, "```")
	if start == -1 {
		return ""
	}
	suffix := content[start+3:]
	end := strings.Index(suffix, "```")
	if end == -1 {
		return ""
	}
	block := suffix[:end]
	if nl := strings.Index(block, "\n"); nl >= 0 && !strings.Contains(block[:nl], "{") {
		block = block[nl+1:]
	}
	return strings.TrimSpace(block)
}
