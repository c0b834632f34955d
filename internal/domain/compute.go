package domain

import "fmt"

// PlanKind tags the closed set of drafting replies.
type PlanKind string

const (
	PlanRequestProbes PlanKind = "request_probes"
	PlanDraft         PlanKind = "draft"
)

// Draft is a candidate answer with self-reported confidence.
type Draft struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Citations  []string `json:"citations,omitempty"`
}

// PlanResponse is either a probe request or a draft, never both.
type PlanResponse struct {
	Kind   PlanKind
	Probes []string
	Reason string
	Draft  Draft
}

// RequestProbes builds the probe-request variant.
func RequestProbes(reason string, probes ...string) PlanResponse {
	return PlanResponse{Kind: PlanRequestProbes, Probes: probes, Reason: reason}
}

// ProposeDraft builds the draft variant.
func ProposeDraft(text string, confidence float64, citations ...string) PlanResponse {
	return PlanResponse{Kind: PlanDraft, Draft: Draft{Text: text, Confidence: confidence, Citations: citations}}
}

// Validate rejects variants that carry no usable payload.
func (p PlanResponse) Validate() error {
	switch p.Kind {
	case PlanRequestProbes:
		if len(p.Probes) == 0 {
			return fmt.Errorf("%w: probe request without probes", ErrProtocol)
		}
	case PlanDraft:
		if p.Draft.Text == "" {
			return fmt.Errorf("%w: draft without text", ErrProtocol)
		}
		if p.Draft.Confidence < 0 || p.Draft.Confidence > 1 {
			return fmt.Errorf("%w: draft confidence %.2f out of range", ErrProtocol, p.Draft.Confidence)
		}
	default:
		return fmt.Errorf("%w: unknown plan kind %q", ErrProtocol, p.Kind)
	}
	return nil
}

// Verdict is the closed set of audit outcomes.
type Verdict string

const (
	VerdictApprove           Verdict = "approve"
	VerdictFixAndAccept      Verdict = "fix_and_accept"
	VerdictNeedsMoreEvidence Verdict = "needs_more_evidence"
	VerdictRefuse            Verdict = "refuse"
)

// ParseVerdict rejects anything outside the known variants.
func ParseVerdict(raw string) (Verdict, error) {
	switch Verdict(raw) {
	case VerdictApprove, VerdictFixAndAccept, VerdictNeedsMoreEvidence, VerdictRefuse:
		return Verdict(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown verdict %q", ErrProtocol, raw)
	}
}

// AuditScores are the three sub-scores the auditor assigns.
type AuditScores struct {
	Evidence  float64 `json:"evidence"`
	Reasoning float64 `json:"reasoning"`
	Coverage  float64 `json:"coverage"`
}

// Overall is the minimum sub-score, so one strong score cannot mask a weak one.
func (s AuditScores) Overall() float64 {
	m := s.Evidence
	if s.Reasoning < m {
		m = s.Reasoning
	}
	if s.Coverage < m {
		m = s.Coverage
	}
	return clampUnit(m)
}

// AuditResult is the auditor's verdict on a draft.
type AuditResult struct {
	Verdict       Verdict
	Scores        AuditScores
	CorrectedText string
	Probes        []string
	Reason        string
}

// Validate rejects verdicts missing their required payload.
func (a AuditResult) Validate() error {
	if _, err := ParseVerdict(string(a.Verdict)); err != nil {
		return err
	}
	if a.Verdict == VerdictFixAndAccept && a.CorrectedText == "" {
		return fmt.Errorf("%w: fix_and_accept without corrected text", ErrProtocol)
	}
	return nil
}

// PlanRequest is the drafting actor's input.
type PlanRequest struct {
	Question  Question
	Evidence  Evidence
	Catalog   []ProbeSpec
	Host      HostSnapshot
	Iteration int
	Feedback  string
}

// AuditRequest is the auditing actor's input.
type AuditRequest struct {
	Question Question
	Draft    Draft
	Evidence Evidence
	Catalog  []ProbeSpec
	Host     HostSnapshot
}
