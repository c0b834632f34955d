package ai

import (
	"context"
	"strings"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

const (
	heuristicConfidence = 0.6
	heuristicCeiling    = 0.6
)

// HeuristicBackend answers without a model: it gathers the intent's default
// probes and restates the evidence. Its scores never exceed 0.6, so its
// answers are never labelled green and never learned.
type HeuristicBackend struct{}

// NewHeuristicBackend returns the offline backend.
func NewHeuristicBackend() *HeuristicBackend {
	return &HeuristicBackend{}
}

func (h *HeuristicBackend) Name() string {
	return "heuristic"
}

// Plan requests the default probes the catalog offers until each has a
// result, then drafts.
func (h *HeuristicBackend) Plan(_ context.Context, req domain.PlanRequest) (domain.PlanResponse, error) {
	if missing := offered(req.Catalog, missingDefaults(req.Question, req.Evidence)); len(missing) > 0 {
		return domain.RequestProbes("default probes for "+string(req.Question.Intent), missing...), nil
	}
	successful := req.Evidence.Successful()
	if len(successful) == 0 {
		return domain.ProposeDraft("I could not gather any evidence about this on the host.", heuristicConfidence), nil
	}
	text := "Here is what the host reports:\n" + successful.Summary(500)
	return domain.ProposeDraft(text, heuristicConfidence, successful.ProbeIDs()...), nil
}

// Audit scores the draft by how much of the expected evidence exists.
func (h *HeuristicBackend) Audit(_ context.Context, req domain.AuditRequest) (domain.AuditResult, error) {
	successful := len(req.Evidence.Successful())
	if successful == 0 {
		return domain.AuditResult{
			Verdict: domain.VerdictRefuse,
			Scores:  domain.AuditScores{},
			Reason:  "no evidence was gathered",
		}, nil
	}
	evidence := heuristicCeiling * float64(successful) / float64(len(req.Evidence))
	coverage := heuristicCeiling
	if len(missingDefaults(req.Question, req.Evidence.Successful())) > 0 {
		coverage = heuristicCeiling - 0.2
	}
	return domain.AuditResult{
		Verdict: domain.VerdictApprove,
		Scores: domain.AuditScores{
			Evidence:  evidence,
			Reasoning: heuristicCeiling,
			Coverage:  coverage,
		},
		Reason: "restates gathered evidence",
	}, nil
}

// missingDefaults lists default probe refs with no result in evidence.
func missingDefaults(q domain.Question, evidence domain.Evidence) []string {
	var missing []string
	for _, ref := range q.DefaultProbes() {
		id, _ := domain.ParseProbeRef(ref)
		found := false
		for _, r := range evidence {
			if r.ProbeID == id || strings.HasPrefix(r.ProbeID, id+" ") {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, ref)
		}
	}
	return missing
}

// offered keeps the refs whose probe id is in the catalog.
func offered(catalog []domain.ProbeSpec, refs []string) []string {
	var kept []string
	for _, ref := range refs {
		id, _ := domain.ParseProbeRef(ref)
		for _, spec := range catalog {
			if spec.ID == id {
				kept = append(kept, ref)
				break
			}
		}
	}
	return kept
}

var _ ports.ComputeBackend = (*HeuristicBackend)(nil)
