package trace

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/hostq/internal/domain"
)

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder()
	r.Enter(domain.StageFastPath)
	r.Tier("fast-path", "miss", 3*time.Millisecond)
	r.Enter(domain.StageProbes)
	r.AddEvidence(
		domain.ProbeResult{ProbeID: "mem.info", Success: true},
		domain.ProbeResult{ProbeID: "system.load", Success: false},
	)
	r.SetIterations(2)
	r.SetPartial("draft text")

	if got := r.Stage(); got != domain.StageProbes {
		t.Fatalf("Stage() = %q, want %q", got, domain.StageProbes)
	}
	if got := r.Partial(); got != "draft text" {
		t.Fatalf("Partial() = %q", got)
	}

	want := &domain.Trace{
		Tiers:      []domain.TierTrace{{Tier: "fast-path", Outcome: "miss", Duration: 3 * time.Millisecond}},
		Probes:     []string{"mem.info"},
		Iterations: 2,
		SoftHints:  []string{"drafting crossed its soft ceiling"},
	}
	got := r.Snapshot([]string{"drafting crossed its soft ceiling"})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	r := NewRecorder()
	r.Tier("cache", "hit", time.Millisecond)
	snap := r.Snapshot(nil)
	r.Tier("drafting", "draft", time.Millisecond)

	if len(snap.Tiers) != 1 {
		t.Fatalf("snapshot changed after later Tier call: %+v", snap.Tiers)
	}
	if len(r.Evidence()) != 0 {
		t.Fatalf("Evidence() = %v, want empty", r.Evidence())
	}
}
