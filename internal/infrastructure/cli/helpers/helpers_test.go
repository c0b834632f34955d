package helpers

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/hostq/internal/domain"
)

func TestSummarizeAnswers(t *testing.T) {
	records := []domain.AnswerRecord{
		{Origin: domain.OriginFastPath, Label: domain.LabelGreen, Reliability: 0.9, Elapsed: 10 * time.Millisecond},
		{Origin: domain.OriginFastPath, Label: domain.LabelGreen, Reliability: 0.9, Elapsed: 20 * time.Millisecond},
		{Origin: domain.OriginCompute, Label: domain.LabelYellow, Reliability: 0.7, Elapsed: 3 * time.Second},
		{Origin: domain.OriginDegraded, Label: domain.LabelRed, Reliability: 0.3, Elapsed: 6 * time.Second},
	}

	got := SummarizeAnswers(records)
	want := AnswerStats{
		Total:           4,
		UsableRate:      0.75,
		MeanReliability: 0.7,
		P50:             20 * time.Millisecond,
		P95:             6 * time.Second,
		ByOrigin:        []Tally{{"fast-path", 2}, {"compute", 1}, {"degraded", 1}},
		ByLabel:         []Tally{{"green", 2}, {"red", 1}, {"yellow", 1}},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b float64) bool { return a-b < 1e-9 && b-a < 1e-9 })); diff != "" {
		t.Fatalf("SummarizeAnswers mismatch (-want +got):\n%s", diff)
	}

	if empty := SummarizeAnswers(nil); empty.Total != 0 || empty.ByOrigin != nil {
		t.Fatalf("SummarizeAnswers(nil) = %+v", empty)
	}
}

func TestTraverseNestedMap(t *testing.T) {
	data := map[string]interface{}{
		"budget": map[string]interface{}{"global_ms": 15000},
		"models": []interface{}{
			map[string]interface{}{"name": "local", "model_id": "llama3.1:8b"},
		},
	}

	tests := []struct {
		key   string
		want  interface{}
		found bool
	}{
		{"budget.global_ms", 15000, true},
		{"models.local.model_id", "llama3.1:8b", true},
		{"models.remote", nil, false},
		{"budget.global_ms.deeper", nil, false},
		{" .budget. ", data["budget"], true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, found := TraverseNestedMap(data, SplitKeyPath(tt.key))
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
