package helpers

import (
	"sort"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// Tally is one bucket of a frequency count.
type Tally struct {
	Key   string
	Count int
}

// AnswerStats summarizes a slice of history rows.
type AnswerStats struct {
	Total           int
	UsableRate      float64
	MeanReliability float64
	P50             time.Duration
	P95             time.Duration
	ByOrigin        []Tally
	ByLabel         []Tally
}

// SummarizeAnswers computes counts and latency percentiles over records.
func SummarizeAnswers(records []domain.AnswerRecord) AnswerStats {
	stats := AnswerStats{Total: len(records)}
	if len(records) == 0 {
		return stats
	}

	origins := make(map[string]int)
	labels := make(map[string]int)
	elapsed := make([]time.Duration, 0, len(records))
	usable := 0
	var sum float64
	for _, rec := range records {
		origins[string(rec.Origin)]++
		labels[string(rec.Label)]++
		elapsed = append(elapsed, rec.Elapsed)
		sum += rec.Reliability
		if rec.Label == domain.LabelGreen || rec.Label == domain.LabelYellow {
			usable++
		}
	}

	stats.UsableRate = float64(usable) / float64(len(records))
	stats.MeanReliability = sum / float64(len(records))
	sort.Slice(elapsed, func(i, j int) bool { return elapsed[i] < elapsed[j] })
	stats.P50 = percentile(elapsed, 0.50)
	stats.P95 = percentile(elapsed, 0.95)
	stats.ByOrigin = sortTallies(origins)
	stats.ByLabel = sortTallies(labels)
	return stats
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted)) + 0.5)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// sortTallies orders by count, then key, so output is stable.
func sortTallies(counts map[string]int) []Tally {
	tallies := make([]Tally, 0, len(counts))
	for key, count := range counts {
		tallies = append(tallies, Tally{Key: key, Count: count})
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].Count != tallies[j].Count {
			return tallies[i].Count > tallies[j].Count
		}
		return tallies[i].Key < tallies[j].Key
	})
	return tallies
}
