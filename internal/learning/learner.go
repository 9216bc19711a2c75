// Package learning raises selection scores for workers that were picked for
// similar tasks before.
package learning

import (
	"context"
	"math"
	"sort"

	"github.com/fentz26/switchboard/internal/models"
)

const (
	// maxBoost caps how much history can add to a score.
	maxBoost = 0.2
	// historyWindow is how many past successful setups are consulted.
	historyWindow = 100
)

// History returns past successful selections for a fingerprint.
type History interface {
	SuccessfulSelections(ctx context.Context, fingerprint string, limit int) ([][]string, error)
}

// Learner implements the selector's Booster over setup history.
type Learner struct {
	history History
}

// NewLearner creates a learner reading from history.
func NewLearner(h History) *Learner {
	return &Learner{history: h}
}

// Boost adds up to 0.2 in proportion to how often worker appeared in past
// successful selections for fingerprint. It never lowers base.
func (l *Learner) Boost(ctx context.Context, worker string, base float64, fingerprint string) (float64, error) {
	patterns, err := l.history.SuccessfulSelections(ctx, fingerprint, historyWindow)
	if err != nil {
		return base, err
	}
	if len(patterns) == 0 {
		return base, nil
	}

	uses := 0
	for _, selected := range patterns {
		if contains(selected, worker) {
			uses++
		}
	}
	if uses == 0 {
		return base, nil
	}

	boost := math.Min(maxBoost, float64(uses)/float64(len(patterns))*maxBoost)
	return math.Min(1.0, base+boost), nil
}

// Recommendations returns up to limit workers often chosen for fingerprint
// that are not already in current, most frequent first.
func (l *Learner) Recommendations(ctx context.Context, fingerprint string, current []string, limit int) ([]models.WorkerMatch, error) {
	patterns, err := l.history.SuccessfulSelections(ctx, fingerprint, historyWindow)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	counts := map[string]int{}
	for _, selected := range patterns {
		for _, name := range selected {
			if !contains(current, name) {
				counts[name]++
			}
		}
	}

	recs := make([]models.WorkerMatch, 0, len(counts))
	for name, n := range counts {
		recs = append(recs, models.WorkerMatch{
			Name:       name,
			Confidence: float64(n) / float64(len(patterns)),
			Rationale:  "selected in similar past setups",
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		return recs[i].Name < recs[j].Name
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
