package mcp

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fentz26/switchboard/internal/analyzer"
	"github.com/fentz26/switchboard/internal/models"
	"go.uber.org/zap"
)

// Scoring constants.
const (
	DefaultThreshold = 0.7
	capabilityScore  = 0.6
	keywordBonus     = 0.2
	maxBoost         = 0.2
	maxScore         = 1.0
)

// Booster raises a worker's score from historical co-occurrence.
type Booster interface {
	Boost(ctx context.Context, worker string, base float64, fingerprint string) (float64, error)
}

// Selection is the partitioned result of scoring the registry.
type Selection struct {
	Selected  []models.WorkerMatch `json:"selected"`
	Rejected  []models.WorkerMatch `json:"rejected"`
	Threshold float64              `json:"threshold"`
}

// SelectedNames returns the names of the selected workers in rank order.
func (s Selection) SelectedNames() []string {
	names := make([]string, len(s.Selected))
	for i, m := range s.Selected {
		names[i] = m.Name
	}
	return names
}

// Selector scores registry entries against a task signal.
type Selector struct {
	registry *Registry
	booster  Booster
	logger   *zap.Logger
}

// NewSelector creates a selector over reg. booster may be nil.
func NewSelector(reg *Registry, booster Booster, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		registry: reg,
		booster:  booster,
		logger:   logger,
	}
}

// Select scores every registry entry, drops zero scores and partitions the
// rest at threshold. A non-positive threshold means DefaultThreshold.
func (s *Selector) Select(ctx context.Context, signal models.TaskSignal, threshold float64) Selection {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	fingerprint := analyzer.Fingerprint(signal)

	result := Selection{
		Selected:  []models.WorkerMatch{},
		Rejected:  []models.WorkerMatch{},
		Threshold: threshold,
	}

	for _, d := range s.registry.List() {
		score, reasons := baseScore(d, signal)
		if score > 0 && s.booster != nil {
			boosted := s.boost(ctx, d.Name, score, fingerprint)
			if boosted > score {
				reasons = append(reasons, fmt.Sprintf("history boost +%.2f", boosted-score))
				score = boosted
			}
		}
		if score <= 0 {
			continue
		}

		match := models.WorkerMatch{
			Name:       d.Name,
			Confidence: score,
			Rationale:  strings.Join(reasons, "; "),
		}
		if score >= threshold {
			result.Selected = append(result.Selected, match)
		} else {
			result.Rejected = append(result.Rejected, match)
		}
	}

	byScore := func(ms []models.WorkerMatch) func(i, j int) bool {
		return func(i, j int) bool { return ms[i].Confidence > ms[j].Confidence }
	}
	sort.SliceStable(result.Selected, byScore(result.Selected))
	sort.SliceStable(result.Rejected, byScore(result.Rejected))

	return result
}

// boost consults the booster and clamps its answer to [base, base+maxBoost].
func (s *Selector) boost(ctx context.Context, worker string, base float64, fingerprint string) float64 {
	boosted, err := s.booster.Boost(ctx, worker, base, fingerprint)
	if err != nil {
		s.logger.Debug("confidence boost failed",
			zap.String("worker", worker),
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return base
	}
	if math.IsNaN(boosted) {
		return base
	}
	upper := math.Min(base+maxBoost, maxScore)
	return math.Max(base, math.Min(boosted, upper))
}

func baseScore(d models.WorkerDescriptor, signal models.TaskSignal) (float64, []string) {
	var reasons []string
	score := 0.0

	var shared []string
	for _, c := range d.Capabilities {
		if signal.HasService(c) {
			shared = append(shared, c)
		}
	}
	if len(shared) > 0 {
		score += capabilityScore
		sort.Strings(shared)
		reasons = append(reasons, "capabilities: "+strings.Join(shared, ", "))
	}

	if keywordHit(d.Keywords, signal.Services) {
		score += keywordBonus
		reasons = append(reasons, "keyword hint")
	}

	return math.Min(score, maxScore), reasons
}

func keywordHit(keywords, services []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, svc := range services {
			if strings.Contains(svc, kw) {
				return true
			}
		}
	}
	return false
}
