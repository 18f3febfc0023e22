// Package scoring implements ScoringEngine: recording bounded numeric
// evaluations of any target and summarizing them per dimension.
package scoring

import (
	"context"
	"time"

	"github.com/kittclouds/memoryvcs/internal/ids"
	"github.com/kittclouds/memoryvcs/internal/storage"
	"github.com/kittclouds/memoryvcs/pkg/orcherr"
)

// Engine records and summarizes scores.
type Engine struct {
	store storage.Store
}

// New builds an Engine.
func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Record stores a score. value must be in [0,1].
func (e *Engine) Record(ctx context.Context, targetType, targetID, scorer, dimension string, value float64, explanation string) (*storage.Score, error) {
	if value < 0 || value > 1 {
		return nil, orcherr.New(orcherr.InvalidArgument, "scoring: value %f out of [0,1]", value)
	}
	if targetType == "" || targetID == "" || dimension == "" {
		return nil, orcherr.New(orcherr.InvalidArgument, "scoring: target_type, target_id and dimension are required")
	}
	s := &storage.Score{
		ID:          ids.New(),
		TargetType:  targetType,
		TargetID:    targetID,
		Scorer:      scorer,
		Dimension:   dimension,
		Value:       value,
		Explanation: explanation,
		CreatedAt:   time.Now(),
	}
	if err := e.store.CreateScore(ctx, s); err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "scoring: record")
	}
	return s, nil
}

// DimensionSummary aggregates the scores recorded for one dimension.
type DimensionSummary struct {
	Avg, Min, Max float64
	Count         int
}

// Summary groups every score recorded against (targetType, targetID) by
// dimension and computes {avg, min, max, count} for each.
func (e *Engine) Summary(ctx context.Context, targetType, targetID string) (map[string]DimensionSummary, error) {
	scores, err := e.store.ListScores(ctx, targetType, targetID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Internal, err, "scoring: list")
	}

	grouped := make(map[string][]float64)
	for _, s := range scores {
		grouped[s.Dimension] = append(grouped[s.Dimension], s.Value)
	}

	out := make(map[string]DimensionSummary, len(grouped))
	for dim, values := range grouped {
		sum := DimensionSummary{Min: values[0], Max: values[0]}
		var total float64
		for _, v := range values {
			total += v
			if v < sum.Min {
				sum.Min = v
			}
			if v > sum.Max {
				sum.Max = v
			}
		}
		sum.Count = len(values)
		sum.Avg = total / float64(len(values))
		out[dim] = sum
	}
	return out, nil
}
