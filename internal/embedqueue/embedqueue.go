// Package embedqueue bounds how many embedding calls run against a
// provider.Embedder at once, so a burst of fact/observation writes can't
// overwhelm a rate-limited external API.
package embedqueue

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/kittclouds/memoryvcs/pkg/orcherr"
	"github.com/kittclouds/memoryvcs/pkg/provider"
)

// DefaultInflight is the default number of concurrent embedding calls.
const DefaultInflight = 16

// Queue wraps a provider.Embedder with a concurrency cap.
type Queue struct {
	embedder provider.Embedder
	sem      *semaphore.Weighted
}

// New builds a Queue around embedder, capped at maxInflight concurrent
// calls. maxInflight <= 0 uses DefaultInflight.
func New(embedder provider.Embedder, maxInflight int) *Queue {
	if maxInflight <= 0 {
		maxInflight = DefaultInflight
	}
	return &Queue{embedder: embedder, sem: semaphore.NewWeighted(int64(maxInflight))}
}

// Embed acquires a slot, calls the underlying embedder, and releases the
// slot before returning. A cancelled ctx returns before ever calling the
// embedder.
func (q *Queue) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return nil, orcherr.Wrap(orcherr.Cancelled, err, "embedqueue: acquire slot")
	}
	defer q.sem.Release(1)

	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Unavailable, err, "embedqueue: embed")
	}
	return vec, nil
}

// Dimensions delegates to the underlying embedder.
func (q *Queue) Dimensions() int {
	return q.embedder.Dimensions()
}

var _ provider.Embedder = (*Queue)(nil)
