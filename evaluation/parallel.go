package evaluation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

// parallelBackend partitions the candidate features over a pool of workers.
// Each worker owns the counters and scores of its features, and visits
// samples in the same order as the host backend, so both produce identical
// results.
type parallelBackend struct {
	workers int
}

func (b *parallelBackend) Name() string     { return "parallel" }
func (b *parallelBackend) UsesDevice() bool { return true }

// run calls fn on contiguous feature ranges, one per worker.
func (b *parallelBackend) run(ctx context.Context, numFeatures int, fn func(lo, hi int) error) error {
	workers := max(1, min(b.workers, numFeatures))
	chunk := (numFeatures + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < numFeatures; lo += chunk {
		lo, hi := lo, min(lo+chunk, numFeatures)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

func (b *parallelBackend) Accumulate(ctx context.Context, samples *feature.Samples, images []*rgbd.RGBDImage,
	batch *feature.FeaturesAndThresholds, numClasses int, counters, responses []float64,
) error {
	pixels := pixelsOf(samples, images)
	return b.run(ctx, batch.NumFeatures(), func(lo, hi int) error {
		return accumulateFeatures(lo, hi, samples, pixels, batch, numClasses, counters, responses)
	})
}

func (b *parallelBackend) Score(ctx context.Context, counters []float64, batch *feature.FeaturesAndThresholds,
	numClasses int, impurity tree.ImpurityMeasure, scores []float64,
) error {
	return b.run(ctx, batch.NumFeatures(), func(lo, hi int) error {
		scoreFeatures(lo, hi, counters, batch, numClasses, impurity, scores)
		return nil
	})
}
