package evaluation

import (
	"context"

	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

// hostBackend runs the split search sequentially on the calling goroutine.
type hostBackend struct{}

func (hostBackend) Name() string     { return "host" }
func (hostBackend) UsesDevice() bool { return false }

func (hostBackend) Accumulate(ctx context.Context, samples *feature.Samples, images []*rgbd.RGBDImage,
	batch *feature.FeaturesAndThresholds, numClasses int, counters, responses []float64,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pixels := pixelsOf(samples, images)
	return accumulateFeatures(0, batch.NumFeatures(), samples, pixels, batch, numClasses, counters, responses)
}

func (hostBackend) Score(ctx context.Context, counters []float64, batch *feature.FeaturesAndThresholds,
	numClasses int, impurity tree.ImpurityMeasure, scores []float64,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scoreFeatures(0, batch.NumFeatures(), counters, batch, numClasses, impurity, scores)
	return nil
}
