package evaluation

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

// Backend executes the bulk numeric work of a split search.
//
// counters is laid out as [feature][threshold][side][class], side 0 being
// left (response < threshold). responses is scratch space of
// NumFeatures*samples.Len() values. scores is laid out as
// [feature][threshold].
type Backend interface {
	// Accumulate adds the weight of every sample to the counter of its side
	// for every (feature, threshold) pair. NaN responses are counted nowhere.
	Accumulate(ctx context.Context, samples *feature.Samples, images []*rgbd.RGBDImage,
		batch *feature.FeaturesAndThresholds, numClasses int, counters, responses []float64) error
	// Score computes the information gain of every (feature, threshold) pair.
	Score(ctx context.Context, counters []float64, batch *feature.FeaturesAndThresholds,
		numClasses int, impurity tree.ImpurityMeasure, scores []float64) error
	// UsesDevice reports whether calls must own the shared Device.
	UsesDevice() bool
	Name() string
}

func newBackend(cfg config.TrainingConfiguration, device *Device) (Backend, error) {
	switch cfg.Backend {
	case config.BackendHost:
		return hostBackend{}, nil
	case config.BackendParallel:
		workers := cfg.Workers
		if workers <= 0 {
			workers = device.Workers()
		}
		return &parallelBackend{workers: workers}, nil
	}
	return nil, errors.Errorf("unknown backend %q", cfg.Backend)
}

// counterIndex returns the offset of the class histogram of one side of a
// (feature, threshold) pair.
func counterIndex(feat, thresh, side, numThresholds, numClasses int) int {
	return ((feat*numThresholds+thresh)*2 + side) * numClasses
}

// accumulateFeatures handles features [lo, hi) of the batch. Every counter it
// writes belongs to one of those features, so disjoint ranges may run
// concurrently.
func accumulateFeatures(lo, hi int, samples *feature.Samples, pixels []feature.PixelInstance,
	batch *feature.FeaturesAndThresholds, numClasses int, counters, responses []float64,
) error {
	n := samples.Len()
	nt := batch.NumThresholds()
	labels := samples.Column(feature.ColumnLabel)

	for f := lo; f < hi; f++ {
		fn, err := batch.FeatureFunction(f)
		if err != nil {
			return errors.Wrapf(err, "feature %d", f)
		}

		r := responses[f*n : (f+1)*n]
		for i := range pixels {
			r[i] = fn.CalculateFeatureResponse(&pixels[i])
		}

		for t := 0; t < nt; t++ {
			threshold := batch.Threshold(t, f)
			left := counters[counterIndex(f, t, 0, nt, numClasses):]
			right := counters[counterIndex(f, t, 1, nt, numClasses):]
			for i, v := range r {
				if math.IsNaN(v) {
					continue
				}
				label := int(labels[i])
				if label >= numClasses {
					return errors.Errorf("sample label %d out of range for %d classes", label, numClasses)
				}
				// samples are uniformly weighted
				if v < threshold {
					left[label]++
				} else {
					right[label]++
				}
			}
		}
	}
	return nil
}

// scoreFeatures scores features [lo, hi) of the batch.
func scoreFeatures(lo, hi int, counters []float64, batch *feature.FeaturesAndThresholds,
	numClasses int, impurity tree.ImpurityMeasure, scores []float64,
) {
	nt := batch.NumThresholds()
	for f := lo; f < hi; f++ {
		for t := 0; t < nt; t++ {
			l := counterIndex(f, t, 0, nt, numClasses)
			r := counterIndex(f, t, 1, nt, numClasses)
			scores[f*nt+t] = impurity.InformationGain(counters[l:l+numClasses], counters[r:r+numClasses])
		}
	}
}

// pixelsOf rebuilds the uploaded samples as pixel instances.
func pixelsOf(samples *feature.Samples, images []*rgbd.RGBDImage) []feature.PixelInstance {
	pixels := make([]feature.PixelInstance, samples.Len())
	for i := range pixels {
		pixels[i] = samples.Pixel(i, images)
	}
	return pixels
}
