package tree

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// histogram sums the sample weights per class.
func histogram[S Sample](samples []S, numClasses int) ([]float64, error) {
	h := make([]float64, numClasses)
	for _, s := range samples {
		label := int(s.Label())
		if label >= numClasses {
			return nil, errors.Errorf("label %d out of range for %d classes", label, numClasses)
		}
		h[label] += s.Weight()
	}
	return h, nil
}

// NormalizeHistograms sets the Distribution of every node from its
// Histogram. Class frequencies are reduced by bias, clipped at zero, divided
// by the class prior and renormalized. A node left without mass gets the
// prior.
func (t *Tree[S, F]) NormalizeHistograms(prior []float64, bias float64) error {
	if len(prior) != t.NumClasses {
		return errors.Errorf("prior has %d classes, tree has %d", len(prior), t.NumClasses)
	}
	t.Walk(func(n *Node[S, F]) {
		n.Distribution = normalizeHistogram(n.Histogram, prior, bias)
	})
	return nil
}

func normalizeHistogram(hist, prior []float64, bias float64) []float64 {
	dist := make([]float64, len(prior))
	if total := floats.Sum(hist); total > 0 {
		for i, c := range hist {
			if prior[i] <= 0 {
				continue
			}
			dist[i] = math.Max(0, c/total-bias) / prior[i]
		}
	}

	sum := floats.Sum(dist)
	if sum <= 0 {
		copy(dist, prior)
		return dist
	}
	floats.Scale(1/sum, dist)
	return dist
}

// MostLikely returns the class with the highest probability, the lowest
// class id on ties.
func MostLikely(dist []float64) int {
	if len(dist) == 0 {
		return 0
	}
	return floats.MaxIdx(dist)
}
