package tree

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

type ImpurityMeasure int

const (
	Gini ImpurityMeasure = iota
	Entropy
)

var impurityCode = map[string]ImpurityMeasure{
	"gini":    Gini,
	"entropy": Entropy,
}

// ParseImpurity parses "gini" or "entropy".
func ParseImpurity(s string) (ImpurityMeasure, error) {
	m, ok := impurityCode[s]
	if !ok {
		return 0, errors.Errorf("unknown impurity measure %q", s)
	}
	return m, nil
}

func (m ImpurityMeasure) String() string {
	for name, code := range impurityCode {
		if code == m {
			return name
		}
	}
	return fmt.Sprintf("ImpurityMeasure(%d)", int(m))
}

// Of returns the impurity of a class histogram.
func (m ImpurityMeasure) Of(hist []float64) float64 {
	n := floats.Sum(hist)
	if n <= 0 {
		return 0
	}
	if m == Gini {
		return gini(n, hist)
	}
	return entropy(n, hist)
}

// gains below this are rounding noise of a split that changes nothing
const minGain = 1e-10

// InformationGain scores splitting the union of left and right into the
// two histograms: the impurity of the union minus the weighted impurity of
// the children. A split with an empty side scores 0.
func (m ImpurityMeasure) InformationGain(left, right []float64) float64 {
	nLeft := floats.Sum(left)
	nRight := floats.Sum(right)
	if nLeft <= 0 || nRight <= 0 {
		return 0
	}
	n := nLeft + nRight

	var parent float64
	if m == Gini {
		g := 0.0
		for i := range left {
			p := (left[i] + right[i]) / n
			g += p * p
		}
		parent = 1.0 - g
	} else {
		for i := range left {
			if c := left[i] + right[i]; c > 0 {
				p := c / n
				parent -= p * math.Log2(p)
			}
		}
	}

	d := parent - (nLeft/n)*m.Of(left) - (nRight/n)*m.Of(right)
	if d < minGain {
		return 0
	}
	return d
}

// gini impurity
// i_t = sum over k p(c_k|t) (1 - p(c_k|t))
func gini(n float64, ct []float64) float64 {
	g := 0.0
	for _, c := range ct {
		if c > 0 {
			p := c / n
			g += p * p
		}
	}
	return 1.0 - g
}

// entropy
// e_t = sum over k p(c_k|t) log p(c_k|t)
func entropy(n float64, ct []float64) float64 {
	e := 0.0
	for _, c := range ct {
		if c > 0 {
			p := c / n
			e -= p * math.Log2(p)
		}
	}
	return e
}
