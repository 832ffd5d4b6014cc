// tree implements the decision trees grown by the random forest trainer.
//
// A tree is generic over the training sample type S and the split feature
// type F. Open nodes are kept on a stack and expanded in batches: the caller
// supplies a Splitter that finds the best split for a whole batch of nodes at
// once, so the split search can amortise its setup over many nodes.
package tree

import (
	"encoding/gob"
	"io"
)

// Sample is a labeled, weighted training sample.
type Sample interface {
	Label() uint8
	Weight() float64
}

// SplitFunction is the split chosen for an internal node: samples whose
// feature response is below Threshold go to the left child.
type SplitFunction[F any] struct {
	FeatureID      int
	Feature        F
	Threshold      float64
	Score          float64
	LeftHistogram  []float64
	RightHistogram []float64
}

type Node[S Sample, F any] struct {
	ID    int
	Level int

	Left  *Node[S, F]
	Right *Node[S, F]
	Split *SplitFunction[F]

	// Histogram holds the summed sample weights per class.
	Histogram []float64
	// Distribution is the normalized class distribution, set by
	// NormalizeHistograms.
	Distribution []float64
	NumSamples   int
	Leaf         bool

	samples []S
}

// NewNode returns an unattached node holding samples, with its class
// histogram computed.
func NewNode[S Sample, F any](id, level int, samples []S, numClasses int) (*Node[S, F], error) {
	hist, err := histogram(samples, numClasses)
	if err != nil {
		return nil, err
	}
	return &Node[S, F]{
		ID:         id,
		Level:      level,
		Histogram:  hist,
		NumSamples: len(samples),
		samples:    samples,
	}, nil
}

// Samples returns the training samples that reached the node while the tree
// was grown. It is nil for trees loaded from disk.
func (n *Node[S, F]) Samples() []S { return n.samples }

// Tree is a binary decision tree. Trees should be initialized with New.
type Tree[S Sample, F any] struct {
	Root       *Node[S, F]
	NumClasses int
	NumNodes   int

	MinSplit      int             // min node size for split
	MaxDepth      int             // max depth, <= 0 is unlimited
	NodesPerBatch int             // nodes handed to the splitter at once
	Impurity      ImpurityMeasure // stopping criterion, pure nodes are leaves
}

// methods for the treeConfiger interface
func (t *Tree[S, F]) setMinSplit(n int)             { t.MinSplit = n }
func (t *Tree[S, F]) setMaxDepth(n int)             { t.MaxDepth = n }
func (t *Tree[S, F]) setNodesPerBatch(n int)        { t.NodesPerBatch = n }
func (t *Tree[S, F]) setImpurity(m ImpurityMeasure) { t.Impurity = m }

// interface for configuration so the options do not depend on the type
// parameters of the tree
type treeConfiger interface {
	setMinSplit(n int)
	setMaxDepth(n int)
	setNodesPerBatch(n int)
	setImpurity(m ImpurityMeasure)
}

// MinSplit limits the size for a node to be split vs marked as a leaf
func MinSplit(n int) func(treeConfiger) {
	return func(c treeConfiger) {
		c.setMinSplit(n)
	}
}

// MaxDepth limits the depth of the fitted tree. Specifying -1 for n will
// grow a full tree, subject to the MinSplit constraint.
func MaxDepth(n int) func(treeConfiger) {
	return func(c treeConfiger) {
		c.setMaxDepth(n)
	}
}

// NodesPerBatch sets how many open nodes are passed to the splitter in one
// call.
func NodesPerBatch(n int) func(treeConfiger) {
	return func(c treeConfiger) {
		c.setNodesPerBatch(n)
	}
}

// Impurity sets the impurity measure used to detect pure nodes.
func Impurity(m ImpurityMeasure) func(treeConfiger) {
	return func(c treeConfiger) {
		c.setImpurity(m)
	}
}

// New returns a configured tree for numClasses classes. If no options are
// passed, the returned Tree will be equivalent to the following call:
//
//	t := New[S, F](numClasses, MinSplit(2), MaxDepth(-1), NodesPerBatch(1), Impurity(Entropy))
func New[S Sample, F any](numClasses int, options ...func(treeConfiger)) *Tree[S, F] {
	t := &Tree[S, F]{
		NumClasses:    numClasses,
		MinSplit:      2,
		MaxDepth:      -1,
		NodesPerBatch: 1,
		Impurity:      Entropy,
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Leaf walks the tree from the root, following goLeft at every internal
// node, and returns the leaf reached.
func (t *Tree[S, F]) Leaf(goLeft func(split *SplitFunction[F]) bool) *Node[S, F] {
	n := t.Root
	for n != nil && !n.Leaf {
		if goLeft(n.Split) {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

// Walk calls fn for every node in depth first order.
func (t *Tree[S, F]) Walk(fn func(n *Node[S, F])) {
	if t.Root == nil {
		return
	}
	s := []*Node[S, F]{t.Root}
	for len(s) > 0 {
		n := s[len(s)-1]
		s = s[:len(s)-1]
		fn(n)
		if !n.Leaf {
			s = append(s, n.Right, n.Left)
		}
	}
}

// Depth returns the largest node level of the tree.
func (t *Tree[S, F]) Depth() int {
	var depth int
	t.Walk(func(n *Node[S, F]) {
		depth = max(depth, n.Level)
	})
	return depth
}

// NumLeaves returns the number of leaf nodes.
func (t *Tree[S, F]) NumLeaves() int {
	var leaves int
	t.Walk(func(n *Node[S, F]) {
		if n.Leaf {
			leaves++
		}
	})
	return leaves
}

// Save serializes the Tree using encoding/gob to an io.Writer.
func (t *Tree[S, F]) Save(w io.Writer) error {
	e := gob.NewEncoder(w)
	return e.Encode(t)
}

// Load deserializes the Tree using encoding/gob from an io.Reader.
func (t *Tree[S, F]) Load(r io.Reader) error {
	d := gob.NewDecoder(r)
	return d.Decode(t)
}
