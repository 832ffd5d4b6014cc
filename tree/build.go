package tree

import (
	"context"

	"github.com/pkg/errors"
)

// Splitter returns the best split for every node of a batch, in the same
// order as nodes. A nil entry means that no split improves the node.
type Splitter[S Sample, F any] func(ctx context.Context, nodes []*Node[S, F]) ([]*SplitFunction[F], error)

// Router reports whether sample s goes to the left child of split.
type Router[S Sample, F any] func(s S, split *SplitFunction[F]) bool

// Grow builds the tree from samples. Open nodes are popped from a stack and
// handed to splitter NodesPerBatch at a time; samples of a split node are
// partitioned with goLeft, keeping their relative order.
func (t *Tree[S, F]) Grow(ctx context.Context, samples []S, splitter Splitter[S, F], goLeft Router[S, F]) error {
	if t.NumClasses <= 0 {
		return errors.Errorf("invalid number of classes %d", t.NumClasses)
	}
	if len(samples) == 0 {
		return errors.New("cannot grow a tree without samples")
	}

	minSplit := t.MinSplit
	if minSplit < 2 {
		minSplit = 2
	}
	nodesPerBatch := max(1, t.NodesPerBatch)

	// samples are partitioned in place, don't touch the caller's slice
	buf := make([]S, len(samples))
	copy(buf, samples)

	t.NumNodes = 0
	t.Root = t.newNode(0, buf)

	s := new(buildStack[S, F])
	s.Push(t.Root)

	batch := make([]*Node[S, F], 0, nodesPerBatch)
	for !s.Empty() {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch = batch[:0]
		for !s.Empty() && len(batch) < nodesPerBatch {
			n := s.Pop()

			hist, err := histogram(n.samples, t.NumClasses)
			if err != nil {
				return errors.Wrapf(err, "node %d", n.ID)
			}
			n.Histogram = hist
			n.NumSamples = len(n.samples)

			if n.NumSamples < minSplit || (t.MaxDepth > 0 && n.Level >= t.MaxDepth) ||
				t.Impurity.Of(hist) <= 1e-7 {
				n.Leaf = true
				continue
			}
			batch = append(batch, n)
		}
		if len(batch) == 0 {
			continue
		}

		splits, err := splitter(ctx, batch)
		if err != nil {
			return err
		}
		if len(splits) != len(batch) {
			return errors.Errorf("splitter returned %d splits for %d nodes", len(splits), len(batch))
		}

		for i, n := range batch {
			split := splits[i]
			if split == nil {
				// couldn't find a split
				n.Leaf = true
				continue
			}

			l, r := partition(n.samples, split, goLeft)
			if len(l) == 0 || len(r) == 0 {
				n.Leaf = true
				continue
			}

			n.Split = split
			n.Left = t.newNode(n.Level+1, l)
			n.Right = t.newNode(n.Level+1, r)

			s.Push(n.Left)
			s.Push(n.Right)
		}
	}
	return nil
}

func (t *Tree[S, F]) newNode(level int, samples []S) *Node[S, F] {
	n := &Node[S, F]{ID: t.NumNodes, Level: level, samples: samples}
	t.NumNodes++
	return n
}

// partition moves the samples going left to the front of samples. Both
// halves keep their relative order.
func partition[S Sample, F any](samples []S, split *SplitFunction[F], goLeft Router[S, F]) (left, right []S) {
	var rightBuf []S
	i := 0
	for _, s := range samples {
		if goLeft(s, split) {
			samples[i] = s
			i++
		} else {
			rightBuf = append(rightBuf, s)
		}
	}
	copy(samples[i:], rightBuf)
	return samples[:i:i], samples[i:]
}

// lifo stack for unexpanded nodes
type buildStack[S Sample, F any] []*Node[S, F]

func (s buildStack[S, F]) Empty() bool         { return len(s) == 0 }
func (s *buildStack[S, F]) Push(n *Node[S, F]) { *s = append(*s, n) }
func (s *buildStack[S, F]) Pop() *Node[S, F] {
	d := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return d
}
