// forest implements random forests of decision trees that classify the
// pixels of RGB-D images, as described in
// Shotton, J. et al. (2011) "Real-Time Human Pose Recognition in Parts from
// Single Depth Images", CVPR.
//
// Every tree is trained on its own random subsample of pixels; the forest
// predicts by averaging the leaf class distributions of its trees.
package forest

import (
	"encoding/gob"
	"io"

	"github.com/dirkholz/curfil/tree"
)

// methods for the forestConfiger interface
func (c *Classifier) setMinSplit(n int)                  { c.MinSplit = n }
func (c *Classifier) setMaxDepth(n int)                  { c.MaxDepth = n }
func (c *Classifier) setImpurity(f tree.ImpurityMeasure) { c.impurity = f }
func (c *Classifier) setNumTrees(n int)                  { c.NTrees = n }
func (c *Classifier) setNumWorkers(n int)                { c.nWorkers = n }
func (c *Classifier) setRandomSeed(seed int64)           { c.RandomSeed = seed }

// Option configures a Classifier.
type Option = func(forestConfiger)

type forestConfiger interface {
	setMinSplit(n int)
	setMaxDepth(n int)
	setImpurity(f tree.ImpurityMeasure)
	setNumTrees(n int)
	setNumWorkers(n int)
	setRandomSeed(seed int64)
}

var (
	Gini    = tree.Gini
	Entropy = tree.Entropy
)

// MinSplit limits the size for a node to be split vs marked as a leaf
func MinSplit(n int) func(forestConfiger) {
	return func(c forestConfiger) {
		c.setMinSplit(n)
	}
}

// MaxDepth limits the depth of the fitted trees. Specifying -1 for n will
// grow full trees, subject to the MinSplit constraint.
func MaxDepth(n int) func(forestConfiger) {
	return func(c forestConfiger) {
		c.setMaxDepth(n)
	}
}

// Impurity sets the impurity measure used to evaluate each candidate split.
// Currently Gini and Entropy are the only implemented options.
func Impurity(f tree.ImpurityMeasure) func(forestConfiger) {
	return func(c forestConfiger) {
		c.setImpurity(f)
	}
}

// NumTrees sets the number of trees used in the random forest.
func NumTrees(n int) func(forestConfiger) {
	return func(c forestConfiger) {
		c.setNumTrees(n)
	}
}

// NumWorkers sets the number of workers used to fit trees; ensure
// GOMAXPROCS is also set > 1 to take advantage of multi cpu.
func NumWorkers(n int) func(forestConfiger) {
	return func(c forestConfiger) {
		c.setNumWorkers(n)
	}
}

// RandomSeed sets the seed of the first tree, tree i uses seed+i.
func RandomSeed(seed int64) func(forestConfiger) {
	return func(c forestConfiger) {
		c.setRandomSeed(seed)
	}
}

func (f *Classifier) Save(w io.Writer) error {
	e := gob.NewEncoder(w)
	return e.Encode(f)
}

func (f *Classifier) Load(r io.Reader) error {
	d := gob.NewDecoder(r)
	return d.Decode(f)
}

type fitTree struct {
	id  int
	t   *RandomTreeImage
	err error
}
