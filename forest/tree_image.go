package forest

import (
	"context"
	"math/rand"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/evaluation"
	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

// Tree is a decision tree over pixels split by image features.
type Tree = tree.Tree[*feature.PixelInstance, feature.ImageFeatureFunction]

// pixel_uniform gives up after this many draws per requested sample
const maxDrawsPerSample = 100

// RandomTreeImage is one tree of the forest together with the label prior it
// was normalized with.
type RandomTreeImage struct {
	ID     int
	Tree   *Tree
	Prior  []float64
	Config config.TrainingConfiguration

	logger golog.Logger
}

// NewRandomTreeImage returns an untrained tree.
func NewRandomTreeImage(id int, cfg config.TrainingConfiguration, logger golog.Logger) (*RandomTreeImage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RandomTreeImage{ID: id, Config: cfg, logger: logger}, nil
}

// NumClasses is the number of classes the tree predicts.
func (t *RandomTreeImage) NumClasses() int { return len(t.Prior) }

// ShouldIgnoreLabel reports whether pixels of label are left out of training.
func (t *RandomTreeImage) ShouldIgnoreLabel(label rgbd.LabelType) bool {
	return t.Config.IsIgnoredLabel(label)
}

// Train draws subsampleCount training pixels from images with rnd, grows the
// tree and normalizes its histograms by the label prior of images.
func (t *RandomTreeImage) Train(ctx context.Context, images []rgbd.LabeledRGBDImage, rnd *rand.Rand,
	subsampleCount int,
) error {
	if len(images) == 0 {
		return errors.New("no training images")
	}
	if subsampleCount <= 0 {
		return errors.Errorf("invalid subsample count %d", subsampleCount)
	}
	start := time.Now()

	prior, err := t.calculateLabelPriorDistribution(images)
	if err != nil {
		return err
	}

	var samples []*feature.PixelInstance
	switch t.Config.Subsampling {
	case config.PixelUniform:
		samples, err = t.subsamplePixelUniform(images, rnd, subsampleCount)
	case config.ClassUniform:
		samples, err = t.subsampleClassUniform(images, rnd, subsampleCount)
	default:
		err = errors.Errorf("unknown subsampling %q", t.Config.Subsampling)
	}
	if err != nil {
		return err
	}
	t.logger.Debugw("subsampled", "tree", t.ID, "strategy", t.Config.Subsampling, "samples", len(samples))

	engine, err := evaluation.New(t.ID, t.Config, t.logger)
	if err != nil {
		return err
	}

	tr := tree.New[*feature.PixelInstance, feature.ImageFeatureFunction](len(prior),
		tree.MinSplit(t.Config.MinSampleCount), tree.MaxDepth(t.Config.MaxDepth),
		tree.NodesPerBatch(t.Config.NodesPerBatch), tree.Impurity(t.Config.ImpurityMeasure()))

	splitter := func(ctx context.Context, nodes []*evaluation.Node) ([]*evaluation.Split, error) {
		return engine.EvaluateBestSplits(ctx, rnd, nodes)
	}
	if err := tr.Grow(ctx, samples, splitter, goLeft); err != nil {
		return errors.Wrapf(err, "tree %d", t.ID)
	}
	if err := tr.NormalizeHistograms(prior, t.Config.HistogramBias); err != nil {
		return err
	}

	t.Tree = tr
	t.Prior = prior
	t.logger.Infow("trained tree", "tree", t.ID, "backend", engine.Backend().Name(),
		"nodes", tr.NumNodes, "leaves", tr.NumLeaves(), "depth", tr.Depth(), "took", time.Since(start))
	return nil
}

// goLeft routes a pixel with a NaN response to the right.
func goLeft(p *feature.PixelInstance, split *evaluation.Split) bool {
	return split.Feature.CalculateFeatureResponse(p) < split.Threshold
}

// ClassDistribution returns the normalized class distribution of the leaf p
// reaches.
func (t *RandomTreeImage) ClassDistribution(p *feature.PixelInstance) ([]float64, error) {
	if t.Tree == nil || t.Tree.Root == nil {
		return nil, errors.Errorf("tree %d is not trained", t.ID)
	}
	leaf := t.Tree.Leaf(func(split *evaluation.Split) bool { return goLeft(p, split) })
	return leaf.Distribution, nil
}

// Test writes the most likely label of every pixel of image to prediction.
func (t *RandomTreeImage) Test(image *rgbd.RGBDImage, prediction *rgbd.LabelImage) error {
	if image.Width() != prediction.Width() || image.Height() != prediction.Height() {
		return errors.Errorf("prediction is %dx%d, image is %dx%d",
			prediction.Width(), prediction.Height(), image.Width(), image.Height())
	}
	for y := 0; y < image.Height(); y++ {
		for x := 0; x < image.Width(); x++ {
			p, err := feature.NewPixelInstance(image, 0, x, y)
			if err != nil {
				return err
			}
			dist, err := t.ClassDistribution(p)
			if err != nil {
				return err
			}
			prediction.SetLabel(x, y, rgbd.LabelType(tree.MostLikely(dist)))
		}
	}
	return nil
}

// calculateLabelPriorDistribution returns the relative frequency of every
// label over all label images. Ignored labels get zero mass; the result
// covers every label up to the largest one seen.
func (t *RandomTreeImage) calculateLabelPriorDistribution(images []rgbd.LabeledRGBDImage) ([]float64, error) {
	counts := make([]float64, 256)
	maxLabel := -1
	for _, im := range images {
		labels := im.Labels
		for y := 0; y < labels.Height(); y++ {
			for x := 0; x < labels.Width(); x++ {
				l := labels.Label(x, y)
				maxLabel = max(maxLabel, int(l))
				if !t.ShouldIgnoreLabel(l) {
					counts[l]++
				}
			}
		}
	}

	prior := counts[:maxLabel+1]
	total := floats.Sum(prior)
	if total == 0 {
		return nil, errors.New("no labeled pixels left after ignoring labels")
	}
	floats.Scale(1/total, prior)
	return prior, nil
}

// eligible returns the pixel at (x, y) if it can be used for training.
func (t *RandomTreeImage) eligible(im rgbd.LabeledRGBDImage, x, y int) (*feature.PixelInstance, bool, error) {
	label := im.Labels.Label(x, y)
	if t.ShouldIgnoreLabel(label) {
		return nil, false, nil
	}
	p, err := feature.NewPixelInstance(im.RGBD, label, x, y)
	if err != nil {
		return nil, false, err
	}
	return p, p.Depth().Valid(), nil
}

// subsamplePixelUniform draws pixels uniformly over images, then uniformly
// within the image.
func (t *RandomTreeImage) subsamplePixelUniform(images []rgbd.LabeledRGBDImage, rnd *rand.Rand,
	n int,
) ([]*feature.PixelInstance, error) {
	samples := make([]*feature.PixelInstance, 0, n)
	for draws := 0; len(samples) < n && draws < n*maxDrawsPerSample; draws++ {
		im := images[rnd.Intn(len(images))]
		x := rnd.Intn(im.RGBD.Width())
		y := rnd.Intn(im.RGBD.Height())
		p, ok, err := t.eligible(im, x, y)
		if err != nil {
			return nil, err
		}
		if ok {
			samples = append(samples, p)
		}
	}
	if len(samples) == 0 {
		return nil, errors.New("no eligible training pixels")
	}
	if len(samples) < n {
		t.logger.Warnw("fewer training pixels than requested", "tree", t.ID, "requested", n, "got", len(samples))
	}
	return samples, nil
}

type pixelRef struct {
	image int
	x, y  int32
}

// subsampleClassUniform draws the same number of pixels from every class
// present, without replacement.
func (t *RandomTreeImage) subsampleClassUniform(images []rgbd.LabeledRGBDImage, rnd *rand.Rand,
	n int,
) ([]*feature.PixelInstance, error) {
	var byClass [256][]pixelRef
	for i, im := range images {
		for y := 0; y < im.RGBD.Height(); y++ {
			for x := 0; x < im.RGBD.Width(); x++ {
				p, ok, err := t.eligible(im, x, y)
				if err != nil {
					return nil, err
				}
				if ok {
					byClass[p.Label()] = append(byClass[p.Label()], pixelRef{image: i, x: int32(x), y: int32(y)})
				}
			}
		}
	}

	var classes []int
	for label, refs := range byClass {
		if len(refs) > 0 {
			classes = append(classes, label)
		}
	}
	if len(classes) == 0 {
		return nil, errors.New("no eligible training pixels")
	}

	samples := make([]*feature.PixelInstance, 0, n)
	for i, label := range classes {
		quota := n / len(classes)
		if i < n%len(classes) {
			quota++
		}
		refs := byClass[label]
		quota = min(quota, len(refs))

		// partial Fisher-Yates
		for j := 0; j < quota; j++ {
			k := j + rnd.Intn(len(refs)-j)
			refs[j], refs[k] = refs[k], refs[j]

			ref := refs[j]
			im := images[ref.image]
			p, err := feature.NewPixelInstance(im.RGBD, rgbd.LabelType(label), int(ref.x), int(ref.y))
			if err != nil {
				return nil, err
			}
			samples = append(samples, p)
		}
	}
	return samples, nil
}
