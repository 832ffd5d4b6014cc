package forest

import (
	"context"
	"math/rand"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

// Classifier is a random forest of RandomTreeImages.
type Classifier struct {
	NTrees     int
	MinSplit   int
	MaxDepth   int
	RandomSeed int64
	NumClasses int
	Config     config.TrainingConfiguration
	Trees      []*RandomTreeImage
	FitTime    time.Duration

	impurity tree.ImpurityMeasure
	nWorkers int
	logger   golog.Logger
}

// NewClassifier returns a random forest classifier configured by cfg, with
// options applied on top. If no options are passed, the returned Classifier
// will be equivalent to the following call:
//
//	clf := NewClassifier(cfg, logger, NumTrees(cfg.NumTrees), MinSplit(cfg.MinSampleCount),
//		MaxDepth(cfg.MaxDepth), Impurity(cfg.ImpurityMeasure()), RandomSeed(cfg.RandomSeed), NumWorkers(1))
func NewClassifier(cfg config.TrainingConfiguration, logger golog.Logger, options ...func(forestConfiger)) *Classifier {
	f := &Classifier{
		NTrees:     cfg.NumTrees,
		MinSplit:   cfg.MinSampleCount,
		MaxDepth:   cfg.MaxDepth,
		RandomSeed: cfg.RandomSeed,
		Config:     cfg,
		impurity:   cfg.ImpurityMeasure(),
		nWorkers:   1,
		logger:     logger,
	}

	for _, opt := range options {
		opt(f)
	}

	return f
}

// Fit trains NTrees trees on images. Tree i draws its pixels and features
// from a generator seeded with RandomSeed+i, so the forest does not depend
// on the number of workers.
func (f *Classifier) Fit(ctx context.Context, images []rgbd.LabeledRGBDImage) error {
	cfg := f.Config
	cfg.NumTrees = f.NTrees
	cfg.MinSampleCount = f.MinSplit
	cfg.MaxDepth = f.MaxDepth
	cfg.RandomSeed = f.RandomSeed
	cfg.Impurity = f.impurity.String()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.New("no training images")
	}
	f.Config = cfg
	start := time.Now()

	f.Trees = make([]*RandomTreeImage, f.NTrees)

	in := make(chan *fitTree)
	out := make(chan *fitTree)

	nWorkers := max(1, f.nWorkers)

	// start workers
	for i := 0; i < nWorkers; i++ {
		go func() {
			for w := range in {
				w.t, w.err = NewRandomTreeImage(w.id, cfg, f.logger)
				if w.err == nil {
					rnd := rand.New(rand.NewSource(cfg.RandomSeed + int64(w.id)))
					w.err = w.t.Train(ctx, images, rnd, cfg.SubsampleCount)
				}
				out <- w
			}
		}()
	}

	// fill the queue
	go func() {
		for i := range f.Trees {
			in <- &fitTree{id: i}
		}
		close(in)
	}()

	var err error
	for range f.Trees {
		w := <-out
		if w.err != nil {
			err = multierr.Append(err, errors.Wrapf(w.err, "tree %d", w.id))
			continue
		}
		f.Trees[w.id] = w.t
		f.NumClasses = max(f.NumClasses, w.t.NumClasses())
	}
	if err != nil {
		f.Trees = nil
		return err
	}

	f.FitTime = time.Since(start)
	f.logger.Infow("trained forest", "trees", f.NTrees, "workers", nWorkers, "classes", f.NumClasses,
		"took", f.FitTime)
	return nil
}

// PredictProb returns the class distribution of every pixel of image, row
// by row. It is the mean of the leaf distributions of all trees.
func (f *Classifier) PredictProb(image *rgbd.RGBDImage) ([][]float64, error) {
	if len(f.Trees) == 0 {
		return nil, errors.New("forest is not trained")
	}
	width, height := image.Width(), image.Height()
	probs := make([][]float64, width*height)

	var g errgroup.Group
	g.SetLimit(max(1, f.nWorkers))
	for y := 0; y < height; y++ {
		g.Go(func() error {
			for x := 0; x < width; x++ {
				p, err := feature.NewPixelInstance(image, 0, x, y)
				if err != nil {
					return err
				}
				prob := make([]float64, f.NumClasses)
				for _, t := range f.Trees {
					dist, err := t.ClassDistribution(p)
					if err != nil {
						return err
					}
					for class, v := range dist {
						prob[class] += v / float64(len(f.Trees))
					}
				}
				probs[y*width+x] = prob
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return probs, nil
}

// Predict labels every pixel of image with its most probable class.
func (f *Classifier) Predict(image *rgbd.RGBDImage) (*rgbd.LabelImage, error) {
	probs, err := f.PredictProb(image)
	if err != nil {
		return nil, err
	}
	prediction, err := rgbd.NewLabelImage(image.Width(), image.Height())
	if err != nil {
		return nil, err
	}
	for i, prob := range probs {
		prediction.SetLabel(i%image.Width(), i/image.Width(), rgbd.LabelType(tree.MostLikely(prob)))
	}
	return prediction, nil
}
