// Package evaluation searches the best split of tree nodes over randomly
// generated image features.
//
// For every node a pool of candidate features and thresholds is drawn, every
// sample of the node is evaluated against every candidate, the class
// histograms of both sides of each (feature, threshold) pair are accumulated
// and the pair with the highest information gain becomes the split. The bulk
// work runs on a Backend, either sequentially on the host or on a pool of
// workers sharing the process-wide Device.
package evaluation

import (
	"cmp"
	"context"
	"math"
	"math/rand"
	"slices"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

type (
	// Node is a tree node over pixel samples split by image features.
	Node = tree.Node[*feature.PixelInstance, feature.ImageFeatureFunction]
	// Split is the split decision for a Node.
	Split = tree.SplitFunction[feature.ImageFeatureFunction]
)

// Engine evaluates candidate splits for the nodes of one tree.
type Engine struct {
	treeID   int
	cfg      config.TrainingConfiguration
	kinds    []feature.Type
	impurity tree.ImpurityMeasure

	backend Backend
	device  *Device
	pools   *pools
	logger  golog.Logger
}

// New returns an engine for tree treeID. It selects the shared device on
// first use.
func New(treeID int, cfg config.TrainingConfiguration, logger golog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kinds, err := cfg.FeatureKinds()
	if err != nil {
		return nil, err
	}

	device := SharedDevice(logger)
	backend, err := newBackend(cfg, device)
	if err != nil {
		return nil, err
	}

	return &Engine{
		treeID:   treeID,
		cfg:      cfg,
		kinds:    kinds,
		impurity: cfg.ImpurityMeasure(),
		backend:  backend,
		device:   device,
		pools:    new(pools),
		logger:   logger,
	}, nil
}

// Backend returns the backend the engine runs on.
func (e *Engine) Backend() Backend { return e.backend }

// EvaluateBestSplits finds the best split of every node, in input order. A
// nil entry means that no candidate improves the node. Every node draws its
// own feature seed from rnd, in input order.
func (e *Engine) EvaluateBestSplits(ctx context.Context, rnd *rand.Rand, nodes []*Node) ([]*Split, error) {
	splits := make([]*Split, len(nodes))
	for i, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seed := rnd.Int63()

		samples := node.Samples()
		if len(samples) == 0 {
			return nil, errors.Errorf("tree %d node %d has no samples", e.treeID, node.ID)
		}

		batches := e.Prepare(samples)

		nf, nt := e.cfg.FeatureCount, e.cfg.ThresholdCount
		feats := e.pools.features.get(feature.NumFeatureRows * nf)
		thresholds := e.pools.thresholds.get(nt * nf)

		split, err := func() (*Split, error) {
			batch, err := feature.WrapFeaturesAndThresholds(feats, thresholds, nf, nt)
			if err != nil {
				return nil, err
			}
			if err := e.generate(samples, seed, e.cfg.SortFeatures, batch); err != nil {
				return nil, err
			}
			return e.bestSplit(ctx, node, batches, batch)
		}()

		e.pools.features.put(feats)
		e.pools.thresholds.put(thresholds)

		if err != nil {
			return nil, errors.Wrapf(err, "tree %d node %d", e.treeID, node.ID)
		}
		splits[i] = split
	}
	return splits, nil
}

// Prepare groups samples by their image, images in order of first
// appearance and samples in their original order, and cuts the result into
// batches of at most MaxSamplesPerBatch samples.
func (e *Engine) Prepare(samples []*feature.PixelInstance) [][]*feature.PixelInstance {
	var order []*rgbd.RGBDImage
	byImage := make(map[*rgbd.RGBDImage][]*feature.PixelInstance)
	for _, s := range samples {
		im := s.Image()
		if _, ok := byImage[im]; !ok {
			order = append(order, im)
		}
		byImage[im] = append(byImage[im], s)
	}

	grouped := make([]*feature.PixelInstance, 0, len(samples))
	for _, im := range order {
		grouped = append(grouped, byImage[im]...)
	}

	size := e.cfg.MaxSamplesPerBatch
	var batches [][]*feature.PixelInstance
	for len(grouped) > 0 {
		n := min(size, len(grouped))
		batches = append(batches, grouped[:n:n])
		grouped = grouped[n:]
	}
	return batches
}

// GenerateRandomFeatures draws FeatureCount candidate features with
// ThresholdCount thresholds each for samples. The result depends only on
// samples, seed and the configuration.
func (e *Engine) GenerateRandomFeatures(samples []*feature.PixelInstance, seed int64, sort bool) (*feature.FeaturesAndThresholds, error) {
	batch := feature.NewFeaturesAndThresholds(e.cfg.FeatureCount, e.cfg.ThresholdCount)
	if err := e.generate(samples, seed, sort, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (e *Engine) generate(samples []*feature.PixelInstance, seed int64, sort bool, batch *feature.FeaturesAndThresholds) error {
	if len(samples) == 0 {
		return errors.New("cannot generate features without samples")
	}
	rnd := rand.New(rand.NewSource(seed))

	for f := 0; f < batch.NumFeatures(); f++ {
		fn, err := e.sampleFeature(rnd)
		if err != nil {
			return err
		}
		if err := batch.SetFeatureFunction(f, fn); err != nil {
			return err
		}

		for t := 0; t < batch.NumThresholds(); t++ {
			threshold := math.NaN()
			for try := 0; try < e.cfg.ThresholdTries && math.IsNaN(threshold); try++ {
				threshold = fn.CalculateFeatureResponse(samples[rnd.Intn(len(samples))])
			}
			if math.IsNaN(threshold) {
				r := e.cfg.ColorThresholdRange
				if fn.Type() == feature.Depth {
					r = e.cfg.DepthThresholdRange
				}
				threshold = r[0] + rnd.Float64()*(r[1]-r[0])
			}
			batch.SetThreshold(t, f, threshold)
		}
	}

	if sort {
		e.sortFeatures(batch)
	}
	return nil
}

// sampleFeature draws one candidate feature.
func (e *Engine) sampleFeature(rnd *rand.Rand) (feature.ImageFeatureFunction, error) {
	kind := e.kinds[rnd.Intn(len(e.kinds))]

	radius := e.cfg.BoxRadius
	offset := func() feature.Offset {
		return feature.Offset{X: rnd.Intn(2*radius+1) - radius, Y: rnd.Intn(2*radius+1) - radius}
	}
	region := func() feature.Region {
		return feature.Region{X: rnd.Intn(e.cfg.RegionSize + 1), Y: rnd.Intn(e.cfg.RegionSize + 1)}
	}

	offset1 := offset()
	offset2 := offset()
	for offset2 == offset1 {
		offset2 = offset()
	}
	region1 := region()
	region2 := region()

	var channel1, channel2 uint8
	if kind == feature.Color {
		channel1 = uint8(rnd.Intn(e.cfg.ColorChannels))
		channel2 = uint8(rnd.Intn(e.cfg.ColorChannels))
	}
	return feature.NewImageFeatureFunction(kind, offset1, region1, channel1, offset2, region2, channel2)
}

// sortFeatures orders the batch by (sort key, original index).
func (e *Engine) sortFeatures(batch *feature.FeaturesAndThresholds) {
	n := batch.NumFeatures()
	keys := e.pools.keys.get(n)
	inx := e.pools.indices.get(n)
	defer e.pools.keys.put(keys)
	defer e.pools.indices.put(inx)

	for f := 0; f < n; f++ {
		// columns were written by SetFeatureFunction, they decode
		fn, _ := batch.FeatureFunction(f)
		keys[f] = fn.SortKey()
	}
	keyOrder(keys, inx)
	batch.Permute(inx)
}

// keyOrder fills inx with the positions of keys ordered by (key, position).
func keyOrder(keys []uint32, inx []int) {
	for i := range inx {
		inx[i] = i
	}
	slices.SortFunc(inx, func(a, b int) int {
		if c := cmp.Compare(keys[a], keys[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}

// BestSplit evaluates batch on the samples of node and returns the best
// (feature, threshold) pair, nil if no pair has a positive score.
func (e *Engine) BestSplit(ctx context.Context, node *Node, batch *feature.FeaturesAndThresholds) (*Split, error) {
	if len(node.Samples()) == 0 {
		return nil, errors.Errorf("node %d has no samples", node.ID)
	}
	return e.bestSplit(ctx, node, e.Prepare(node.Samples()), batch)
}

func (e *Engine) bestSplit(ctx context.Context, node *Node, batches [][]*feature.PixelInstance,
	batch *feature.FeaturesAndThresholds,
) (*Split, error) {
	numClasses := len(node.Histogram)
	if numClasses == 0 {
		return nil, errors.Errorf("node %d has no class histogram", node.ID)
	}
	nf, nt := batch.NumFeatures(), batch.NumThresholds()

	counters := e.pools.counters.get(nf * nt * 2 * numClasses)
	defer e.pools.counters.put(counters)

	lockSteps := e.backend.UsesDevice()
	if lockSteps && e.cfg.KeepDeviceLocked {
		release := e.device.Acquire()
		defer release()
		lockSteps = false
	}

	for _, b := range batches {
		if err := e.accumulate(ctx, b, batch, numClasses, counters, lockSteps); err != nil {
			return nil, err
		}
	}

	scores := e.pools.scores.get(nf * nt)
	defer e.pools.scores.put(scores)

	if err := e.locked(lockSteps, func() error {
		return e.backend.Score(ctx, counters, batch, numClasses, e.impurity, scores)
	}); err != nil {
		return nil, err
	}

	best := -1
	bestScore := 0.0
	for i, s := range scores {
		if s > bestScore {
			best = i
			bestScore = s
		}
	}
	if best < 0 {
		e.logger.Debugw("no split", "tree", e.treeID, "node", node.ID, "samples", len(node.Samples()))
		return nil, nil
	}

	f, t := best/nt, best%nt
	fn, err := batch.FeatureFunction(f)
	if err != nil {
		return nil, err
	}
	split := &Split{
		FeatureID:      f,
		Feature:        fn,
		Threshold:      batch.Threshold(t, f),
		Score:          bestScore,
		LeftHistogram:  make([]float64, numClasses),
		RightHistogram: make([]float64, numClasses),
	}
	copy(split.LeftHistogram, counters[counterIndex(f, t, 0, nt, numClasses):])
	copy(split.RightHistogram, counters[counterIndex(f, t, 1, nt, numClasses):])

	e.logger.Debugw("best split", "tree", e.treeID, "node", node.ID, "level", node.Level,
		"samples", len(node.Samples()), "feature", fn.String(), "threshold", split.Threshold, "score", bestScore)
	return split, nil
}

// accumulate uploads one sample batch and adds it to counters.
func (e *Engine) accumulate(ctx context.Context, pixels []*feature.PixelInstance,
	batch *feature.FeaturesAndThresholds, numClasses int, counters []float64, lockSteps bool,
) error {
	data := e.pools.sampleData.get(feature.NumSampleColumns * len(pixels))
	defer e.pools.sampleData.put(data)
	responses := e.pools.featureResponses.get(batch.NumFeatures() * len(pixels))
	defer e.pools.featureResponses.put(responses)

	samples := feature.WrapSamples(data, len(pixels))
	var images []*rgbd.RGBDImage
	imageNumbers := make(map[*rgbd.RGBDImage]int)
	for i, p := range pixels {
		num, ok := imageNumbers[p.Image()]
		if !ok {
			num = len(images)
			imageNumbers[p.Image()] = num
			images = append(images, p.Image())
		}
		samples.SetPixel(i, p, num)
	}

	return e.locked(lockSteps, func() error {
		return e.backend.Accumulate(ctx, samples, images, batch, numClasses, counters, responses)
	})
}

// locked runs fn, owning the device if lock is set.
func (e *Engine) locked(lock bool, fn func() error) error {
	if lock {
		release := e.device.Acquire()
		defer release()
	}
	return fn()
}
