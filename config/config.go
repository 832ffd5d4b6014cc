// Package config holds the training configuration of a forest.
//
// A configuration file is JSON; fields it omits keep their Default values,
// so partial files are safe.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/dirkholz/curfil/feature"
	"github.com/dirkholz/curfil/rgbd"
	"github.com/dirkholz/curfil/tree"
)

// Subsampling strategies.
const (
	PixelUniform = "pixel_uniform"
	ClassUniform = "class_uniform"
)

// Execution backends of the split search.
const (
	BackendHost     = "host"
	BackendParallel = "parallel"
)

// maxBoxRadius keeps offsets inside the int8 fields of a feature batch.
const maxBoxRadius = 127

// TrainingConfiguration holds every parameter of tree training.
type TrainingConfiguration struct {
	RandomSeed     int64  `json:"random_seed"`
	SubsampleCount int    `json:"subsample_count"` // training pixels per tree
	Subsampling    string `json:"subsampling"`

	// candidate features per node and thresholds per candidate
	FeatureCount   int `json:"feature_count"`
	ThresholdCount int `json:"threshold_count"`
	ThresholdTries int `json:"threshold_tries"`

	BoxRadius           int        `json:"box_radius"`
	RegionSize          int        `json:"region_size"`
	FeatureTypes        []string   `json:"feature_types"`
	ColorChannels       int        `json:"color_channels"`
	DepthThresholdRange [2]float64 `json:"depth_threshold_range"`
	ColorThresholdRange [2]float64 `json:"color_threshold_range"`

	MaxDepth       int    `json:"max_depth"`
	MinSampleCount int    `json:"min_sample_count"`
	NumTrees       int    `json:"num_trees"`
	Impurity       string `json:"impurity"`

	Backend            string `json:"backend"`
	Workers            int    `json:"workers"` // 0 uses GOMAXPROCS
	MaxSamplesPerBatch int    `json:"max_samples_per_batch"`
	NodesPerBatch      int    `json:"nodes_per_batch"`
	SortFeatures       bool   `json:"sort_features"`
	KeepDeviceLocked   bool   `json:"keep_device_locked"`

	IgnoredLabels []int   `json:"ignored_labels"`
	HistogramBias float64 `json:"histogram_bias"`
}

// Default returns the default configuration.
func Default() TrainingConfiguration {
	return TrainingConfiguration{
		RandomSeed:          4711,
		SubsampleCount:      4000,
		Subsampling:         ClassUniform,
		FeatureCount:        500,
		ThresholdCount:      20,
		ThresholdTries:      10,
		BoxRadius:           60,
		RegionSize:          10,
		FeatureTypes:        []string{"depth", "color"},
		ColorChannels:       rgbd.ColorChannels,
		DepthThresholdRange: [2]float64{-1, 1},
		ColorThresholdRange: [2]float64{-50, 50},
		MaxDepth:            20,
		MinSampleCount:      32,
		NumTrees:            3,
		Impurity:            "entropy",
		Backend:             BackendHost,
		MaxSamplesPerBatch:  5000,
		NodesPerBatch:       8,
		SortFeatures:        true,
		KeepDeviceLocked:    true,
		HistogramBias:       0,
	}
}

// Load reads a JSON configuration file over the defaults and validates it.
func Load(path string) (TrainingConfiguration, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %q", cleanPath)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid configuration %q", cleanPath)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TrainingConfiguration) Validate() error {
	if c.BoxRadius <= 0 || c.BoxRadius > maxBoxRadius {
		return errors.Errorf("box_radius must be in [1, %d], got %d", maxBoxRadius, c.BoxRadius)
	}
	if c.RegionSize <= 0 || c.RegionSize > maxBoxRadius {
		return errors.Errorf("region_size must be in [1, %d], got %d", maxBoxRadius, c.RegionSize)
	}
	if c.FeatureCount <= 0 {
		return errors.Errorf("feature_count must be positive, got %d", c.FeatureCount)
	}
	if c.ThresholdCount <= 0 {
		return errors.Errorf("threshold_count must be positive, got %d", c.ThresholdCount)
	}
	if c.ThresholdTries <= 0 {
		return errors.Errorf("threshold_tries must be positive, got %d", c.ThresholdTries)
	}
	if c.SubsampleCount <= 0 {
		return errors.Errorf("subsample_count must be positive, got %d", c.SubsampleCount)
	}
	if c.Subsampling != PixelUniform && c.Subsampling != ClassUniform {
		return errors.Errorf("unknown subsampling %q", c.Subsampling)
	}
	if _, err := c.FeatureKinds(); err != nil {
		return err
	}
	if c.ColorChannels <= 0 || c.ColorChannels > rgbd.ColorChannels {
		return errors.Errorf("color_channels must be in [1, %d], got %d", rgbd.ColorChannels, c.ColorChannels)
	}
	if c.DepthThresholdRange[0] > c.DepthThresholdRange[1] {
		return errors.Errorf("empty depth_threshold_range %v", c.DepthThresholdRange)
	}
	if c.ColorThresholdRange[0] > c.ColorThresholdRange[1] {
		return errors.Errorf("empty color_threshold_range %v", c.ColorThresholdRange)
	}
	if c.NumTrees <= 0 {
		return errors.Errorf("num_trees must be positive, got %d", c.NumTrees)
	}
	if _, err := tree.ParseImpurity(c.Impurity); err != nil {
		return err
	}
	if c.Backend != BackendHost && c.Backend != BackendParallel {
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.MaxSamplesPerBatch <= 0 {
		return errors.Errorf("max_samples_per_batch must be positive, got %d", c.MaxSamplesPerBatch)
	}
	if c.NodesPerBatch <= 0 {
		return errors.Errorf("nodes_per_batch must be positive, got %d", c.NodesPerBatch)
	}
	for _, l := range c.IgnoredLabels {
		if l < 0 || l > 255 {
			return errors.Errorf("ignored label %d out of range", l)
		}
	}
	if c.HistogramBias < 0 || c.HistogramBias >= 1 {
		return errors.Errorf("histogram_bias must be in [0, 1), got %f", c.HistogramBias)
	}
	return nil
}

// FeatureKinds parses FeatureTypes.
func (c *TrainingConfiguration) FeatureKinds() ([]feature.Type, error) {
	if len(c.FeatureTypes) == 0 {
		return nil, errors.New("feature_types must not be empty")
	}
	kinds := make([]feature.Type, 0, len(c.FeatureTypes))
	for _, name := range c.FeatureTypes {
		k, err := feature.ParseType(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ImpurityMeasure parses Impurity, falling back to entropy.
func (c *TrainingConfiguration) ImpurityMeasure() tree.ImpurityMeasure {
	m, err := tree.ParseImpurity(c.Impurity)
	if err != nil {
		return tree.Entropy
	}
	return m
}

// IsIgnoredLabel reports whether label is excluded from training.
func (c *TrainingConfiguration) IsIgnoredLabel(label rgbd.LabelType) bool {
	for _, l := range c.IgnoredLabels {
		if l == int(label) {
			return true
		}
	}
	return false
}

// Save writes the configuration as indented JSON.
func (c *TrainingConfiguration) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write config %q", path)
}
