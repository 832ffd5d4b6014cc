package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/dirkholz/curfil/rgbd"
)

// file name suffixes of the images of one example
const (
	colorSuffix       = "_colors.png"
	depthSuffix       = "_depth.png"
	groundTruthSuffix = "_ground_truth.png"
	predictionSuffix  = "_prediction.png"
)

// example is one image of a dataset folder. Labels is empty for images
// without ground truth.
type example struct {
	Name   string
	Color  string
	Depth  string
	Labels string
}

// findExamples lists the examples of folder, sorted by name. Every color
// image needs a depth image next to it.
func findExamples(folder string) ([]example, error) {
	colors, err := filepath.Glob(filepath.Join(folder, "*"+colorSuffix))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list %q", folder)
	}
	if len(colors) == 0 {
		return nil, errors.Errorf("no %s images in %q", colorSuffix, folder)
	}
	sort.Strings(colors)

	examples := make([]example, 0, len(colors))
	for _, c := range colors {
		prefix := strings.TrimSuffix(c, colorSuffix)
		e := example{Name: filepath.Base(prefix), Color: c, Depth: prefix + depthSuffix}
		if _, err := os.Stat(e.Depth); err != nil {
			return nil, errors.Wrapf(err, "missing depth image for %q", c)
		}
		if _, err := os.Stat(prefix + groundTruthSuffix); err == nil {
			e.Labels = prefix + groundTruthSuffix
		}
		examples = append(examples, e)
	}
	return examples, nil
}

// labeled reports whether every example has ground truth.
func labeled(examples []example) bool {
	for _, e := range examples {
		if e.Labels == "" {
			return false
		}
	}
	return true
}

// loadLabeledImages loads the examples, assigning label ids through palette.
func loadLabeledImages(examples []example, palette *rgbd.Palette, logger golog.Logger) ([]rgbd.LabeledRGBDImage, error) {
	images := make([]rgbd.LabeledRGBDImage, 0, len(examples))
	for _, e := range examples {
		if e.Labels == "" {
			return nil, errors.Errorf("example %q has no ground truth", e.Name)
		}
		im, err := rgbd.LoadLabeledRGBDImage(e.Color, e.Depth, e.Labels, palette)
		if err != nil {
			return nil, err
		}
		logger.Debugw("loaded image", "name", e.Name, "width", im.RGBD.Width(), "height", im.RGBD.Height())
		images = append(images, im)
	}
	logger.Infow("loaded images", "count", len(images), "labels", len(palette.Colors))
	return images, nil
}
