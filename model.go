package main

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/forest"
	"github.com/dirkholz/curfil/rgbd"
)

// Model is a trained forest with the palette mapping its class ids to label
// colors.
type Model struct {
	Clf     *forest.Classifier
	Palette rgbd.Palette
	NImages int
}

func (m *Model) Fit(ctx context.Context, images []rgbd.LabeledRGBDImage, cfg config.TrainingConfiguration,
	opt modelOptions, logger golog.Logger,
) error {
	options := []forest.Option{forest.NumWorkers(opt.nWorkers)}
	if opt.nTree > 0 {
		options = append(options, forest.NumTrees(opt.nTree))
	}
	if opt.maxDepth != 0 {
		options = append(options, forest.MaxDepth(opt.maxDepth))
	}
	if opt.minSplit > 0 {
		options = append(options, forest.MinSplit(opt.minSplit))
	}
	if opt.impurity != nil {
		options = append(options, forest.Impurity(*opt.impurity))
	}
	if opt.seed != nil {
		options = append(options, forest.RandomSeed(*opt.seed))
	}

	clf := forest.NewClassifier(cfg, logger, options...)
	if err := clf.Fit(ctx, images); err != nil {
		return err
	}
	m.Clf = clf
	m.NImages = len(images)
	return nil
}

// className names a class by its label color.
func (m *Model) className(class int) string {
	c, _ := colorful.MakeColor(m.Palette.Color(rgbd.LabelType(class)))
	return c.Hex()
}

func (m *Model) Report(w io.Writer, e *forest.Evaluation) {
	fmt.Fprintf(w, "Fit %d trees using %d images in %.2f seconds\n",
		len(m.Clf.Trees), m.NImages, m.Clf.FitTime.Seconds())
	fmt.Fprintf(w, "\n")

	if e != nil {
		m.reportClf(w, e)
	}
}

func (m *Model) reportClf(w io.Writer, e *forest.Evaluation) {
	fmt.Fprintf(w, "Confusion Matrix\n")
	fmt.Fprintf(w, "----------------\n")
	// print confusion matrix
	// headers
	fmt.Fprintf(w, "%-14s ", "")
	for class := range e.ConfusionMatrix {
		fmt.Fprintf(w, "%-14s ", m.className(class))
	}
	fmt.Fprintf(w, "\n")

	// rows
	for predicted := range e.ConfusionMatrix {
		fmt.Fprintf(w, "%-14s ", m.className(predicted))

		for actual := range e.ConfusionMatrix {
			fmt.Fprintf(w, "%-14d ", e.ConfusionMatrix[actual][predicted])
		}

		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Overall Accuracy: %.2f%%\n", 100.0*e.Accuracy)
	fmt.Fprintf(w, "Mean Class Accuracy: %.2f%%\n", 100.0*e.MeanClassAccuracy)
}

// writePredictions labels every example and writes the result to folder as
// a color png.
func (m *Model) writePredictions(examples []example, images []*rgbd.RGBDImage, folder string) error {
	for i, im := range images {
		prediction, err := m.Clf.Predict(im)
		if err != nil {
			return errors.Wrapf(err, "cannot predict %q", examples[i].Name)
		}
		path := filepath.Join(folder, examples[i].Name+predictionSuffix)
		if err := rgbd.SaveLabelImage(path, prediction, &m.Palette); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) Load(r io.Reader) error {
	d := gob.NewDecoder(r)
	return d.Decode(m)
}

func (m *Model) Save(w io.Writer) error {
	e := gob.NewEncoder(w)
	return e.Encode(m)
}

func saveModel(path string, m *Model) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error saving model")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return m.Save(f)
}

// loadModel reads a model; the forest logs to logger.
func loadModel(path string, logger golog.Logger) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening model file")
	}
	defer f.Close()

	m := &Model{Clf: forest.NewClassifier(config.Default(), logger)}
	if err := m.Load(f); err != nil {
		return nil, errors.Wrapf(err, "cannot decode model %q", path)
	}
	return m, nil
}
