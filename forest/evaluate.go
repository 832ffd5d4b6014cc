package forest

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/dirkholz/curfil/rgbd"
)

// Evaluation summarizes the predictions of a forest on labeled images.
// Pixels with ignored ground truth labels are not counted.
type Evaluation struct {
	// ConfusionMatrix[actual][predicted] counts pixels.
	ConfusionMatrix [][]int
	Accuracy        float64
	// ClassAccuracy is the recall of every class, NaN for classes
	// without ground truth pixels.
	ClassAccuracy     []float64
	MeanClassAccuracy float64
	NumPixels         int
}

// Evaluate predicts every image and compares the result to its labels.
func (f *Classifier) Evaluate(images []rgbd.LabeledRGBDImage) (*Evaluation, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to evaluate")
	}

	numClasses := f.NumClasses
	predictions := make([]*rgbd.LabelImage, len(images))
	for i, im := range images {
		p, err := f.Predict(im.RGBD)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		predictions[i] = p
		for y := 0; y < im.Labels.Height(); y++ {
			for x := 0; x < im.Labels.Width(); x++ {
				numClasses = max(numClasses, int(im.Labels.Label(x, y))+1)
			}
		}
	}

	e := &Evaluation{ConfusionMatrix: make([][]int, numClasses)}
	for i := range e.ConfusionMatrix {
		e.ConfusionMatrix[i] = make([]int, numClasses)
	}

	correct := 0
	for i, im := range images {
		for y := 0; y < im.Labels.Height(); y++ {
			for x := 0; x < im.Labels.Width(); x++ {
				actual := im.Labels.Label(x, y)
				if f.Config.IsIgnoredLabel(actual) {
					continue
				}
				predicted := predictions[i].Label(x, y)
				e.ConfusionMatrix[actual][predicted]++
				e.NumPixels++
				if actual == predicted {
					correct++
				}
			}
		}
	}
	if e.NumPixels == 0 {
		return nil, errors.New("no labeled pixels to evaluate")
	}
	e.Accuracy = float64(correct) / float64(e.NumPixels)

	var present stats.Float64Data
	e.ClassAccuracy = make([]float64, numClasses)
	for class, row := range e.ConfusionMatrix {
		total, _ := stats.Sum(intsToFloats(row))
		if total == 0 {
			e.ClassAccuracy[class] = math.NaN()
			continue
		}
		e.ClassAccuracy[class] = float64(row[class]) / total
		present = append(present, e.ClassAccuracy[class])
	}
	mean, err := stats.Mean(present)
	if err != nil {
		return nil, errors.Wrap(err, "mean class accuracy")
	}
	e.MeanClassAccuracy = mean
	return e, nil
}

func intsToFloats(v []int) stats.Float64Data {
	out := make(stats.Float64Data, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
