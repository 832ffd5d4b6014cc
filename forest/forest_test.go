package forest

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/dirkholz/curfil/config"
	"github.com/dirkholz/curfil/rgbd"
)

func fitScene(t *testing.T, cfg config.TrainingConfiguration, scenes []rgbd.LabeledRGBDImage,
	options ...func(forestConfiger),
) *Classifier {
	t.Helper()
	clf := NewClassifier(cfg, golog.NewTestLogger(t), options...)
	test.That(t, clf.Fit(context.Background(), scenes), test.ShouldBeNil)
	return clf
}

func TestClassifierFitPredict(t *testing.T) {
	scene := rampScene(t)
	clf := fitScene(t, sceneConfig(), []rgbd.LabeledRGBDImage{scene}, NumWorkers(2))

	test.That(t, clf.Trees, test.ShouldHaveLength, 3)
	test.That(t, clf.NumClasses, test.ShouldEqual, 3)
	for i, rt := range clf.Trees {
		test.That(t, rt.ID, test.ShouldEqual, i)
		test.That(t, rt.Tree, test.ShouldNotBeNil)
	}

	probs, err := clf.PredictProb(scene.RGBD)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, probs, test.ShouldHaveLength, sceneSize*sceneSize)
	for _, prob := range probs {
		test.That(t, prob[0]+prob[1]+prob[2], test.ShouldAlmostEqual, 1.0)
	}

	prediction, err := clf.Predict(scene.RGBD)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, interiorAccuracy(prediction, scene), test.ShouldBeGreaterThanOrEqualTo, 0.9)
}

func TestClassifierOptions(t *testing.T) {
	cfg := sceneConfig()
	clf := NewClassifier(cfg, golog.NewTestLogger(t))
	test.That(t, clf.NTrees, test.ShouldEqual, cfg.NumTrees)
	test.That(t, clf.MinSplit, test.ShouldEqual, cfg.MinSampleCount)
	test.That(t, clf.MaxDepth, test.ShouldEqual, cfg.MaxDepth)
	test.That(t, clf.RandomSeed, test.ShouldEqual, cfg.RandomSeed)

	clf = fitScene(t, cfg, []rgbd.LabeledRGBDImage{rampScene(t)},
		NumTrees(2), MaxDepth(3), MinSplit(8), Impurity(Gini), RandomSeed(7))
	test.That(t, clf.Trees, test.ShouldHaveLength, 2)
	test.That(t, clf.Config.NumTrees, test.ShouldEqual, 2)
	test.That(t, clf.Config.MaxDepth, test.ShouldEqual, 3)
	test.That(t, clf.Config.MinSampleCount, test.ShouldEqual, 8)
	test.That(t, clf.Config.Impurity, test.ShouldEqual, "gini")
	test.That(t, clf.Config.RandomSeed, test.ShouldEqual, int64(7))
	for _, rt := range clf.Trees {
		test.That(t, rt.Tree.Depth(), test.ShouldBeLessThanOrEqualTo, 3)
	}
}

func TestClassifierIndependentOfWorkers(t *testing.T) {
	scenes := []rgbd.LabeledRGBDImage{rampScene(t), rampScene(t)}

	host := fitScene(t, sceneConfig(), scenes, NumWorkers(1))

	cfg := sceneConfig()
	cfg.Backend = config.BackendParallel
	cfg.Workers = 2
	parallel := fitScene(t, cfg, scenes, NumWorkers(3))

	for i := range host.Trees {
		test.That(t, parallel.Trees[i].Prior, test.ShouldResemble, host.Trees[i].Prior)
		test.That(t, parallel.Trees[i].Tree, test.ShouldResemble, host.Trees[i].Tree)
	}

	other := fitScene(t, sceneConfig(), scenes, NumWorkers(1), RandomSeed(99))
	test.That(t, other.Trees[0].Tree, test.ShouldNotResemble, host.Trees[0].Tree)
}

func TestClassifierEvaluate(t *testing.T) {
	scene := rampScene(t)
	clf := fitScene(t, sceneConfig(), []rgbd.LabeledRGBDImage{scene})

	e, err := clf.Evaluate([]rgbd.LabeledRGBDImage{scene})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e.NumPixels, test.ShouldEqual, (sceneSize-1)*sceneSize)
	test.That(t, e.ConfusionMatrix, test.ShouldHaveLength, 3)

	var total, correct int
	for actual, row := range e.ConfusionMatrix {
		for predicted, n := range row {
			total += n
			if actual == predicted {
				correct += n
			}
		}
	}
	test.That(t, total, test.ShouldEqual, e.NumPixels)
	test.That(t, e.Accuracy, test.ShouldAlmostEqual, float64(correct)/float64(total))
	test.That(t, e.Accuracy, test.ShouldBeGreaterThan, 0.5)
	test.That(t, math.IsNaN(e.ClassAccuracy[ignored]), test.ShouldBeTrue)
	test.That(t, e.MeanClassAccuracy, test.ShouldAlmostEqual, (e.ClassAccuracy[0]+e.ClassAccuracy[1])/2)

	_, err = clf.Evaluate(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestClassifierErrors(t *testing.T) {
	clf := NewClassifier(sceneConfig(), golog.NewTestLogger(t))
	test.That(t, clf.Fit(context.Background(), nil), test.ShouldNotBeNil)

	_, err := clf.Predict(rampScene(t).RGBD)
	test.That(t, err, test.ShouldNotBeNil)

	cfg := sceneConfig()
	cfg.FeatureCount = 0
	clf = NewClassifier(cfg, golog.NewTestLogger(t))
	test.That(t, clf.Fit(context.Background(), []rgbd.LabeledRGBDImage{rampScene(t)}), test.ShouldNotBeNil)
}

func TestEncodeDecode(t *testing.T) {
	scene := rampScene(t)
	clf := fitScene(t, sceneConfig(), []rgbd.LabeledRGBDImage{scene})

	var buf bytes.Buffer
	test.That(t, clf.Save(&buf), test.ShouldBeNil)

	clf2 := NewClassifier(config.Default(), golog.NewTestLogger(t))
	test.That(t, clf2.Load(&buf), test.ShouldBeNil)
	test.That(t, clf2.Config, test.ShouldResemble, clf.Config)
	test.That(t, clf2.Trees, test.ShouldHaveLength, len(clf.Trees))

	want, err := clf.Predict(scene.RGBD)
	test.That(t, err, test.ShouldBeNil)
	got, err := clf2.Predict(scene.RGBD)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)
}

func BenchmarkSceneFit(b *testing.B) {
	scenes := []rgbd.LabeledRGBDImage{rampScene(b)}
	for i := 0; i < b.N; i++ {
		clf := NewClassifier(sceneConfig(), golog.NewTestLogger(b))
		if err := clf.Fit(context.Background(), scenes); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScenePredict(b *testing.B) {
	scenes := []rgbd.LabeledRGBDImage{rampScene(b)}
	clf := NewClassifier(sceneConfig(), golog.NewTestLogger(b))
	if err := clf.Fit(context.Background(), scenes); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := clf.Predict(scenes[0].RGBD); err != nil {
			b.Fatal(err)
		}
	}
}
