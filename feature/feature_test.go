package feature

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/dirkholz/curfil/rgbd"
)

const (
	testWidth  = 32
	testHeight = 24
)

// raw values used to build the test image, kept for brute force checks
type rawImage struct {
	color [rgbd.ColorChannels][testWidth][testHeight]float64
	depth [testWidth][testHeight]rgbd.Depth
}

func newTestImage(t *testing.T, seed int64, invalidEvery int) (*rgbd.RGBDImage, *rawImage) {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed))
	im, err := rgbd.NewRGBDImage(testWidth, testHeight)
	test.That(t, err, test.ShouldBeNil)

	raw := &rawImage{}
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			for c := 0; c < rgbd.ColorChannels; c++ {
				v := float64(rnd.Intn(256))
				raw.color[c][x][y] = v
				im.SetColor(x, y, c, v)
			}
			d := rgbd.Depth(500 + rnd.Intn(4000))
			if invalidEvery > 0 && (x*testHeight+y)%invalidEvery == 0 {
				d = rgbd.InvalidDepth
			}
			raw.depth[x][y] = d
			im.SetDepth(x, y, d)
		}
	}
	test.That(t, im.Integrate(), test.ShouldBeNil)
	return im, raw
}

// bruteForce averages the box the integral lookup covers:
// x in (cx-w, cx+w], y in (cy-h, cy+h].
func (raw *rawImage) colorMean(cx, cy, w, h, channel int) float64 {
	var sum float64
	var n int
	for x := cx - w + 1; x <= cx+w; x++ {
		for y := cy - h + 1; y <= cy+h; y++ {
			sum += raw.color[channel][x][y]
			n++
		}
	}
	return sum / float64(n)
}

func (raw *rawImage) depthMean(cx, cy, w, h int) float64 {
	var sum float64
	var n int
	for x := cx - w + 1; x <= cx+w; x++ {
		for y := cy - h + 1; y <= cy+h; y++ {
			if d := raw.depth[x][y]; d.Valid() {
				sum += d.Meters()
				n++
			}
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func TestAverageRegionMatchesBruteForce(t *testing.T) {
	im, raw := newTestImage(t, 1, 7)
	p, err := NewPixelInstance(im, 0, 15, 11)
	test.That(t, err, test.ShouldBeNil)

	for ox := -6; ox <= 6; ox += 3 {
		for oy := -4; oy <= 4; oy += 2 {
			for _, region := range []Region{{1, 1}, {2, 3}, {4, 2}, {0, 0}} {
				w, h := max(1, region.X), max(1, region.Y)
				cx, cy := 15+ox, 11+oy
				if cx-w < 0 || cx+w >= testWidth || cy-h < 0 || cy+h >= testHeight {
					continue
				}
				for c := 0; c < rgbd.ColorChannels; c++ {
					got := p.AverageRegionColor(Offset{ox, oy}, region, c)
					test.That(t, got, test.ShouldAlmostEqual, raw.colorMean(cx, cy, w, h, c), 1e-9)
				}
				want := raw.depthMean(cx, cy, w, h)
				got := p.AverageRegionDepth(Offset{ox, oy}, region)
				if math.IsNaN(want) {
					test.That(t, math.IsNaN(got), test.ShouldBeTrue)
				} else {
					test.That(t, got, test.ShouldAlmostEqual, want, 1e-9)
				}
			}
		}
	}
}

func TestAverageRegionOutsideImage(t *testing.T) {
	im, _ := newTestImage(t, 2, 0)
	p, err := NewPixelInstance(im, 0, 2, 2)
	test.That(t, err, test.ShouldBeNil)

	// left edge: 2-2-1 < 0
	test.That(t, math.IsNaN(p.AverageRegionColor(Offset{-2, 0}, Region{1, 1}, 0)), test.ShouldBeTrue)
	test.That(t, math.IsNaN(p.AverageRegionDepth(Offset{-2, 0}, Region{1, 1})), test.ShouldBeTrue)
	// top edge with region clamped to 1
	test.That(t, math.IsNaN(p.AverageRegionColor(Offset{0, -2}, Region{0, 0}, 1)), test.ShouldBeTrue)
	// right and bottom edges
	test.That(t, math.IsNaN(p.AverageRegionColor(Offset{testWidth, 0}, Region{1, 1}, 2)), test.ShouldBeTrue)
	test.That(t, math.IsNaN(p.AverageRegionDepth(Offset{0, testHeight - 3}, Region{1, 1})), test.ShouldBeTrue)
	// just inside
	test.That(t, math.IsNaN(p.AverageRegionColor(Offset{-1, -1}, Region{1, 1}, 0)), test.ShouldBeFalse)
}

func TestAverageRegionDepthWithoutValidPixels(t *testing.T) {
	im, err := rgbd.NewRGBDImage(8, 8)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if x >= 4 {
				im.SetDepth(x, y, 1500)
			}
		}
	}
	test.That(t, im.Integrate(), test.ShouldBeNil)

	p, err := NewPixelInstanceWithDepth(im, 0, 1000, 5, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(p.AverageRegionDepth(Offset{-3, 0}, Region{1, 1})), test.ShouldBeTrue)
	test.That(t, p.AverageRegionDepth(Offset{1, 0}, Region{1, 1}), test.ShouldAlmostEqual, 1.5)
}

func TestPixelInstanceDepth(t *testing.T) {
	im, raw := newTestImage(t, 3, 5)
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			p, err := NewPixelInstance(im, 3, x, y)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, p.Depth(), test.ShouldEqual, raw.depth[x][y])
			test.That(t, p.Label(), test.ShouldEqual, rgbd.LabelType(3))
			test.That(t, p.Weight(), test.ShouldEqual, 1.0)
		}
	}
}

func TestPixelInstanceConstructionErrors(t *testing.T) {
	im, _ := newTestImage(t, 4, 0)
	_, err := NewPixelInstance(im, 0, testWidth, 0)
	test.That(t, errors.Is(err, ErrOutOfImage), test.ShouldBeTrue)
	_, err = NewPixelInstance(im, 0, 0, -1)
	test.That(t, errors.Is(err, ErrOutOfImage), test.ShouldBeTrue)

	raw, err := rgbd.NewRGBDImage(4, 4)
	test.That(t, err, test.ShouldBeNil)
	_, err = NewPixelInstance(raw, 0, 1, 1)
	test.That(t, errors.Is(err, ErrNotIntegrated), test.ShouldBeTrue)

	_, err = NewPixelInstanceWithDepth(im, 0, rgbd.InvalidDepth, 1, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestZeroDepthIsMissing(t *testing.T) {
	im, err := rgbd.NewRGBDImage(8, 8)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			im.SetColor(x, y, 0, float64(x))
			im.SetDepth(x, y, 0)
		}
	}
	test.That(t, im.Integrate(), test.ShouldBeNil)
	test.That(t, im.DepthValid(7, 7), test.ShouldEqual, int32(0))

	p, err := NewPixelInstance(im, 0, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Depth(), test.ShouldEqual, rgbd.InvalidDepth)

	depthFeature, err := NewImageFeatureFunction(Depth, Offset{1, 0}, Region{1, 1}, 0, Offset{0, 1}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	colorFeature, err := NewImageFeatureFunction(Color, Offset{1, 0}, Region{1, 1}, 0, Offset{0, 1}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			p, err := NewPixelInstance(im, 0, x, y)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, math.IsNaN(depthFeature.CalculateFeatureResponse(p)), test.ShouldBeTrue)
			test.That(t, math.IsNaN(colorFeature.CalculateFeatureResponse(p)), test.ShouldBeTrue)
		}
	}

	_, err = NewPixelInstanceWithDepth(im, 0, 0, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)

	s := NewSamples(1)
	s.SetPixel(0, p, 0)
	restored := s.Pixel(0, []*rgbd.RGBDImage{im})
	test.That(t, restored.Depth().Valid(), test.ShouldBeFalse)

	// a valid pixel surrounded by missing depth sees NaN boxes
	im, err = rgbd.NewRGBDImage(8, 8)
	test.That(t, err, test.ShouldBeNil)
	im.SetDepth(4, 4, 1000)
	test.That(t, im.Integrate(), test.ShouldBeNil)
	p, err = NewPixelInstance(im, 0, 4, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Depth(), test.ShouldEqual, rgbd.Depth(1000))
	far, err := NewImageFeatureFunction(Depth, Offset{-2, -2}, Region{1, 1}, 0, Offset{2, 2}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(far.CalculateFeatureResponse(p)), test.ShouldBeTrue)
}

func TestNormalize(t *testing.T) {
	xy := XY{7, -5}
	test.That(t, xy.Normalize(1000), test.ShouldResemble, xy)
	test.That(t, xy.Normalize(2000), test.ShouldResemble, XY{3, -2})
	test.That(t, xy.Normalize(500), test.ShouldResemble, XY{14, -10})
	test.That(t, func() { xy.Normalize(rgbd.InvalidDepth) }, test.ShouldPanic)
	test.That(t, func() { xy.Normalize(0) }, test.ShouldPanic)
}

func TestInvalidFeature(t *testing.T) {
	for _, typ := range []Type{Depth, Color} {
		_, err := NewImageFeatureFunction(typ, Offset{3, 4}, Region{1, 1}, 0, Offset{3, 4}, Region{2, 2}, 1)
		test.That(t, errors.Is(err, ErrInvalidFeature), test.ShouldBeTrue)
	}
}

func TestFeatureResponse(t *testing.T) {
	im, raw := newTestImage(t, 5, 0)
	p, err := NewPixelInstanceWithDepth(im, 0, 1000, 16, 12)
	test.That(t, err, test.ShouldBeNil)

	f, err := NewImageFeatureFunction(Color, Offset{-3, 2}, Region{2, 2}, 1, Offset{4, -1}, Region{1, 3}, 2)
	test.That(t, err, test.ShouldBeNil)
	want := raw.colorMean(13, 14, 2, 2, 1) - raw.colorMean(20, 11, 1, 3, 2)
	test.That(t, f.CalculateFeatureResponse(p), test.ShouldAlmostEqual, want, 1e-9)

	f, err = NewImageFeatureFunction(Depth, Offset{-3, 2}, Region{2, 2}, 0, Offset{4, -1}, Region{1, 3}, 0)
	test.That(t, err, test.ShouldBeNil)
	want = raw.depthMean(13, 14, 2, 2) - raw.depthMean(20, 11, 1, 3)
	test.That(t, f.CalculateFeatureResponse(p), test.ShouldAlmostEqual, want, 1e-9)

	// at two metres the geometry halves
	far, err := NewPixelInstanceWithDepth(im, 0, 2000, 16, 12)
	test.That(t, err, test.ShouldBeNil)
	f, err = NewImageFeatureFunction(Color, Offset{-6, 4}, Region{4, 4}, 0, Offset{8, -2}, Region{2, 6}, 0)
	test.That(t, err, test.ShouldBeNil)
	want = raw.colorMean(13, 14, 2, 2, 0) - raw.colorMean(20, 11, 1, 3, 0)
	test.That(t, f.CalculateFeatureResponse(far), test.ShouldAlmostEqual, want, 1e-9)

	// out of image
	f, err = NewImageFeatureFunction(Color, Offset{-20, 0}, Region{1, 1}, 0, Offset{0, 0}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(f.CalculateFeatureResponse(p)), test.ShouldBeTrue)
}

func TestFeatureResponseInvalidDepth(t *testing.T) {
	im, _ := newTestImage(t, 6, 1) // every pixel invalid
	p, err := NewPixelInstance(im, 0, 10, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Depth().Valid(), test.ShouldBeFalse)

	f, err := NewImageFeatureFunction(Color, Offset{1, 0}, Region{1, 1}, 0, Offset{0, 1}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(f.CalculateFeatureResponse(p)), test.ShouldBeTrue)
}

func TestSortKey(t *testing.T) {
	f, err := NewImageFeatureFunction(Color, Offset{-1, 2}, Region{5, 5}, 2, Offset{9, 9}, Region{1, 1}, 1)
	test.That(t, err, test.ShouldBeNil)
	want := uint32(1)<<30 | uint32(2)<<26 | uint32(1)<<22 | uint32(129)<<14 | uint32(126)<<6
	test.That(t, f.SortKey(), test.ShouldEqual, want)

	// region and offset2 do not change the key
	g, err := NewImageFeatureFunction(Color, Offset{-1, 2}, Region{1, 2}, 2, Offset{-9, 3}, Region{7, 1}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.SortKey(), test.ShouldEqual, f.SortKey())

	d, err := NewImageFeatureFunction(Depth, Offset{-1, 2}, Region{5, 5}, 0, Offset{9, 9}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.SortKey(), test.ShouldBeLessThan, f.SortKey())
}

func randomFeature(rnd *rand.Rand) ImageFeatureFunction {
	for {
		typ := Type(rnd.Intn(2))
		f, err := NewImageFeatureFunction(typ,
			Offset{rnd.Intn(255) - 127, rnd.Intn(255) - 127}, Region{rnd.Intn(128), rnd.Intn(128)}, uint8(rnd.Intn(3)),
			Offset{rnd.Intn(255) - 127, rnd.Intn(255) - 127}, Region{rnd.Intn(128), rnd.Intn(128)}, uint8(rnd.Intn(3)))
		if err == nil {
			return f
		}
	}
}

func TestFeaturesAndThresholdsRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	const numFeatures, numThresholds = 50, 4

	b := NewFeaturesAndThresholds(numFeatures, numThresholds)
	want := make([]ImageFeatureFunction, numFeatures)
	for i := range want {
		want[i] = randomFeature(rnd)
		test.That(t, b.SetFeatureFunction(i, want[i]), test.ShouldBeNil)
		for th := 0; th < numThresholds; th++ {
			b.SetThreshold(th, i, rnd.NormFloat64())
		}
	}
	for i := range want {
		got, err := b.FeatureFunction(i)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, want[i])
	}
	test.That(t, b.Offset1X()[3], test.ShouldEqual, int8(want[3].Offset1().X))
	test.That(t, b.Channel2()[7], test.ShouldEqual, int8(want[7].Channel2()))

	data, err := b.MarshalBinary()
	test.That(t, err, test.ShouldBeNil)
	var decoded FeaturesAndThresholds
	test.That(t, decoded.UnmarshalBinary(data), test.ShouldBeNil)
	test.That(t, decoded.NumFeatures(), test.ShouldEqual, numFeatures)
	test.That(t, decoded.NumThresholds(), test.ShouldEqual, numThresholds)
	got, err := decoded.FeatureFunctions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)
	test.That(t, decoded.Thresholds(), test.ShouldResemble, b.Thresholds())

	test.That(t, decoded.UnmarshalBinary(data[:len(data)-1]), test.ShouldNotBeNil)
}

func TestFeatureBinaryEncoding(t *testing.T) {
	f, err := NewImageFeatureFunction(Depth, Offset{-100, 3}, Region{12, 0}, 0, Offset{4, 127}, Region{1, 2}, 0)
	test.That(t, err, test.ShouldBeNil)
	data, err := f.MarshalBinary()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldHaveLength, NumFeatureRows)

	var g ImageFeatureFunction
	test.That(t, g.UnmarshalBinary(data), test.ShouldBeNil)
	test.That(t, g, test.ShouldResemble, f)

	// offsets beyond int8 cannot be stored in a batch
	big, err := NewImageFeatureFunction(Depth, Offset{200, 0}, Region{1, 1}, 0, Offset{0, 0}, Region{1, 1}, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, NewFeaturesAndThresholds(1, 1).SetFeatureFunction(0, big), test.ShouldNotBeNil)
}

func TestPermute(t *testing.T) {
	rnd := rand.New(rand.NewSource(8))
	b := NewFeaturesAndThresholds(3, 2)
	feats := []ImageFeatureFunction{randomFeature(rnd), randomFeature(rnd), randomFeature(rnd)}
	for i, f := range feats {
		test.That(t, b.SetFeatureFunction(i, f), test.ShouldBeNil)
		b.SetThreshold(0, i, float64(i))
		b.SetThreshold(1, i, float64(10+i))
	}
	b.Permute([]int{2, 0, 1})
	got, err := b.FeatureFunctions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []ImageFeatureFunction{feats[2], feats[0], feats[1]})
	test.That(t, b.Thresholds(), test.ShouldResemble, []float64{2, 0, 1, 12, 10, 11})
}

func TestSamples(t *testing.T) {
	im, raw := newTestImage(t, 9, 0)
	s := NewSamples(3)
	for i := 0; i < 3; i++ {
		p, err := NewPixelInstance(im, rgbd.LabelType(i+1), 4+i, 5+2*i)
		test.That(t, err, test.ShouldBeNil)
		s.SetPixel(i, p, 0)
	}
	test.That(t, s.Len(), test.ShouldEqual, 3)
	test.That(t, s.Column(ColumnX), test.ShouldResemble, []int32{4, 5, 6})
	test.That(t, s.Column(ColumnLabel), test.ShouldResemble, []int32{1, 2, 3})

	c := s.Copy()
	s.Column(ColumnX)[0] = 99
	test.That(t, c.X(0), test.ShouldEqual, 4)
	test.That(t, s.X(0), test.ShouldEqual, 99)

	p := c.Pixel(2, []*rgbd.RGBDImage{im})
	test.That(t, p.X(), test.ShouldEqual, 6)
	test.That(t, p.Y(), test.ShouldEqual, 9)
	test.That(t, p.Depth(), test.ShouldEqual, raw.depth[6][9])
	test.That(t, p.Label(), test.ShouldEqual, rgbd.LabelType(3))
}
