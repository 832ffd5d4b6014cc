// Package feature implements per-pixel depth and color features over
// integrated RGB-D images, and the structure-of-arrays batches that carry
// candidate features and samples to an evaluation backend.
package feature

import (
	"math"

	"github.com/pkg/errors"

	"github.com/dirkholz/curfil/rgbd"
)

var (
	// ErrOutOfImage is returned when a sample is placed outside its image.
	ErrOutOfImage = errors.New("pixel is outside of the image")
	// ErrNotIntegrated is returned for images without integral channels.
	ErrNotIntegrated = errors.New("image is not integrated")
)

// PixelInstance is a labeled training or test sample at one pixel.
//
// It borrows its image: the image must outlive every PixelInstance built on it.
type PixelInstance struct {
	image *rgbd.RGBDImage
	label rgbd.LabelType
	point Point
	depth rgbd.Depth
}

// NewPixelInstance recovers the pixel depth from the integral depth image.
// The depth is invalid if the pixel has no (or an inconsistent) measurement.
func NewPixelInstance(image *rgbd.RGBDImage, label rgbd.LabelType, x, y int) (*PixelInstance, error) {
	if err := checkImage(image, x, y); err != nil {
		return nil, err
	}

	p := &PixelInstance{image: image, label: label, point: Point{x, y}, depth: rgbd.InvalidDepth}

	valid := image.DepthValid(x, y)
	if x > 0 {
		valid -= image.DepthValid(x-1, y)
	}
	if y > 0 {
		valid -= image.DepthValid(x, y-1)
	}
	if x > 0 && y > 0 {
		valid += image.DepthValid(x-1, y-1)
	}
	if valid != 1 {
		return p, nil
	}

	d := image.DepthSum(x, y)
	if x > 0 {
		d -= image.DepthSum(x-1, y)
	}
	if y > 0 {
		d -= image.DepthSum(x, y-1)
	}
	if x > 0 && y > 0 {
		d += image.DepthSum(x-1, y-1)
	}
	if d > 0 {
		p.depth = rgbd.Depth(d)
	}
	return p, nil
}

// NewPixelInstanceWithDepth uses a known, valid depth.
func NewPixelInstanceWithDepth(image *rgbd.RGBDImage, label rgbd.LabelType, depth rgbd.Depth, x, y int) (*PixelInstance, error) {
	if err := checkImage(image, x, y); err != nil {
		return nil, err
	}
	if !depth.Valid() {
		return nil, errors.Errorf("invalid depth %d for pixel %d,%d", depth, x, y)
	}
	return &PixelInstance{image: image, label: label, point: Point{x, y}, depth: depth}, nil
}

func checkImage(image *rgbd.RGBDImage, x, y int) error {
	if image == nil {
		return errors.New("nil image")
	}
	if !image.InImage(x, y) {
		return errors.Wrapf(ErrOutOfImage, "pixel %d,%d in %dx%d image", x, y, image.Width(), image.Height())
	}
	if !image.Integrated() {
		return ErrNotIntegrated
	}
	return nil
}

func (p *PixelInstance) Image() *rgbd.RGBDImage { return p.image }
func (p *PixelInstance) Label() rgbd.LabelType  { return p.label }
func (p *PixelInstance) Depth() rgbd.Depth      { return p.depth }
func (p *PixelInstance) X() int                 { return p.point.X }
func (p *PixelInstance) Y() int                 { return p.point.Y }
func (p *PixelInstance) Width() int             { return p.image.Width() }
func (p *PixelInstance) Height() int            { return p.image.Height() }

// Weight is the sample weight; samples are uniformly weighted.
func (p *PixelInstance) Weight() float64 { return 1 }

// box returns the corners of the box with half extents region around
// pixel+offset, or ok=false if it leaves the image.
func (p *PixelInstance) box(offset Offset, region Region) (leftX, rightX, upperY, lowerY int, ok bool) {
	w := max(1, region.X)
	h := max(1, region.Y)

	x := p.point.X + offset.X
	y := p.point.Y + offset.Y

	leftX, rightX = x-w, x+w
	upperY, lowerY = y-h, y+h

	if leftX < 0 || rightX >= p.image.Width() || upperY < 0 || lowerY >= p.image.Height() {
		return 0, 0, 0, 0, false
	}
	return leftX, rightX, upperY, lowerY, true
}

// AverageRegionColor returns the mean of a color channel over the box of
// half extents max(1, region) centred at pixel+offset, NaN if the box is not
// fully inside the image.
func (p *PixelInstance) AverageRegionColor(offset Offset, region Region, channel int) float64 {
	leftX, rightX, upperY, lowerY, ok := p.box(offset, region)
	if !ok {
		return math.NaN()
	}

	lowerRight := p.image.Color(rightX, lowerY, channel)
	lowerLeft := p.image.Color(leftX, lowerY, channel)
	upperRight := p.image.Color(rightX, upperY, channel)
	upperLeft := p.image.Color(leftX, upperY, channel)

	sum := (lowerRight - upperRight) + (upperLeft - lowerLeft)
	area := float64((rightX - leftX) * (lowerY - upperY))
	return sum / area
}

// AverageRegionDepth returns the mean depth in metres over the valid pixels
// of the box, NaN if the box leaves the image or has no valid depth.
func (p *PixelInstance) AverageRegionDepth(offset Offset, region Region) float64 {
	leftX, rightX, upperY, lowerY, ok := p.box(offset, region)
	if !ok {
		return math.NaN()
	}

	numValid := (p.image.DepthValid(rightX, lowerY) - p.image.DepthValid(rightX, upperY)) +
		(p.image.DepthValid(leftX, upperY) - p.image.DepthValid(leftX, lowerY))
	if numValid <= 0 {
		return math.NaN()
	}

	sum := (p.depthAt(rightX, lowerY) - p.depthAt(rightX, upperY)) +
		(p.depthAt(leftX, upperY) - p.depthAt(leftX, lowerY))

	return float64(sum) / 1000.0 / float64(numValid)
}

// depthAt returns the integral depth, or InvalidDepth outside the image.
func (p *PixelInstance) depthAt(x, y int) int64 {
	if !p.image.InImage(x, y) {
		return int64(rgbd.InvalidDepth)
	}
	return p.image.DepthSum(x, y)
}
