// Package rgbd holds registered depth+color images and their per-pixel labels.
//
// An RGBDImage is filled pixel by pixel and then integrated once; afterwards
// every accessor returns integral (summed-area) values, which is what the
// box-region features in package feature consume.
package rgbd

import (
	"github.com/pkg/errors"
)

// Depth is a depth measurement in millimetres.
type Depth int32

// InvalidDepth marks a missing or unusable depth measurement.
const InvalidDepth Depth = -1

// Valid reports whether d is a real measurement. A depth of 0 means the
// sensor returned nothing.
func (d Depth) Valid() bool { return d > 0 }

// Meters returns the depth in metres.
func (d Depth) Meters() float64 { return float64(d) / 1000.0 }

// DepthFromMeters converts a metric depth to Depth, rounding to the nearest mm.
func DepthFromMeters(m float64) Depth {
	return Depth(m*1000.0 + 0.5)
}

// ColorChannels is the number of color channels of an RGBDImage (CIELab).
const ColorChannels = 3

// RGBDImage is a color image registered with a depth image.
//
// Before Integrate is called the stored values are raw per-pixel values.
// After it, Color, DepthSum and DepthValid return inclusive integrals:
// the sum over all pixels (i, j) with i <= x and j <= y.
type RGBDImage struct {
	width, height int

	color      []float64 // ColorChannels planes of width*height
	depth      []int64
	depthValid []int32

	integrated bool
}

// NewRGBDImage returns an image of the given size with all depths invalid.
func NewRGBDImage(width, height int) (*RGBDImage, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	n := width * height
	return &RGBDImage{
		width:      width,
		height:     height,
		color:      make([]float64, ColorChannels*n),
		depth:      make([]int64, n),
		depthValid: make([]int32, n),
	}, nil
}

func (im *RGBDImage) Width() int  { return im.width }
func (im *RGBDImage) Height() int { return im.height }

// InImage reports whether (x, y) lies inside the image.
func (im *RGBDImage) InImage(x, y int) bool {
	return x >= 0 && y >= 0 && x < im.width && y < im.height
}

// Integrated reports whether Integrate has been called.
func (im *RGBDImage) Integrated() bool { return im.integrated }

func (im *RGBDImage) idx(x, y int) int { return y*im.width + x }

// SetColor sets a raw color value. It must be called before Integrate.
func (im *RGBDImage) SetColor(x, y, channel int, v float64) {
	im.color[channel*im.width*im.height+im.idx(x, y)] = v
}

// SetDepth sets a raw depth value; invalid depths are stored as missing.
// It must be called before Integrate.
func (im *RGBDImage) SetDepth(x, y int, d Depth) {
	i := im.idx(x, y)
	if !d.Valid() {
		im.depth[i] = 0
		im.depthValid[i] = 0
		return
	}
	im.depth[i] = int64(d)
	im.depthValid[i] = 1
}

// Color returns the (integral) value of a color channel.
func (im *RGBDImage) Color(x, y, channel int) float64 {
	return im.color[channel*im.width*im.height+im.idx(x, y)]
}

// DepthSum returns the (integral) depth in millimetres.
func (im *RGBDImage) DepthSum(x, y int) int64 {
	return im.depth[im.idx(x, y)]
}

// DepthValid returns the (integral) count of valid depth pixels.
func (im *RGBDImage) DepthValid(x, y int) int32 {
	return im.depthValid[im.idx(x, y)]
}

// Integrate replaces the raw values by their summed-area tables.
// Calling it twice is an error.
func (im *RGBDImage) Integrate() error {
	if im.integrated {
		return errors.New("image is already integrated")
	}
	n := im.width * im.height
	for c := 0; c < ColorChannels; c++ {
		integrate(im.color[c*n:(c+1)*n], im.width, im.height)
	}
	integrate(im.depth, im.width, im.height)
	integrate(im.depthValid, im.width, im.height)
	im.integrated = true
	return nil
}

func integrate[T float64 | int64 | int32](v []T, width, height int) {
	for y := 0; y < height; y++ {
		var row T
		for x := 0; x < width; x++ {
			row += v[y*width+x]
			if y > 0 {
				v[y*width+x] = row + v[(y-1)*width+x]
			} else {
				v[y*width+x] = row
			}
		}
	}
}
