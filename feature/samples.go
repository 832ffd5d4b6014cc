package feature

import (
	"math"

	"github.com/dirkholz/curfil/rgbd"
)

// Column indices of Samples.Data.
const (
	ColumnDepth = iota
	ColumnX
	ColumnY
	ColumnImage
	ColumnLabel

	// NumSampleColumns is the number of int32 values per sample.
	NumSampleColumns
)

// Samples is a structure-of-arrays batch of pixel samples.
//
// All columns share one []int32 backing array of 5 rows; the depth row holds
// float32 bits (metres). Column views alias Data, nothing is copied.
type Samples struct {
	Data []int32
	n    int
}

// NewSamples allocates a batch of n samples.
func NewSamples(n int) *Samples {
	return &Samples{Data: make([]int32, NumSampleColumns*n), n: n}
}

// WrapSamples builds a batch on a caller-owned buffer of at least 5*n values.
func WrapSamples(data []int32, n int) *Samples {
	return &Samples{Data: data[:NumSampleColumns*n], n: n}
}

func (s *Samples) Len() int { return s.n }

// Column returns a view of one column.
func (s *Samples) Column(c int) []int32 { return s.Data[c*s.n : (c+1)*s.n] }

func (s *Samples) Depth(i int) float32 {
	return math.Float32frombits(uint32(s.Data[ColumnDepth*s.n+i]))
}
func (s *Samples) X(i int) int                { return int(s.Data[ColumnX*s.n+i]) }
func (s *Samples) Y(i int) int                { return int(s.Data[ColumnY*s.n+i]) }
func (s *Samples) ImageNumber(i int) int      { return int(s.Data[ColumnImage*s.n+i]) }
func (s *Samples) Label(i int) rgbd.LabelType { return rgbd.LabelType(s.Data[ColumnLabel*s.n+i]) }

// Set stores sample i. Invalid depths are stored as a negative value.
func (s *Samples) Set(i int, depth float32, x, y, image int, label rgbd.LabelType) {
	s.Data[ColumnDepth*s.n+i] = int32(math.Float32bits(depth))
	s.Data[ColumnX*s.n+i] = int32(x)
	s.Data[ColumnY*s.n+i] = int32(y)
	s.Data[ColumnImage*s.n+i] = int32(image)
	s.Data[ColumnLabel*s.n+i] = int32(label)
}

// SetPixel stores a PixelInstance taken from the image with number image.
func (s *Samples) SetPixel(i int, p *PixelInstance, image int) {
	depth := float32(-1)
	if p.Depth().Valid() {
		depth = float32(p.Depth().Meters())
	}
	s.Set(i, depth, p.X(), p.Y(), image, p.Label())
}

// Pixel rebuilds sample i as a PixelInstance on its image.
func (s *Samples) Pixel(i int, images []*rgbd.RGBDImage) PixelInstance {
	depth := rgbd.InvalidDepth
	if d := s.Depth(i); d > 0 {
		depth = rgbd.DepthFromMeters(float64(d))
	}
	return PixelInstance{
		image: images[s.ImageNumber(i)],
		label: s.Label(i),
		point: Point{s.X(i), s.Y(i)},
		depth: depth,
	}
}

// CopyTo copies the batch into dst, which must have the same length.
func (s *Samples) CopyTo(dst *Samples) {
	copy(dst.Data, s.Data)
}

// Copy returns a deep copy.
func (s *Samples) Copy() *Samples {
	c := NewSamples(s.n)
	s.CopyTo(c)
	return c
}
