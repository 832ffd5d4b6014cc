package feature

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Type is the kind of a feature.
type Type int8

const (
	Depth Type = iota
	Color
)

func (t Type) String() string {
	switch t {
	case Depth:
		return "depth"
	case Color:
		return "color"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// ParseType parses "depth" or "color".
func ParseType(s string) (Type, error) {
	switch s {
	case "depth":
		return Depth, nil
	case "color":
		return Color, nil
	}
	return 0, errors.Errorf("unknown feature type %q", s)
}

// ErrInvalidFeature is returned for a feature whose two offsets coincide;
// its response would always be zero.
var ErrInvalidFeature = errors.New("illegal feature: offset1 equals offset2")

// ImageFeatureFunction compares two depth-normalized boxes around a pixel.
type ImageFeatureFunction struct {
	featureType Type

	offset1  Offset
	region1  Region
	channel1 uint8

	offset2  Offset
	region2  Region
	channel2 uint8
}

// NewImageFeatureFunction returns ErrInvalidFeature if offset1 == offset2.
func NewImageFeatureFunction(featureType Type,
	offset1 Offset, region1 Region, channel1 uint8,
	offset2 Offset, region2 Region, channel2 uint8,
) (ImageFeatureFunction, error) {
	if offset1 == offset2 {
		return ImageFeatureFunction{}, errors.Wrapf(ErrInvalidFeature, "%s feature at offset %v", featureType, offset1)
	}
	if featureType != Depth && featureType != Color {
		return ImageFeatureFunction{}, errors.Errorf("unknown feature type %d", featureType)
	}
	return ImageFeatureFunction{
		featureType: featureType,
		offset1:     offset1,
		region1:     region1,
		channel1:    channel1,
		offset2:     offset2,
		region2:     region2,
		channel2:    channel2,
	}, nil
}

func (f ImageFeatureFunction) Type() Type      { return f.featureType }
func (f ImageFeatureFunction) Offset1() Offset { return f.offset1 }
func (f ImageFeatureFunction) Region1() Region { return f.region1 }
func (f ImageFeatureFunction) Channel1() uint8 { return f.channel1 }
func (f ImageFeatureFunction) Offset2() Offset { return f.offset2 }
func (f ImageFeatureFunction) Region2() Region { return f.region2 }
func (f ImageFeatureFunction) Channel2() uint8 { return f.channel2 }
func (f ImageFeatureFunction) Valid() bool     { return f.offset1 != f.offset2 }

// SortKey packs type, both channels and offset1 into 32 bits:
//
//	bits 30-31 type, 26-29 channel1, 22-25 channel2,
//	14-21 offset1.y+127, 6-13 offset1.x+127
//
// Region and offset2 are not part of the key.
func (f ImageFeatureFunction) SortKey() uint32 {
	var key uint32
	key |= uint32(uint8(f.featureType)&0x03) << 30
	key |= uint32(f.channel1&0x0F) << 26
	key |= uint32(f.channel2&0x0F) << 22
	key |= uint32(uint8(f.offset1.Y+127)) << 14
	key |= uint32(uint8(f.offset1.X+127)) << 6
	return key
}

// CalculateFeatureResponse evaluates the feature at p. The result is NaN if
// p has no valid depth or a box falls outside the image.
func (f ImageFeatureFunction) CalculateFeatureResponse(p *PixelInstance) float64 {
	depth := p.Depth()
	if !depth.Valid() {
		return math.NaN()
	}

	o1, r1 := f.offset1.Normalize(depth), f.region1.Normalize(depth)
	o2, r2 := f.offset2.Normalize(depth), f.region2.Normalize(depth)

	switch f.featureType {
	case Depth:
		a := p.AverageRegionDepth(o1, r1)
		if math.IsNaN(a) {
			return a
		}
		b := p.AverageRegionDepth(o2, r2)
		if math.IsNaN(b) {
			return b
		}
		return a - b
	case Color:
		a := p.AverageRegionColor(o1, r1, int(f.channel1))
		if math.IsNaN(a) {
			return a
		}
		b := p.AverageRegionColor(o2, r2, int(f.channel2))
		if math.IsNaN(b) {
			return b
		}
		return a - b
	}
	return math.NaN()
}

func (f ImageFeatureFunction) String() string {
	return fmt.Sprintf("%s %v,%v,%d - %v,%v,%d", f.featureType,
		f.offset1, f.region1, f.channel1, f.offset2, f.region2, f.channel2)
}

// MarshalBinary encodes the feature in the row order of FeaturesAndThresholds.
func (f ImageFeatureFunction) MarshalBinary() ([]byte, error) {
	row, err := f.row()
	if err != nil {
		return nil, err
	}
	out := make([]byte, NumFeatureRows)
	for i, v := range row {
		out[i] = byte(v)
	}
	return out, nil
}

// UnmarshalBinary decodes a feature written by MarshalBinary.
func (f *ImageFeatureFunction) UnmarshalBinary(data []byte) error {
	if len(data) != NumFeatureRows {
		return errors.Errorf("feature encoding has %d bytes, expected %d", len(data), NumFeatureRows)
	}
	var row [NumFeatureRows]int8
	for i, b := range data {
		row[i] = int8(b)
	}
	decoded, err := fromRow(row)
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

// row lays out the feature as the 11 int8 fields of a batch column.
func (f ImageFeatureFunction) row() ([NumFeatureRows]int8, error) {
	var row [NumFeatureRows]int8
	values := [NumFeatureRows]int{
		int(f.featureType),
		f.offset1.X, f.offset1.Y, f.offset2.X, f.offset2.Y,
		f.region1.X, f.region1.Y, f.region2.X, f.region2.Y,
		int(f.channel1), int(f.channel2),
	}
	for i, v := range values {
		if v < math.MinInt8 || v > math.MaxInt8 {
			return row, errors.Errorf("feature %v: field %d value %d does not fit in int8", f, i, v)
		}
		row[i] = int8(v)
	}
	return row, nil
}

func fromRow(row [NumFeatureRows]int8) (ImageFeatureFunction, error) {
	return NewImageFeatureFunction(Type(row[rowType]),
		Offset{int(row[rowOffset1X]), int(row[rowOffset1Y])},
		Region{int(row[rowRegion1X]), int(row[rowRegion1Y])},
		uint8(row[rowChannel1]),
		Offset{int(row[rowOffset2X]), int(row[rowOffset2Y])},
		Region{int(row[rowRegion2X]), int(row[rowRegion2Y])},
		uint8(row[rowChannel2]),
	)
}
