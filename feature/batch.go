package feature

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Row indices of the feature matrix of FeaturesAndThresholds.
const (
	rowType = iota
	rowOffset1X
	rowOffset1Y
	rowOffset2X
	rowOffset2Y
	rowRegion1X
	rowRegion1Y
	rowRegion2X
	rowRegion2Y
	rowChannel1
	rowChannel2

	// NumFeatureRows is the number of int8 fields describing one feature.
	NumFeatureRows
)

// FeaturesAndThresholds is a structure-of-arrays batch of candidate features.
//
// The feature matrix has NumFeatureRows rows of NumFeatures int8 each, one
// row per descriptor field. Thresholds is a NumThresholds x NumFeatures
// row-major matrix.
type FeaturesAndThresholds struct {
	numFeatures   int
	numThresholds int
	features      []int8
	thresholds    []float64
}

// NewFeaturesAndThresholds allocates an empty batch.
func NewFeaturesAndThresholds(numFeatures, numThresholds int) *FeaturesAndThresholds {
	return &FeaturesAndThresholds{
		numFeatures:   numFeatures,
		numThresholds: numThresholds,
		features:      make([]int8, NumFeatureRows*numFeatures),
		thresholds:    make([]float64, numThresholds*numFeatures),
	}
}

// WrapFeaturesAndThresholds builds a batch on caller-owned buffers, which must
// hold at least 11*numFeatures and numThresholds*numFeatures values.
func WrapFeaturesAndThresholds(features []int8, thresholds []float64, numFeatures, numThresholds int) (*FeaturesAndThresholds, error) {
	if len(features) < NumFeatureRows*numFeatures || len(thresholds) < numThresholds*numFeatures {
		return nil, errors.Errorf("buffers too small for %d features and %d thresholds", numFeatures, numThresholds)
	}
	return &FeaturesAndThresholds{
		numFeatures:   numFeatures,
		numThresholds: numThresholds,
		features:      features[:NumFeatureRows*numFeatures],
		thresholds:    thresholds[:numThresholds*numFeatures],
	}, nil
}

func (b *FeaturesAndThresholds) NumFeatures() int   { return b.numFeatures }
func (b *FeaturesAndThresholds) NumThresholds() int { return b.numThresholds }

func (b *FeaturesAndThresholds) field(row int) []int8 {
	return b.features[row*b.numFeatures : (row+1)*b.numFeatures]
}

func (b *FeaturesAndThresholds) Types() []int8    { return b.field(rowType) }
func (b *FeaturesAndThresholds) Offset1X() []int8 { return b.field(rowOffset1X) }
func (b *FeaturesAndThresholds) Offset1Y() []int8 { return b.field(rowOffset1Y) }
func (b *FeaturesAndThresholds) Offset2X() []int8 { return b.field(rowOffset2X) }
func (b *FeaturesAndThresholds) Offset2Y() []int8 { return b.field(rowOffset2Y) }
func (b *FeaturesAndThresholds) Region1X() []int8 { return b.field(rowRegion1X) }
func (b *FeaturesAndThresholds) Region1Y() []int8 { return b.field(rowRegion1Y) }
func (b *FeaturesAndThresholds) Region2X() []int8 { return b.field(rowRegion2X) }
func (b *FeaturesAndThresholds) Region2Y() []int8 { return b.field(rowRegion2Y) }
func (b *FeaturesAndThresholds) Channel1() []int8 { return b.field(rowChannel1) }
func (b *FeaturesAndThresholds) Channel2() []int8 { return b.field(rowChannel2) }

// Features returns the whole feature matrix.
func (b *FeaturesAndThresholds) Features() []int8 { return b.features }

// Thresholds returns the threshold matrix.
func (b *FeaturesAndThresholds) Thresholds() []float64 { return b.thresholds }

func (b *FeaturesAndThresholds) Threshold(thresh, feat int) float64 {
	return b.thresholds[thresh*b.numFeatures+feat]
}

func (b *FeaturesAndThresholds) SetThreshold(thresh, feat int, v float64) {
	b.thresholds[thresh*b.numFeatures+feat] = v
}

// SetFeatureFunction stores f in column feat.
func (b *FeaturesAndThresholds) SetFeatureFunction(feat int, f ImageFeatureFunction) error {
	row, err := f.row()
	if err != nil {
		return err
	}
	for r, v := range row {
		b.features[r*b.numFeatures+feat] = v
	}
	return nil
}

// FeatureFunction decodes column feat.
func (b *FeaturesAndThresholds) FeatureFunction(feat int) (ImageFeatureFunction, error) {
	var row [NumFeatureRows]int8
	for r := range row {
		row[r] = b.features[r*b.numFeatures+feat]
	}
	return fromRow(row)
}

// FeatureFunctions decodes every column.
func (b *FeaturesAndThresholds) FeatureFunctions() ([]ImageFeatureFunction, error) {
	out := make([]ImageFeatureFunction, b.numFeatures)
	for i := range out {
		f, err := b.FeatureFunction(i)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %d", i)
		}
		out[i] = f
	}
	return out, nil
}

// Permute reorders the columns so that new column i is old column order[i].
func (b *FeaturesAndThresholds) Permute(order []int) {
	feats := make([]int8, len(b.features))
	thresh := make([]float64, len(b.thresholds))
	for i, src := range order {
		for r := 0; r < NumFeatureRows; r++ {
			feats[r*b.numFeatures+i] = b.features[r*b.numFeatures+src]
		}
		for t := 0; t < b.numThresholds; t++ {
			thresh[t*b.numFeatures+i] = b.thresholds[t*b.numFeatures+src]
		}
	}
	copy(b.features, feats)
	copy(b.thresholds, thresh)
}

// Copy returns a deep copy.
func (b *FeaturesAndThresholds) Copy() *FeaturesAndThresholds {
	c := NewFeaturesAndThresholds(b.numFeatures, b.numThresholds)
	copy(c.features, b.features)
	copy(c.thresholds, b.thresholds)
	return c
}

const batchHeaderSize = 8

// MarshalBinary writes a little endian header (numFeatures, numThresholds as
// uint32), the feature rows in field order, then the thresholds as float64.
func (b *FeaturesAndThresholds) MarshalBinary() ([]byte, error) {
	out := make([]byte, batchHeaderSize+len(b.features)+8*len(b.thresholds))
	binary.LittleEndian.PutUint32(out[0:], uint32(b.numFeatures))
	binary.LittleEndian.PutUint32(out[4:], uint32(b.numThresholds))
	pos := batchHeaderSize
	for _, v := range b.features {
		out[pos] = byte(v)
		pos++
	}
	for _, v := range b.thresholds {
		binary.LittleEndian.PutUint64(out[pos:], math.Float64bits(v))
		pos += 8
	}
	return out, nil
}

// UnmarshalBinary reads a batch written by MarshalBinary.
func (b *FeaturesAndThresholds) UnmarshalBinary(data []byte) error {
	if len(data) < batchHeaderSize {
		return errors.New("feature batch encoding too short")
	}
	numFeatures := int(binary.LittleEndian.Uint32(data[0:]))
	numThresholds := int(binary.LittleEndian.Uint32(data[4:]))
	want := batchHeaderSize + NumFeatureRows*numFeatures + 8*numThresholds*numFeatures
	if len(data) != want {
		return errors.Errorf("feature batch encoding has %d bytes, expected %d", len(data), want)
	}
	*b = *NewFeaturesAndThresholds(numFeatures, numThresholds)
	pos := batchHeaderSize
	for i := range b.features {
		b.features[i] = int8(data[pos])
		pos++
	}
	for i := range b.thresholds {
		b.thresholds[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
		pos += 8
	}
	return nil
}
