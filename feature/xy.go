package feature

import (
	"fmt"

	"github.com/dirkholz/curfil/rgbd"
)

// XY is an integer pixel coordinate pair.
type XY struct {
	X, Y int
}

type (
	Point  = XY
	Offset = XY
	Region = XY
)

// Normalize scales xy by the inverse of depth in metres, so geometry defined
// at one metre shrinks for farther pixels. depth must be valid.
func (xy XY) Normalize(depth rgbd.Depth) XY {
	if !depth.Valid() {
		panic("feature: normalize with invalid depth")
	}
	m := depth.Meters()
	return XY{X: int(float64(xy.X) / m), Y: int(float64(xy.Y) / m)}
}

func (xy XY) String() string {
	return fmt.Sprintf("%d,%d", xy.X, xy.Y)
}
