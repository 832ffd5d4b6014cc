package rgbd

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// LabelType is a class id.
type LabelType = uint8

// LabelImage holds one class label per pixel.
type LabelImage struct {
	width, height int
	labels        []LabelType
}

// NewLabelImage returns a label image filled with label 0.
func NewLabelImage(width, height int) (*LabelImage, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid label image size %dx%d", width, height)
	}
	return &LabelImage{width: width, height: height, labels: make([]LabelType, width*height)}, nil
}

func (l *LabelImage) Width() int  { return l.width }
func (l *LabelImage) Height() int { return l.height }

func (l *LabelImage) Label(x, y int) LabelType       { return l.labels[y*l.width+x] }
func (l *LabelImage) SetLabel(x, y int, v LabelType) { l.labels[y*l.width+x] = v }

// LabeledRGBDImage pairs an RGB-D image with its ground truth.
type LabeledRGBDImage struct {
	RGBD   *RGBDImage
	Labels *LabelImage
}

// NewLabeledRGBDImage checks that both images have the same size.
func NewLabeledRGBDImage(im *RGBDImage, labels *LabelImage) (LabeledRGBDImage, error) {
	if im.Width() != labels.Width() || im.Height() != labels.Height() {
		return LabeledRGBDImage{}, errors.Errorf("label image is %dx%d, expected %dx%d",
			labels.Width(), labels.Height(), im.Width(), im.Height())
	}
	return LabeledRGBDImage{RGBD: im, Labels: labels}, nil
}

// Palette maps label colors to label ids in order of first appearance.
type Palette struct {
	Colors []color.RGBA
}

// Label returns the id of c, adding c to the palette if it is new.
func (p *Palette) Label(c color.Color) (LabelType, error) {
	rgba := toRGBA(c)
	for i, known := range p.Colors {
		if known == rgba {
			return LabelType(i), nil
		}
	}
	if len(p.Colors) > 255 {
		return 0, errors.New("palette is full, at most 256 labels are supported")
	}
	p.Colors = append(p.Colors, rgba)
	return LabelType(len(p.Colors) - 1), nil
}

// Color returns the color of a label id, black if the id is unknown.
func (p *Palette) Color(label LabelType) color.RGBA {
	if int(label) >= len(p.Colors) {
		return color.RGBA{A: 0xff}
	}
	return p.Colors[label]
}

// ToImage renders labels with the palette colors.
func (p *Palette) ToImage(l *LabelImage) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, l.width, l.height))
	for y := 0; y < l.height; y++ {
		for x := 0; x < l.width; x++ {
			c := p.Color(l.Label(x, y))
			out.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return out
}

func toRGBA(c color.Color) color.RGBA {
	r, g, b, _ := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
}
