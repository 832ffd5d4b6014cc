package rgbd

import (
	"image"
	"image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// LoadRGBDImage reads a color image and a 16 bit depth png (millimetres,
// 0 meaning no measurement), converts the color to CIELab and integrates.
func LoadRGBDImage(colorPath, depthPath string) (*RGBDImage, error) {
	colorImg, err := imaging.Open(colorPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read color image %q", colorPath)
	}
	depthImg, err := readPNG(depthPath)
	if err != nil {
		return nil, err
	}

	b := colorImg.Bounds()
	if b.Size() != depthImg.Bounds().Size() {
		return nil, errors.Errorf("color image %q is %v but depth image %q is %v",
			colorPath, b.Size(), depthPath, depthImg.Bounds().Size())
	}

	im, err := NewRGBDImage(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	db := depthImg.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c, _ := colorful.MakeColor(colorImg.At(b.Min.X+x, b.Min.Y+y))
			l, a, bb := c.Lab()
			im.SetColor(x, y, 0, l*100)
			im.SetColor(x, y, 1, a*100)
			im.SetColor(x, y, 2, bb*100)

			d := depthValue(depthImg, db.Min.X+x, db.Min.Y+y)
			if d > 0 {
				im.SetDepth(x, y, Depth(d))
			} else {
				im.SetDepth(x, y, InvalidDepth)
			}
		}
	}
	if err := im.Integrate(); err != nil {
		return nil, err
	}
	return im, nil
}

// LoadLabelImage reads a ground truth image, mapping colors through palette.
func LoadLabelImage(path string, palette *Palette) (*LabelImage, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read label image %q", path)
	}
	b := img.Bounds()
	labels, err := NewLabelImage(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			id, err := palette.Label(img.At(b.Min.X+x, b.Min.Y+y))
			if err != nil {
				return nil, errors.Wrapf(err, "label image %q", path)
			}
			labels.SetLabel(x, y, id)
		}
	}
	return labels, nil
}

// SaveLabelImage writes labels as a color png.
func SaveLabelImage(path string, labels *LabelImage, palette *Palette) error {
	return errors.Wrapf(imaging.Save(palette.ToImage(labels), path), "cannot write %q", path)
}

// LoadLabeledRGBDImage loads the three files of one training example.
func LoadLabeledRGBDImage(colorPath, depthPath, labelPath string, palette *Palette) (LabeledRGBDImage, error) {
	im, err := LoadRGBDImage(colorPath, depthPath)
	if err != nil {
		return LabeledRGBDImage{}, err
	}
	labels, err := LoadLabelImage(labelPath, palette)
	if err != nil {
		return LabeledRGBDImage{}, err
	}
	return NewLabeledRGBDImage(im, labels)
}

func readPNG(path string) (img image.Image, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open depth image %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	img, err = png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode depth image %q", path)
	}
	return img, nil
}

func depthValue(img image.Image, x, y int) int {
	switch d := img.(type) {
	case *image.Gray16:
		return int(d.Gray16At(x, y).Y)
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return int(r)
	}
}
