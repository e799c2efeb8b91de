package canvas

import (
	"fmt"
	"image"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// PadDescriptor records where the original pixels sit inside the square
// canvas sent to the generator.
type PadDescriptor struct {
	Size   int `json:"size"`
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DescriptorFor computes the descriptor for a width×height image without
// touching any pixels. The image is centred; odd remainders go right and
// bottom.
func DescriptorFor(width, height int) PadDescriptor {
	s := max(width, height)
	return PadDescriptor{
		Size:   s,
		Left:   (s - width) / 2,
		Top:    (s - height) / 2,
		Width:  width,
		Height: height,
	}
}

// Validate checks that the descriptor describes a non-empty region fully
// inside its square.
func (p PadDescriptor) Validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Size <= 0 {
		return fmt.Errorf("invalid pad descriptor %+v: non-positive dimension", p)
	}
	if p.Left < 0 || p.Top < 0 || p.Left+p.Width > p.Size || p.Top+p.Height > p.Size {
		return fmt.Errorf("invalid pad descriptor %+v: region outside square", p)
	}
	return nil
}

// PadToSquare places the image centred on a transparent S×S canvas where
// S = max(W, H) and returns the PNG encoding with its descriptor.
func PadToSquare(data []byte) ([]byte, PadDescriptor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, PadDescriptor{}, err
	}
	b := img.Bounds()
	pad := DescriptorFor(b.Dx(), b.Dy())

	dst := image.NewNRGBA(image.Rect(0, 0, pad.Size, pad.Size))
	target := image.Rect(pad.Left, pad.Top, pad.Left+pad.Width, pad.Top+pad.Height)
	draw.Draw(dst, target, img, b.Min, draw.Src)

	out, err := EncodePNG(dst)
	if err != nil {
		return nil, PadDescriptor{}, err
	}
	log.Debug().
		Int("width", pad.Width).
		Int("height", pad.Height).
		Int("square", pad.Size).
		Int("left", pad.Left).
		Int("top", pad.Top).
		Msg("Padded image to square canvas")
	return out, pad, nil
}

// UnpadFromSquare reverses PadToSquare. The square may come back from the
// generator at any resolution; it is first resized uniformly to pad.Size and
// then cropped, so the output is exactly pad.Width×pad.Height.
func UnpadFromSquare(data []byte, pad PadDescriptor) ([]byte, error) {
	if err := pad.Validate(); err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() != pad.Size || b.Dy() != pad.Size {
		if b.Dx() != b.Dy() {
			log.Warn().
				Int("width", b.Dx()).
				Int("height", b.Dy()).
				Msg("Generator returned a non-square image, stretching to canvas")
		}
		img = Resize(img, pad.Size, pad.Size)
	}
	region := image.Rect(pad.Left, pad.Top, pad.Left+pad.Width, pad.Top+pad.Height)
	cropped := Crop(img, region.Add(img.Bounds().Min))
	return EncodePNG(cropped)
}
