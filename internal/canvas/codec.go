// Package canvas is the image codec used by the edit pipeline. It decodes
// uploads, encodes results as PNG, and bridges arbitrary aspect ratios to the
// square canvas the generative model requires.
package canvas

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeError reports bytes that could not be read as an image, or an image
// with a zero dimension. It is returned before any external call is made.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode image: %s: %v", e.Reason, e.Err)
	}
	return "decode image: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Size limits enforced at the header, before any pixel buffer exists. The
// square canvas of a MaxSide image is MaxSide² NRGBA pixels (about 1 GiB).
const (
	MaxPixels = 100_000_000
	MaxSide   = 16384
)

// Info is the header-level description of an encoded image.
type Info struct {
	Width    int
	Height   int
	Format   string
	MIMEType string
}

var formatMIME = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// DecodeConfig reads only the image header.
func DecodeConfig(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, &DecodeError{Reason: "empty input"}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, &DecodeError{Reason: "unreadable header", Err: err}
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return Info{}, err
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format, MIMEType: formatMIME[format]}, nil
}

func checkDimensions(w, h int) error {
	switch {
	case w <= 0 || h <= 0:
		return &DecodeError{Reason: fmt.Sprintf("zero dimension %dx%d", w, h)}
	case w > MaxSide || h > MaxSide:
		return &DecodeError{Reason: fmt.Sprintf("dimension %dx%d exceeds %d px per side", w, h, MaxSide)}
	case int64(w)*int64(h) > MaxPixels:
		return &DecodeError{Reason: fmt.Sprintf("%dx%d exceeds %d pixels", w, h, MaxPixels)}
	}
	return nil
}

// Decode fully decodes data. The header is checked against the size limits
// first, so an oversized image is rejected without allocating its pixels.
func Decode(data []byte) (image.Image, error) {
	if _, err := DecodeConfig(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "unreadable image", Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("zero dimension %dx%d", b.Dx(), b.Dy())}
	}
	return img, nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales img to exactly width×height using Catmull-Rom resampling.
func Resize(img image.Image, width, height int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies the region r (in img's coordinate space) into a new image
// whose origin is (0,0).
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
