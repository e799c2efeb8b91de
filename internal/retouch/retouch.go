// Package retouch applies parametric adjustment vectors to image bytes.
package retouch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/canvas"
)

// Slider-to-filter gains. A slider at its documented limit produces a
// noticeable but not destructive change; scaled vectors may exceed the
// limits and are clamped to what the filters accept.
const (
	toneGain       = 0.6  // brightness/contrast/saturation slider → percent
	sharpenSigma   = 0.25 // per sharpen unit
	denoiseSigma   = 0.02 // per noiseReduction unit
	maxTonePercent = 100
	maxSharpen     = 20
	maxDenoise     = 100
)

// Adjuster renders adjustment vectors with the imaging filter set.
type Adjuster struct{}

// New returns an Adjuster.
func New() *Adjuster { return &Adjuster{} }

// Apply decodes data, applies v and returns the result as PNG. Output
// dimensions always equal input dimensions.
func (a *Adjuster) Apply(ctx context.Context, data []byte, v adjust.Vector) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := canvas.DecodeConfig(data); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &canvas.DecodeError{Reason: "unreadable image", Err: err}
	}

	out := render(img, v)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode adjusted image: %w", err)
	}
	log.Debug().
		Stringer("vector", v).
		Int("width", out.Bounds().Dx()).
		Int("height", out.Bounds().Dy()).
		Dur("duration", time.Since(start)).
		Msg("Adjustment rendered")
	return buf.Bytes(), nil
}

// render runs the filter chain. Denoise runs first so sharpening does not
// amplify noise.
func render(img image.Image, v adjust.Vector) *image.NRGBA {
	out := imaging.Clone(img)
	if nr := clamp(float64(v.NoiseReduction), 0, maxDenoise); nr > 0 {
		out = imaging.Blur(out, nr*denoiseSigma)
	}
	if b := tone(v.Brightness); b != 0 {
		out = imaging.AdjustBrightness(out, b)
	}
	if c := tone(v.Contrast); c != 0 {
		out = imaging.AdjustContrast(out, c)
	}
	if s := tone(v.Saturation); s != 0 {
		out = imaging.AdjustSaturation(out, s)
	}
	if h := wrapHue(v.Hue); h != 0 {
		out = imaging.AdjustFunc(out, func(c color.NRGBA) color.NRGBA { return rotateHue(c, h) })
	}
	if sh := clamp(v.Sharpen, 0, maxSharpen); sh > 0 {
		out = imaging.Sharpen(out, sh*sharpenSigma)
	}
	return out
}

func tone(slider int) float64 {
	return clamp(float64(slider)*toneGain, -maxTonePercent, maxTonePercent)
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}

// wrapHue normalises degrees into (-180, 180].
func wrapHue(deg int) float64 {
	d := math.Mod(float64(deg), 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// rotateHue shifts the hue of c by deg degrees in HSL space, keeping
// lightness, saturation and alpha.
func rotateHue(c color.NRGBA, deg float64) color.NRGBA {
	h, s, l := rgbToHSL(c.R, c.G, c.B)
	if s == 0 {
		return c
	}
	h = math.Mod(h+deg/360+1, 1)
	r, g, b := hslToRGB(h, s, l)
	return color.NRGBA{R: r, G: g, B: b, A: c.A}
}

func rgbToHSL(r8, g8, b8 uint8) (h, s, l float64) {
	r, g, b := float64(r8)/255, float64(g8)/255, float64(b8)/255
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	l = (hi + lo) / 2
	if hi == lo {
		return 0, 0, l
	}
	d := hi - lo
	if l > 0.5 {
		s = d / (2 - hi - lo)
	} else {
		s = d / (hi + lo)
	}
	switch hi {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h / 6, s, l
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return channel(p, q, h+1.0/3), channel(p, q, h), channel(p, q, h-1.0/3)
}

func channel(p, q, t float64) uint8 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	var v float64
	switch {
	case t < 1.0/6:
		v = p + (q-p)*6*t
	case t < 0.5:
		v = q
	case t < 2.0/3:
		v = p + (q-p)*(2.0/3-t)*6
	default:
		v = p
	}
	return uint8(math.Round(clamp(v, 0, 1) * 255))
}
