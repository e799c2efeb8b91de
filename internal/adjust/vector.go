// Package adjust holds the parametric side of an edit request: the
// adjustment vector, its validation, the strength scaler, and the
// fingerprints used to key the result caches.
package adjust

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Strength bounds. BaselineStrength is the unscaled point (factor 1.0).
const (
	MinStrength      = 0
	MaxStrength      = 100
	BaselineStrength = 50
)

// Vector is one parametric photo adjustment. It is a value type; copies
// never alias.
type Vector struct {
	Brightness     int     `json:"brightness" dynamodbav:"brightness" validate:"min=-50,max=50"`
	Contrast       int     `json:"contrast" dynamodbav:"contrast" validate:"min=-50,max=50"`
	Saturation     int     `json:"saturation" dynamodbav:"saturation" validate:"min=-50,max=50"`
	Hue            int     `json:"hue" dynamodbav:"hue" validate:"min=-180,max=180"`
	Sharpen        float64 `json:"sharpen" dynamodbav:"sharpen" validate:"min=0,max=10"`
	NoiseReduction int     `json:"noiseReduction" dynamodbav:"noiseReduction" validate:"min=0,max=100"`
}

// Normalize rounds sharpen to the one-decimal precision the vector is
// keyed and rendered at. Every base vector passes through it before it is
// fingerprinted or scaled, so equal fingerprints always mean equal renders.
func Normalize(v Vector) Vector {
	v.Sharpen = roundTenth(v.Sharpen)
	return v
}

// IsZero reports whether every field is zero.
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// String renders the vector for logs.
func (v Vector) String() string {
	return fmt.Sprintf("brightness=%d contrast=%d saturation=%d hue=%d sharpen=%.1f noiseReduction=%d",
		v.Brightness, v.Contrast, v.Saturation, v.Hue, v.Sharpen, v.NoiseReduction)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its documented range. The returned
// error names each offending field.
func Validate(v Vector) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate adjustment vector: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s=%v out of range (%s %s)", lowerFirst(fe.Field()), fe.Value(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid adjustment vector: %s", strings.Join(msgs, "; "))
}

// ValidateStrength checks that strength is within [MinStrength, MaxStrength].
func ValidateStrength(strength int) error {
	if strength < MinStrength || strength > MaxStrength {
		return fmt.Errorf("strength %d out of range [%d,%d]", strength, MinStrength, MaxStrength)
	}
	return nil
}

// Scale multiplies every field of base by strength/50. Integer fields round
// half away from zero; sharpen rounds to one decimal place. The result is
// not clamped: a strength of 100 may legitimately double a field past its
// input range, and callers applying the vector clamp at that point.
func Scale(base Vector, strength int) Vector {
	factor := float64(strength) / BaselineStrength
	return Vector{
		Brightness:     scaleInt(base.Brightness, factor),
		Contrast:       scaleInt(base.Contrast, factor),
		Saturation:     scaleInt(base.Saturation, factor),
		Hue:            scaleInt(base.Hue, factor),
		Sharpen:        roundTenth(base.Sharpen * factor),
		NoiseReduction: scaleInt(base.NoiseReduction, factor),
	}
}

func scaleInt(v int, factor float64) int {
	return int(math.Round(float64(v) * factor))
}

func roundTenth(f float64) float64 {
	r := math.Round(f*10) / 10
	if r == 0 {
		return 0 // normalise -0
	}
	return r
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
