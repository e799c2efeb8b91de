package adjust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	base := Vector{Brightness: 20, Contrast: -15, Saturation: 7, Hue: 45, Sharpen: 1.5, NoiseReduction: 30}

	tests := []struct {
		name     string
		strength int
		want     Vector
	}{
		{"baseline is identity", 50, base},
		{"zero strength", 0, Vector{}},
		{"full strength doubles", 100, Vector{Brightness: 40, Contrast: -30, Saturation: 14, Hue: 90, Sharpen: 3.0, NoiseReduction: 60}},
		{"quarter rounds half away from zero", 25, Vector{Brightness: 10, Contrast: -8, Saturation: 4, Hue: 23, Sharpen: 0.8, NoiseReduction: 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scale(base, tt.strength))
		})
	}
}

func TestScale_Unclamped(t *testing.T) {
	got := Scale(Vector{Brightness: 50, Hue: 180}, 100)
	assert.Equal(t, 100, got.Brightness)
	assert.Equal(t, 360, got.Hue)
}

func TestScale_DistinctStrengthsDistinctFingerprints(t *testing.T) {
	base := Vector{Brightness: 20, Contrast: 10, Sharpen: 2}
	seen := map[string]int{}
	for s := 0; s <= 100; s += 10 {
		fp := VectorFingerprint(Scale(base, s))
		if prev, ok := seen[fp]; ok {
			t.Fatalf("strength %d and %d share fingerprint %s", prev, s, fp)
		}
		seen[fp] = s
	}
}

func TestVectorFingerprint(t *testing.T) {
	v := Vector{Brightness: 40, Contrast: -3, Saturation: 0, Hue: 12, Sharpen: 2.25, NoiseReduction: 5}
	assert.Equal(t, "vec:b=40,c=-3,s=0,h=12,sh=2.3,nr=5", VectorFingerprint(v))

	// Equal values from different sources share a key.
	direct := Vector{Brightness: 40}
	fromSuggestion := Scale(Vector{Brightness: 20}, 100)
	assert.Equal(t, VectorFingerprint(direct), VectorFingerprint(fromSuggestion))
	assert.True(t, IsVectorFingerprint(VectorFingerprint(direct)))
}

func TestPromptFingerprint(t *testing.T) {
	a := PromptFingerprint("warm sunset", []string{"vivid", "moody", "vivid"})
	b := PromptFingerprint("warm sunset", []string{"moody", "vivid"})
	c := PromptFingerprint("cold sunset", []string{"moody", "vivid"})
	d := PromptFingerprint("warm sunset", nil)

	assert.Equal(t, a, b, "order and duplicates must not matter")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, len(PromptPrefix)+64)
	assert.False(t, IsVectorFingerprint(a))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       Vector
		wantErr string
	}{
		{"zero", Vector{}, ""},
		{"extremes", Vector{Brightness: -50, Contrast: 50, Saturation: -50, Hue: 180, Sharpen: 10, NoiseReduction: 100}, ""},
		{"brightness high", Vector{Brightness: 51}, "brightness"},
		{"hue low", Vector{Hue: -181}, "hue"},
		{"sharpen negative", Vector{Sharpen: -0.1}, "sharpen"},
		{"noise high", Vector{NoiseReduction: 101}, "noiseReduction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.v)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateStrength(t *testing.T) {
	assert.NoError(t, ValidateStrength(0))
	assert.NoError(t, ValidateStrength(100))
	assert.Error(t, ValidateStrength(-1))
	assert.Error(t, ValidateStrength(101))
}

func TestNormalize_SharpenPrecision(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
	}{
		{"half rounds up", Vector{Sharpen: 3.25}, Vector{Sharpen: 3.3}},
		{"below half rounds down", Vector{Sharpen: 1.04}, Vector{Sharpen: 1.0}},
		{"integers untouched", Vector{Brightness: 7, Sharpen: 2}, Vector{Brightness: 7, Sharpen: 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			na, nb := Normalize(tt.a), Normalize(tt.b)
			assert.Equal(t, nb, na)
			require.Equal(t, VectorFingerprint(na), VectorFingerprint(nb))
			for _, strength := range []int{0, 25, 50, 75, 100} {
				assert.Equal(t, Scale(nb, strength), Scale(na, strength),
					"same fingerprint must render the same at strength %d", strength)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	v := Normalize(Vector{Sharpen: 9.96, NoiseReduction: 40})
	assert.Equal(t, v, Normalize(v))
	assert.Equal(t, 10.0, v.Sharpen)
	assert.NoError(t, Validate(v))
}
