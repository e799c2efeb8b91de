package adjust

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Fingerprint prefixes. Parametric and generative keys never collide
// because their prefixes differ.
const (
	VectorPrefix = "vec:"
	PromptPrefix = "prm:"
)

// VectorFingerprint returns the canonical cache key for a vector. Two
// vectors with identical numeric values produce the same key regardless of
// how they were obtained (direct input, a selected suggestion, or inference
// from a prompt).
func VectorFingerprint(v Vector) string {
	return fmt.Sprintf("%sb=%d,c=%d,s=%d,h=%d,sh=%.1f,nr=%d",
		VectorPrefix, v.Brightness, v.Contrast, v.Saturation, v.Hue, roundTenth(v.Sharpen), v.NoiseReduction)
}

// PromptFingerprint returns the cache key for a generative request. The
// selections are order-insensitive and de-duplicated before hashing.
func PromptFingerprint(prompt string, selections []string) string {
	sel := slices.Clone(selections)
	slices.Sort(sel)
	sel = slices.Compact(sel)

	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sel, "\x00")))
	return PromptPrefix + hex.EncodeToString(h.Sum(nil))
}

// IsVectorFingerprint reports whether fp was produced by VectorFingerprint.
func IsVectorFingerprint(fp string) bool {
	return strings.HasPrefix(fp, VectorPrefix)
}
