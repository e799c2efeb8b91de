package assets

import (
	_ "embed"
)

// FallbackSuggestionsJSON is the static suggestion set served when image
// analysis fails. It has the same shape as an analysis response.
//
//go:embed fallback-suggestions.json
var FallbackSuggestionsJSON []byte
