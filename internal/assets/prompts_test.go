package assets

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderGeneratePrompt(t *testing.T) {
	got := RenderGeneratePrompt("  replace the sky with a sunset ", []string{"Warm glow", "Film grain"}, 75)
	assert.Contains(t, got, "Edit this photo as follows: replace the sky with a sunset")
	assert.Contains(t, got, "- Warm glow")
	assert.Contains(t, got, "- Film grain")
	assert.Contains(t, got, "75/100 (strong)")

	plain := RenderGeneratePrompt("add fog", nil, 10)
	assert.NotContains(t, plain, "selected looks")
	assert.Contains(t, plain, "very subtle")
}

func TestEmbeddedPromptsPresent(t *testing.T) {
	assert.NotEmpty(t, GenerateSystemPrompt)
	assert.Contains(t, AnalyzeSystemPrompt, "naturalSuggestions")
	assert.Contains(t, InferSystemPrompt, "noiseReduction")
}

func TestFallbackSuggestionsJSON(t *testing.T) {
	var doc struct {
		NaturalSuggestions []struct {
			Label string `json:"label"`
		} `json:"naturalSuggestions"`
		AISuggestions []string `json:"aiSuggestions"`
	}
	require.NoError(t, json.Unmarshal(FallbackSuggestionsJSON, &doc))
	assert.NotEmpty(t, doc.NaturalSuggestions)
	assert.NotEmpty(t, doc.AISuggestions)
}
