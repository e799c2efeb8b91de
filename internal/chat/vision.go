package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/assets"
	"github.com/fpang/ai-photo-editor/internal/jsonutil"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// contentGenerator is the subset of *genai.Models the vision client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// VisionClient runs photo analysis and prompt-to-vector inference on a
// Gemini text/vision model.
type VisionClient struct {
	models contentGenerator
	model  string
}

// NewVisionClient creates a VisionClient on client using model. An empty
// model selects GetModelName().
func NewVisionClient(client *genai.Client, model string) *VisionClient {
	return newVisionClient(client.Models, model)
}

func newVisionClient(models contentGenerator, model string) *VisionClient {
	if model == "" {
		model = GetModelName()
	}
	return &VisionClient{models: models, model: model}
}

// Model returns the model ID requests are sent to.
func (c *VisionClient) Model() string { return c.model }

// analysisResponse is the JSON shape requested by AnalyzeSystemPrompt.
type analysisResponse struct {
	Title              string `json:"title"`
	NaturalSuggestions []struct {
		Label  string        `json:"label" validate:"required"`
		Vector adjust.Vector `json:"vector"`
	} `json:"naturalSuggestions" validate:"required,min=1,dive"`
	AISuggestions []string `json:"aiSuggestions" validate:"dive,required"`
}

// Analyze asks the model for a title, labelled slider suggestions and
// generative ideas for one image. The returned Suggestions has no ImageID;
// the caller keys it.
func (c *VisionClient) Analyze(ctx context.Context, image []byte, mimeType string) (*store.Suggestions, error) {
	start := time.Now()
	log.Debug().Str("model", c.model).Int("image_bytes", len(image)).Msg("Sending image for analysis")

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			{Text: "Analyze this photo."},
		},
	}}
	text, err := c.generateJSON(ctx, assets.AnalyzeSystemPrompt, contents)
	if err != nil {
		return nil, err
	}

	parsed, err := jsonutil.ParseValidated[analysisResponse](text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}

	out := &store.Suggestions{
		Title:         strings.TrimSpace(parsed.Title),
		AISuggestions: parsed.AISuggestions,
	}
	seen := make(map[string]bool, len(parsed.NaturalSuggestions))
	for _, n := range parsed.NaturalSuggestions {
		label := strings.TrimSpace(n.Label)
		if seen[label] {
			continue
		}
		seen[label] = true
		out.NaturalSuggestions = append(out.NaturalSuggestions, store.NaturalSuggestion{Label: label, Vector: n.Vector})
	}

	log.Info().
		Str("title", out.Title).
		Int("natural", len(out.NaturalSuggestions)).
		Int("ai", len(out.AISuggestions)).
		Dur("duration", time.Since(start)).
		Msg("Image analysis complete")
	return out, nil
}

// InferVector maps a plain-language request onto an adjustment vector at
// baseline strength.
func (c *VisionClient) InferVector(ctx context.Context, prompt string) (adjust.Vector, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return adjust.Vector{}, fmt.Errorf("empty prompt")
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	text, err := c.generateJSON(ctx, assets.InferSystemPrompt, contents)
	if err != nil {
		return adjust.Vector{}, err
	}
	v, err := jsonutil.ParseJSON[adjust.Vector](text)
	if err != nil {
		return adjust.Vector{}, fmt.Errorf("failed to parse inferred vector: %w", err)
	}
	if err := adjust.Validate(v); err != nil {
		return adjust.Vector{}, fmt.Errorf("model returned %w", err)
	}
	log.Debug().Str("prompt", truncateString(prompt, 80)).Stringer("vector", v).Msg("Inferred adjustment vector")
	return v, nil
}

func (c *VisionClient) generateJSON(ctx context.Context, system string, contents []*genai.Content) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		ResponseMIMEType: "application/json",
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", c.model, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini %s: empty response", c.model)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini %s: response has no text", c.model)
	}
	return text, nil
}
