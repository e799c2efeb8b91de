package chat

// gemini_image.go talks to the Gemini image model over REST. The genai SDK
// call path is used for text and vision; image output is requested directly
// so the response modalities and inline image parts stay under our control.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/assets"
)

// geminiBaseURL is the Gemini REST API base URL.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiImageClient sends a padded square canvas plus an instruction to the
// Gemini image model and returns the edited square.
type GeminiImageClient struct {
	apiKey       string
	model        string
	baseURL      string
	systemPrompt string
	httpClient   *http.Client
}

// ImageOption configures a GeminiImageClient.
type ImageOption func(*GeminiImageClient)

// WithImageModel overrides the model ID.
func WithImageModel(model string) ImageOption {
	return func(c *GeminiImageClient) { c.model = model }
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(url string) ImageOption {
	return func(c *GeminiImageClient) { c.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ImageOption {
	return func(c *GeminiImageClient) { c.httpClient = hc }
}

// NewGeminiImageClient creates a client for generative edits.
func NewGeminiImageClient(apiKey string, opts ...ImageOption) *GeminiImageClient {
	c := &GeminiImageClient{
		apiKey:       apiKey,
		model:        GetImageModelName(),
		baseURL:      geminiBaseURL,
		systemPrompt: assets.GenerateSystemPrompt,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // the caller's context usually expires first
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model ID requests are sent to.
func (c *GeminiImageClient) Model() string { return c.model }

// --- REST API request/response types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	Error          *geminiError          `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate sends the square PNG canvas with prompt and returns the first
// image part of the response. A response without an image (refusal, safety
// block) is an error.
func (c *GeminiImageClient) Generate(ctx context.Context, prompt string, square []byte) ([]byte, error) {
	startTime := time.Now()
	log.Info().
		Str("model", c.model).
		Int("image_bytes", len(square)).
		Int("prompt_length", len(prompt)).
		Msg("Sending canvas to Gemini for editing")

	req := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiBlobData{
					MIMEType: "image/png",
					Data:     base64.StdEncoding.EncodeToString(square),
				}},
				{Text: prompt},
			},
		}},
	}
	if c.systemPrompt != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: c.systemPrompt}},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Gemini image editing API returned error")
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if geminiResp.Error != nil {
		return nil, fmt.Errorf("API error: %s (code: %d)", geminiResp.Error.Message, geminiResp.Error.Code)
	}
	if fb := geminiResp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", fb.BlockReason)
	}

	var text string
	for _, candidate := range geminiResp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("failed to decode image data: %w", err)
				}
				log.Info().
					Int("output_bytes", len(decoded)).
					Str("output_mime", part.InlineData.MIMEType).
					Dur("duration", time.Since(startTime)).
					Msg("Gemini image editing complete")
				return decoded, nil
			}
			text += part.Text
		}
	}
	return nil, fmt.Errorf("no image returned in response (text: %s)", truncateString(text, 200))
}
