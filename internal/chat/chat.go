// Package chat wraps the Gemini models used by the edit pipeline: the image
// model that performs generative edits on a square canvas, and the vision
// model that analyzes photos and maps plain-language requests onto slider
// values.
package chat

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// NewGenAIClient creates a Gemini API client authenticated with apiKey.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
