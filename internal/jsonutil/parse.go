// Package jsonutil extracts and decodes JSON from model responses that may
// be wrapped in markdown code fences or surrounded by prose, even when a JSON
// response MIME type was requested.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StripMarkdownFences removes a ```json ... ``` (or bare ```) wrapper.
// Text without an opening fence is returned trimmed but otherwise unchanged.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// ExtractJSON returns the span from the first '{' or '[' to the last
// matching closing delimiter.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON content found")
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return "", fmt.Errorf("no closing %s found", closer)
	}
	return text[start : end+1], nil
}

// ParseJSON strips fences, extracts the JSON payload and unmarshals it into T.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	payload, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}
	var out T
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview(payload, 200))
	}
	return out, nil
}

// ParseValidated is ParseJSON followed by struct validation of the result
// against its `validate` tags. T must be a struct type.
func ParseValidated[T any](raw string) (T, error) {
	out, err := ParseJSON[T](raw)
	if err != nil {
		return out, err
	}
	if err := validate.Struct(out); err != nil {
		var zero T
		return zero, fmt.Errorf("response failed validation: %w", err)
	}
	return out, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
