// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// GenerateSystemPrompt instructs the image model to edit inside the padded
// square without touching the transparent margins.
//
//go:embed prompts/generate-system.txt
var GenerateSystemPrompt string

// AnalyzeSystemPrompt asks the vision model for a title, parametric
// suggestions and generative ideas as one JSON object.
//
//go:embed prompts/analyze-system.txt
var AnalyzeSystemPrompt string

// InferSystemPrompt asks the text model to map a request onto slider values.
//
//go:embed prompts/infer-system.txt
var InferSystemPrompt string

// --- Templated prompts ---

//go:embed prompts/generate-instruction.txt
var generateInstructionTemplate string

var generateInstructionTmpl = template.Must(template.New("generate").Parse(generateInstructionTemplate))

// GenerateData holds the dynamic data injected into the generation prompt.
type GenerateData struct {
	Prompt        string
	Selections    []string
	Strength      int
	Intensity     string
	IntensityHint string
}

// RenderGeneratePrompt builds the refined instruction sent to the image
// model from the user's prompt, the selected suggestion labels and the
// effect strength.
func RenderGeneratePrompt(prompt string, selections []string, strength int) string {
	intensity, hint := describeStrength(strength)
	var buf bytes.Buffer
	// The template is static and its data is plain strings; execution
	// cannot fail after template.Must succeeded.
	_ = generateInstructionTmpl.Execute(&buf, GenerateData{
		Prompt:        strings.TrimSpace(prompt),
		Selections:    selections,
		Strength:      strength,
		Intensity:     intensity,
		IntensityHint: hint,
	})
	return strings.TrimSpace(buf.String())
}

func describeStrength(strength int) (string, string) {
	switch {
	case strength <= 20:
		return "very subtle", "Keep the change barely noticeable."
	case strength <= 40:
		return "subtle", "Keep the change gentle and natural."
	case strength <= 60:
		return "moderate", "Apply the change clearly but naturally."
	case strength <= 80:
		return "strong", "Make the change prominent."
	default:
		return "maximum", "Push the effect as far as it can go while staying photographic."
	}
}
