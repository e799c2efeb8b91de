package chat

import "os"

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                          |
// |-----------------------------|-----------------------------|-----------------------------------|
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Analysis and slider inference     |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable fallback for analysis      |
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Generative edits                  |
// | Gemini 2.5 Flash Image      | gemini-2.5-flash-image      | Cheaper generative edits          |
const (
	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini3ProImage is for advanced image generation/edit.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"

	// ModelGemini25FlashImage is the lower-cost image model.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"
)

// DefaultModelName is the text/vision model used for analysis and
// inference. Override with GEMINI_MODEL.
const DefaultModelName = ModelGemini3FlashPreview

// DefaultImageModelName is the image model used for generative edits.
// Override with GEMINI_IMAGE_MODEL.
const DefaultImageModelName = ModelGemini3ProImage

// GetModelName returns the vision model, from GEMINI_MODEL or the default.
func GetModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}

// GetImageModelName returns the image model, from GEMINI_IMAGE_MODEL or the
// default.
func GetImageModelName() string {
	if env := os.Getenv("GEMINI_IMAGE_MODEL"); env != "" {
		return env
	}
	return DefaultImageModelName
}
