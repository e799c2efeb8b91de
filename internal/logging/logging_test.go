package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStartupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	NewStartupLogger("edit-api-lambda").
		CommitHash("abc123").
		Resource(ResourceDynamoTable, "edits", "photo-edits").
		Resource(ResourceS3Bucket, "media", "").
		Resource(ResourceSSMParam, "geminiKey", "/photo-editor/prod/gemini-api-key").
		Feature("events", true).
		Config("dispatchMode", "lambda").
		InitDuration(250 * time.Millisecond).
		emit(logger.Info())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Startup complete", doc["message"])

	proc := doc["process"].(map[string]any)
	assert.Equal(t, "edit-api-lambda", proc["name"])
	assert.Equal(t, "abc123", proc["commitHash"])

	res := doc["resources"].(map[string]any)
	assert.Equal(t, map[string]any{"edits": "photo-edits"}, res[ResourceDynamoTable])
	assert.NotContains(t, res, ResourceS3Bucket)
	assert.Equal(t, true, doc["features"].(map[string]any)["events"])
	assert.Equal(t, "lambda", doc["config"].(map[string]any)["dispatchMode"])
}
