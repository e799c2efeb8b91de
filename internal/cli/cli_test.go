package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/store"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{3 * time.Second, "0:03"},
		{75 * time.Second, "1:15"},
		{time.Hour + 2*time.Minute + 5*time.Second, "1:02:05"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDurationShort(tt.d))
	}
}

func TestPromptForFile(t *testing.T) {
	var out bytes.Buffer
	got, err := PromptForFile(strings.NewReader("  ~/photo.jpg \n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "~/photo.jpg", got)
	assert.Equal(t, "Image file: ", out.String())

	_, err = PromptForFile(strings.NewReader("\n"), &out)
	assert.ErrorIs(t, err, ErrCanceled)
	_, err = PromptForFile(strings.NewReader(""), &out)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	got, err := ResolveFile(f)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	_, err = ResolveFile(dir)
	assert.ErrorContains(t, err, "directory")
	_, err = ResolveFile(filepath.Join(dir, "missing.png"))
	assert.ErrorContains(t, err, "not found")
}

func TestPrintEdit(t *testing.T) {
	var buf bytes.Buffer
	PrintEdit(&buf, &store.Edit{
		ID: "edit-1", Status: store.StatusFailed, Width: 1200, Height: 800, MIMEType: "image/jpeg",
		EffectStrength: 50, CameraMake: "FUJIFILM", CameraModel: "X-T5", Error: "UPSTREAM: image generation failed",
	})
	out := buf.String()
	assert.Contains(t, out, "edit-1")
	assert.Contains(t, out, "1200x800 (image/jpeg)")
	assert.Contains(t, out, "FUJIFILM X-T5")
	assert.Contains(t, out, "UPSTREAM")
	assert.NotContains(t, out, "Prompt:")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	PrintHistory(&buf, nil)
	assert.Contains(t, buf.String(), "No parametric edits")

	buf.Reset()
	PrintHistory(&buf, []*store.HistoryEntry{
		{Sequence: 1, Strength: 100, ImageID: "img-a", Vector: &adjust.Vector{Brightness: 20}},
		{Sequence: 2, Strength: 50, ImageID: "img-b"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "brightness=20")
	assert.Contains(t, lines[2], "img-b")
}
