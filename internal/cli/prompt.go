// Package cli holds the interactive helpers of the photo-edit command:
// choosing an image file and formatting progress.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ncruces/zenity"
)

// ErrCanceled is returned when the user dismisses a picker or prompt.
var ErrCanceled = errors.New("selection canceled")

// imagePatterns are the extensions offered by the file picker.
var imagePatterns = []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp", "*.JPG", "*.JPEG", "*.PNG"}

// PickImage opens the native file dialog and returns the chosen path.
func PickImage() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select a photo to edit"),
		zenity.FileFilters{{Name: "Images", Patterns: imagePatterns}},
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return "", ErrCanceled
	}
	if err != nil {
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	return path, nil
}

// PromptForFile asks for an image path on in. An empty answer cancels.
func PromptForFile(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Image file: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrCanceled
	}
	return line, nil
}

// ResolveFile checks that path names a regular file and returns its
// absolute form.
func ResolveFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
