// Package export bundles an edit (manifest, original, current image and
// every ledger image) into a ZIP archive compressed with Zstandard.
package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// ZipMethodZstd is the ZIP compression method ID for Zstandard
// (APPNOTE 6.3.7).
const ZipMethodZstd uint16 = 93

func init() {
	zip.RegisterCompressor(ZipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})
	zip.RegisterDecompressor(ZipMethodZstd, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// Manifest is written as manifest.json at the root of the archive.
type Manifest struct {
	Edit       *store.Edit           `json:"edit"`
	History    []*store.HistoryEntry `json:"history"`
	Files      map[string]string     `json:"files"` // archive path -> image ID
	ExportedAt int64                 `json:"exportedAt"`
}

// Write streams the archive for edit to w. Ledger images that are missing
// from the blob store are skipped and left out of Files.
func Write(ctx context.Context, w io.Writer, edit *store.Edit, history []*store.HistoryEntry, blobs blob.Store) error {
	zw := zip.NewWriter(w)
	m := Manifest{
		Edit:       edit,
		History:    history,
		Files:      make(map[string]string),
		ExportedAt: time.Now().Unix(),
	}

	add := func(name, imageID string, required bool) error {
		data, err := blobs.Load(ctx, imageID)
		if errors.Is(err, blob.ErrNotFound) && !required {
			log.Warn().Str("imageId", imageID).Str("editId", edit.ID).Msg("Skipping missing image in export")
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", imageID, err)
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: ZipMethodZstd, Modified: time.Now()})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		m.Files[name] = imageID
		return nil
	}

	if err := add("original"+extension(edit.MIMEType), edit.OriginalImageID, true); err != nil {
		return err
	}
	if edit.CurrentImageID != edit.OriginalImageID {
		if err := add("current.png", edit.CurrentImageID, true); err != nil {
			return err
		}
	}
	for _, h := range history {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := fmt.Sprintf("history/%04d-s%03d.png", h.Sequence, h.Strength)
		if err := add(name, h.ImageID, false); err != nil {
			return err
		}
	}

	fw, err := zw.CreateHeader(&zip.FileHeader{Name: "manifest.json", Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	enc := json.NewEncoder(fw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	log.Debug().Str("editId", edit.ID).Int("files", len(m.Files)).Msg("Edit exported")
	return nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
