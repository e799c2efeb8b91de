package canvas

import (
	"bytes"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// CaptureInfo is the subset of EXIF metadata kept on an edit.
type CaptureInfo struct {
	CameraMake  string
	CameraModel string
	TakenAt     time.Time
}

// ReadCaptureInfo extracts camera and capture time from embedded EXIF.
// Images without metadata (PNG, screenshots) return a zero CaptureInfo;
// a metadata parse failure is never fatal to an upload.
func ReadCaptureInfo(data []byte) CaptureInfo {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata in upload")
		return CaptureInfo{}
	}

	info := CaptureInfo{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}
	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		info.TakenAt = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		info.TakenAt = exifData.CreateDate()
	case !exifData.ModifyDate().IsZero():
		info.TakenAt = exifData.ModifyDate()
	}
	return info
}
