// Package orchestrator is the edit state machine. It validates requests,
// moves an Edit to processing, dispatches the attempt, and inside the
// attempt checks the result caches before calling any external service.
//
// All shared state lives in the store. Two replicas handling requests for
// the same edit need no coordination beyond the store's conditional writes:
// the last terminal write wins, and ledger sequence numbers are assigned
// atomically by the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/canvas"
	"github.com/fpang/ai-photo-editor/internal/editerr"
	"github.com/fpang/ai-photo-editor/internal/events"
	"github.com/fpang/ai-photo-editor/internal/export"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/metrics"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// Generator performs a generative edit on a square PNG canvas.
type Generator interface {
	Generate(ctx context.Context, prompt string, square []byte) ([]byte, error)
}

// Analyzer proposes a title and suggestions for an image.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*store.Suggestions, error)
}

// VectorInferrer maps a plain-language request onto an adjustment vector.
type VectorInferrer interface {
	InferVector(ctx context.Context, prompt string) (adjust.Vector, error)
}

// Adjuster renders an adjustment vector onto image bytes.
type Adjuster interface {
	Apply(ctx context.Context, image []byte, v adjust.Vector) ([]byte, error)
}

// Notifier is told about every terminal attempt write.
type Notifier interface {
	Notify(ctx context.Context, ev events.AttemptFinished) error
}

// Config holds the per-call time bounds.
type Config struct {
	GenerateTimeout time.Duration
	AnalyzeTimeout  time.Duration
	InferTimeout    time.Duration
	AttemptTimeout  time.Duration
}

// Default time bounds, used for zero Config fields.
const (
	DefaultGenerateTimeout = 90 * time.Second
	DefaultAnalyzeTimeout  = 30 * time.Second
	DefaultInferTimeout    = 20 * time.Second
	DefaultAttemptTimeout  = 3 * time.Minute

	// terminalWriteTimeout bounds the final status write, which runs on a
	// context detached from the attempt deadline.
	terminalWriteTimeout = 15 * time.Second

	blobDeleteConcurrency = 8
)

// Deps are the collaborators. Dispatcher and Notifier are optional: a nil
// Dispatcher runs attempts on goroutines in this process.
type Deps struct {
	Store      store.Store
	Blobs      blob.Store
	Generator  Generator
	Analyzer   Analyzer
	Inferrer   VectorInferrer
	Adjuster   Adjuster
	Dispatcher jobs.Dispatcher
	Notifier   Notifier
}

// Orchestrator runs the edit state machine.
type Orchestrator struct {
	store      store.Store
	blobs      blob.Store
	generator  Generator
	analyzer   Analyzer
	inferrer   VectorInferrer
	adjuster   Adjuster
	dispatcher jobs.Dispatcher
	inline     *jobs.InlineDispatcher
	notifier   Notifier
	cfg        Config

	now func() time.Time
}

// New validates deps and fills default timeouts.
func New(d Deps, cfg Config) (*Orchestrator, error) {
	if d.Store == nil || d.Blobs == nil {
		return nil, errors.New("orchestrator: store and blob store are required")
	}
	if d.Generator == nil || d.Analyzer == nil || d.Inferrer == nil || d.Adjuster == nil {
		return nil, errors.New("orchestrator: generator, analyzer, inferrer and adjuster are required")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = DefaultAnalyzeTimeout
	}
	if cfg.InferTimeout <= 0 {
		cfg.InferTimeout = DefaultInferTimeout
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	o := &Orchestrator{
		store:      d.Store,
		blobs:      d.Blobs,
		generator:  d.Generator,
		analyzer:   d.Analyzer,
		inferrer:   d.Inferrer,
		adjuster:   d.Adjuster,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		cfg:        cfg,
		now:        time.Now,
	}
	if o.dispatcher == nil {
		o.inline = jobs.NewInlineDispatcher(o)
		o.dispatcher = o.inline
	}
	return o, nil
}

// Wait blocks until in-process attempts have finished. It returns
// immediately when attempts are dispatched elsewhere.
func (o *Orchestrator) Wait() {
	if o.inline != nil {
		o.inline.Wait()
	}
}

// CreateEdit stores an uploaded image and creates a pending Edit for it.
// Unreadable or zero-dimension uploads are rejected with a DECODE error
// before anything is stored.
func (o *Orchestrator) CreateEdit(ctx context.Context, data []byte) (*store.Edit, error) {
	info, err := canvas.DecodeConfig(data)
	if err != nil {
		return nil, editerr.NewDecode(err)
	}
	capture := canvas.ReadCaptureInfo(data)

	imageID, err := o.blobs.Save(ctx, data, info.MIMEType)
	if err != nil {
		return nil, editerr.NewInternal(fmt.Errorf("save original: %w", err))
	}

	now := o.now().Unix()
	edit := &store.Edit{
		ID:              jobs.NewEditID(),
		OriginalImageID: imageID,
		CurrentImageID:  imageID,
		MIMEType:        info.MIMEType,
		Width:           info.Width,
		Height:          info.Height,
		EffectStrength:  adjust.BaselineStrength,
		Status:          store.StatusPending,
		CameraMake:      capture.CameraMake,
		CameraModel:     capture.CameraModel,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !capture.TakenAt.IsZero() {
		edit.TakenAt = capture.TakenAt.Unix()
	}
	if err := o.store.CreateEdit(ctx, edit); err != nil {
		o.deleteBlobs(context.WithoutCancel(ctx), edit.ID, []string{imageID})
		return nil, editerr.NewInternal(fmt.Errorf("create edit: %w", err))
	}

	metrics.Edit("upload").Count(metrics.EditCreated).Metric(metrics.UploadBytes, float64(len(data)), metrics.UnitBytes).Flush()
	log.Info().
		Str("editId", edit.ID).
		Str("imageId", imageID).
		Int("width", info.Width).
		Int("height", info.Height).
		Str("mimeType", info.MIMEType).
		Msg("Edit created")
	return edit, nil
}

// Get returns the edit or a NOT_FOUND error.
func (o *Orchestrator) Get(ctx context.Context, editID string) (*store.Edit, error) {
	edit, err := o.store.GetEdit(ctx, editID)
	if err != nil {
		return nil, editerr.NewInternal(err)
	}
	if edit == nil {
		return nil, editerr.NewNotFound("edit", editID)
	}
	return edit, nil
}

// History lists the edit's ledger in sequence order.
func (o *Orchestrator) History(ctx context.Context, editID string) ([]*store.HistoryEntry, error) {
	if _, err := o.Get(ctx, editID); err != nil {
		return nil, err
	}
	entries, err := o.store.History(ctx, editID)
	if err != nil {
		return nil, editerr.NewInternal(err)
	}
	if entries == nil {
		entries = []*store.HistoryEntry{}
	}
	return entries, nil
}

// Revert makes the image of ledger entry sequence current again. It is a
// synchronous terminal write; an attempt still in flight may overwrite it.
func (o *Orchestrator) Revert(ctx context.Context, editID string, sequence int64) (*store.Edit, error) {
	if _, err := o.Get(ctx, editID); err != nil {
		return nil, err
	}
	entry, err := o.store.GetHistoryEntry(ctx, editID, sequence)
	if err != nil {
		return nil, editerr.NewInternal(err)
	}
	if entry == nil {
		return nil, editerr.NewNotFound("history entry", fmt.Sprintf("%s#%d", editID, sequence))
	}
	err = o.store.CompleteAttempt(ctx, editID, store.Completion{ImageID: entry.ImageID, Strength: entry.Strength})
	if errors.Is(err, store.ErrNotFound) {
		return nil, editerr.NewNotFound("edit", editID)
	}
	if err != nil {
		return nil, editerr.NewInternal(err)
	}
	log.Info().Str("editId", editID).Int64("sequence", sequence).Str("imageId", entry.ImageID).Msg("Edit reverted to ledger entry")
	return o.Get(ctx, editID)
}

// DeleteEdit removes the edit with its caches and ledger, then deletes
// every blob it referenced. Blob and suggestion cleanup is best-effort.
// Deleting a missing edit succeeds.
func (o *Orchestrator) DeleteEdit(ctx context.Context, editID string) error {
	edit, err := o.store.GetEdit(ctx, editID)
	if err != nil {
		return editerr.NewInternal(err)
	}
	if edit == nil {
		return nil
	}

	imageIDs := []string{edit.OriginalImageID, edit.CurrentImageID}
	history, err := o.store.History(ctx, editID)
	if err != nil {
		return editerr.NewInternal(err)
	}
	for _, h := range history {
		imageIDs = append(imageIDs, h.ImageID)
	}
	strengths, err := o.store.ListStrength(ctx, editID)
	if err != nil {
		return editerr.NewInternal(err)
	}
	for _, s := range strengths {
		imageIDs = append(imageIDs, s.ImageID)
	}

	if err := o.store.DeleteEdit(ctx, editID); err != nil {
		return editerr.NewInternal(err)
	}
	o.deleteBlobs(context.WithoutCancel(ctx), editID, dedupe(imageIDs))
	log.Info().Str("editId", editID).Int("images", len(imageIDs)).Msg("Edit deleted")
	return nil
}

// deleteBlobs removes blobs and their cached suggestions concurrently,
// logging failures.
func (o *Orchestrator) deleteBlobs(ctx context.Context, editID string, imageIDs []string) {
	var g errgroup.Group
	g.SetLimit(blobDeleteConcurrency)
	for _, id := range imageIDs {
		g.Go(func() error {
			if err := o.store.DeleteSuggestions(ctx, id); err != nil {
				log.Warn().Err(err).Str("editId", editID).Str("imageId", id).Msg("Failed to delete cached suggestions")
			}
			if err := o.blobs.Delete(ctx, id); err != nil {
				log.Warn().Err(err).Str("editId", editID).Str("imageId", id).Msg("Failed to delete blob")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("editId", editID).Msg("Blob cleanup incomplete")
	}
}

// LoadImage returns the bytes of an image. IDs that are not blob IDs are
// reported as NOT_FOUND.
func (o *Orchestrator) LoadImage(ctx context.Context, imageID string) ([]byte, error) {
	if !blob.ValidID(imageID) {
		return nil, editerr.NewNotFound("image", imageID)
	}
	data, err := o.blobs.Load(ctx, imageID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, editerr.NewNotFound("image", imageID)
	}
	if err != nil {
		return nil, editerr.NewInternal(err)
	}
	return data, nil
}

// Export writes a zstd ZIP bundle of the edit to w.
func (o *Orchestrator) Export(ctx context.Context, editID string, w io.Writer) error {
	edit, err := o.Get(ctx, editID)
	if err != nil {
		return err
	}
	history, err := o.store.History(ctx, editID)
	if err != nil {
		return editerr.NewInternal(err)
	}
	if err := export.Write(ctx, w, edit, history, o.blobs); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return editerr.NewNotFound("image", edit.OriginalImageID)
		}
		return editerr.NewInternal(err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
