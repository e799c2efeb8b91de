package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/canvas"
	"github.com/fpang/ai-photo-editor/internal/editerr"
	"github.com/fpang/ai-photo-editor/internal/events"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/metrics"
	"github.com/fpang/ai-photo-editor/internal/store"
)

const maxErrorLength = 500

// outcome is the result of a successful attempt.
type outcome struct {
	imageID  string
	cacheHit bool
}

var _ jobs.Runner = (*Orchestrator)(nil)

// Run executes one attempt: check the cache, do the work on a miss, then
// write the terminal status. It never leaves the edit processing; the
// returned error has already been recorded on the edit.
func (o *Orchestrator) Run(ctx context.Context, job jobs.Job) error {
	start := o.now()
	if err := job.Validate(); err != nil {
		err = editerr.NewValidationErr(err)
		o.recordFailure(ctx, job, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	edit, err := o.store.GetEdit(ctx, job.EditID)
	if err != nil {
		err = editerr.NewInternal(fmt.Errorf("load edit: %w", err))
		o.recordFailure(ctx, job, err)
		return err
	}
	if edit == nil {
		log.Warn().Str("editId", job.EditID).Str("attemptId", job.AttemptID).Msg("Edit deleted before attempt ran, dropping")
		return nil
	}

	var out outcome
	switch job.Kind {
	case store.KindParametric:
		out, err = o.runParametric(ctx, job, edit)
	case store.KindGenerative:
		out, err = o.runGenerative(ctx, job, edit)
	}

	rec := metrics.Attempt(string(job.Kind), job.EditID, job.AttemptID)
	if err != nil {
		rec.Count(metrics.AttemptFailed).Duration(metrics.AttemptMs, time.Since(start)).Flush()
		o.recordFailure(ctx, job, err)
		o.notify(ctx, job, start, "", false, err)
		return err
	}
	rec.CacheResult(out.cacheHit).Duration(metrics.AttemptMs, time.Since(start)).Flush()

	return o.complete(ctx, job, start, out)
}

func (o *Orchestrator) runParametric(ctx context.Context, job jobs.Job, edit *store.Edit) (outcome, error) {
	var base adjust.Vector
	if job.Vector != nil {
		base = *job.Vector
	} else {
		ictx, cancel := context.WithTimeout(ctx, o.cfg.InferTimeout)
		v, err := o.inferrer.InferVector(ictx, job.Prompt)
		cancel()
		if err != nil {
			return outcome{}, editerr.NewUpstream("vector inference", err)
		}
		base = v
	}
	// Jobs can arrive from outside this process; key and render the same
	// precision regardless of where the vector came from.
	base = adjust.Normalize(base)

	fp := scopedFingerprint(adjust.VectorFingerprint(base), edit, job.SourceImageID)
	if hit, err := o.store.FindHistory(ctx, job.EditID, fp, job.Strength); err != nil {
		return outcome{}, editerr.NewInternal(err)
	} else if hit != nil {
		log.Info().Str("editId", job.EditID).Int64("sequence", hit.Sequence).Int("strength", job.Strength).Msg("Ledger cache hit")
		return outcome{imageID: hit.ImageID, cacheHit: true}, nil
	}

	src, err := o.loadSource(ctx, job.SourceImageID)
	if err != nil {
		return outcome{}, err
	}
	scaled := adjust.Scale(base, job.Strength)
	rendered, err := o.adjuster.Apply(ctx, src, scaled)
	if err != nil {
		return outcome{}, classifyImageErr(err)
	}
	imageID, err := o.blobs.Save(ctx, rendered, "image/png")
	if err != nil {
		return outcome{}, editerr.NewInternal(fmt.Errorf("save result: %w", err))
	}

	entry := &store.HistoryEntry{
		EditID:      job.EditID,
		Fingerprint: fp,
		Strength:    job.Strength,
		ImageID:     imageID,
		Vector:      &base,
	}
	err = o.store.AppendHistory(ctx, entry)
	if errors.Is(err, store.ErrConflict) {
		// Another attempt rendered the same request first; keep its entry.
		o.deleteBlobs(context.WithoutCancel(ctx), job.EditID, []string{imageID})
		winner, ferr := o.store.FindHistory(ctx, job.EditID, fp, job.Strength)
		if ferr != nil || winner == nil {
			return outcome{}, editerr.NewInternal(fmt.Errorf("re-read ledger after conflict: %w", errors.Join(err, ferr)))
		}
		return outcome{imageID: winner.ImageID}, nil
	}
	if err != nil {
		return outcome{}, editerr.NewInternal(err)
	}
	log.Info().
		Str("editId", job.EditID).
		Int64("sequence", entry.Sequence).
		Int("strength", job.Strength).
		Stringer("vector", scaled).
		Msg("Parametric edit rendered")
	return outcome{imageID: imageID}, nil
}

func (o *Orchestrator) runGenerative(ctx context.Context, job jobs.Job, edit *store.Edit) (outcome, error) {
	fp := scopedFingerprint(adjust.PromptFingerprint(job.Prompt, job.Selections), edit, job.SourceImageID)
	cached, err := o.store.GetStrength(ctx, job.EditID, job.Strength)
	if err != nil {
		return outcome{}, editerr.NewInternal(err)
	}
	if cached != nil && cached.Fingerprint == fp {
		log.Info().Str("editId", job.EditID).Int("strength", job.Strength).Msg("Strength cache hit")
		return outcome{imageID: cached.ImageID, cacheHit: true}, nil
	}

	src, err := o.loadSource(ctx, job.SourceImageID)
	if err != nil {
		return outcome{}, err
	}
	square, _, err := canvas.PadToSquare(src)
	if err != nil {
		return outcome{}, classifyImageErr(err)
	}

	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	genStart := time.Now()
	generated, err := o.generator.Generate(gctx, job.RefinedPrompt, square)
	cancel()
	metrics.Edit("generate").Duration(metrics.GenerateMs, time.Since(genStart)).Flush()
	if err != nil {
		return outcome{}, editerr.NewUpstream("image generation", err)
	}

	// The result is cropped to the edit's dimensions, not the source's.
	result, err := canvas.UnpadFromSquare(generated, canvas.DescriptorFor(edit.Width, edit.Height))
	if err != nil {
		return outcome{}, classifyImageErr(err)
	}
	imageID, err := o.blobs.Save(ctx, result, "image/png")
	if err != nil {
		return outcome{}, editerr.NewInternal(fmt.Errorf("save result: %w", err))
	}
	if err := o.store.PutStrength(ctx, &store.StrengthEntry{
		EditID:      job.EditID,
		Strength:    job.Strength,
		Fingerprint: fp,
		ImageID:     imageID,
	}); err != nil {
		return outcome{}, editerr.NewInternal(err)
	}
	log.Info().
		Str("editId", job.EditID).
		Int("strength", job.Strength).
		Str("imageId", imageID).
		Dur("generate", time.Since(genStart)).
		Msg("Generative edit rendered")
	return outcome{imageID: imageID}, nil
}

func (o *Orchestrator) loadSource(ctx context.Context, imageID string) ([]byte, error) {
	data, err := o.blobs.Load(ctx, imageID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, editerr.NewNotFound("image", imageID)
	}
	if err != nil {
		return nil, editerr.NewInternal(fmt.Errorf("load source: %w", err))
	}
	return data, nil
}

func classifyImageErr(err error) error {
	var de *canvas.DecodeError
	if errors.As(err, &de) {
		return editerr.NewDecode(err)
	}
	return editerr.NewInternal(err)
}

// terminalContext detaches from the attempt deadline so a timed-out
// attempt can still record its outcome.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func (o *Orchestrator) complete(ctx context.Context, job jobs.Job, start time.Time, out outcome) error {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	err := o.store.CompleteAttempt(wctx, job.EditID, store.Completion{ImageID: out.imageID, Strength: job.Strength})
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("editId", job.EditID).Str("imageId", out.imageID).Msg("Edit deleted during attempt, result dropped")
		if !out.cacheHit {
			o.deleteBlobs(wctx, job.EditID, []string{out.imageID})
		}
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("editId", job.EditID).Str("attemptId", job.AttemptID).Msg("Failed to record completed attempt")
		return editerr.NewInternal(fmt.Errorf("complete attempt: %w", err))
	}

	log.Info().
		Str("editId", job.EditID).
		Str("attemptId", job.AttemptID).
		Str("kind", string(job.Kind)).
		Str("imageId", out.imageID).
		Bool("cacheHit", out.cacheHit).
		Dur("duration", time.Since(start)).
		Msg("Edit attempt completed")
	o.notify(wctx, job, start, out.imageID, out.cacheHit, nil)
	return nil
}

// recordFailure writes status=failed with the error message. The current
// image is left as it was.
func (o *Orchestrator) recordFailure(ctx context.Context, job jobs.Job, cause error) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	msg := truncateUTF8(cause.Error(), maxErrorLength)
	log.Error().Err(cause).Str("editId", job.EditID).Str("attemptId", job.AttemptID).Str("kind", string(job.Kind)).Msg("Edit attempt failed")

	if job.EditID == "" {
		return
	}
	if err := o.store.FailAttempt(wctx, job.EditID, msg); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("editId", job.EditID).Msg("Failed to record failed attempt")
	}
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (o *Orchestrator) notify(ctx context.Context, job jobs.Job, start time.Time, imageID string, hit bool, cause error) {
	if o.notifier == nil {
		return
	}
	ev := events.AttemptFinished{
		EditID:     job.EditID,
		AttemptID:  job.AttemptID,
		Kind:       job.Kind,
		Status:     store.StatusCompleted,
		ImageID:    imageID,
		Strength:   job.Strength,
		CacheHit:   hit,
		DurationMs: time.Since(start).Milliseconds(),
		FinishedAt: o.now().Unix(),
	}
	if cause != nil {
		ev.Status = store.StatusFailed
		ev.Error = cause.Error()
	}
	nctx, cancel := terminalContext(ctx)
	defer cancel()
	if err := o.notifier.Notify(nctx, ev); err != nil {
		log.Warn().Err(err).Str("editId", job.EditID).Msg("Failed to publish attempt event")
	}
}
