package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/assets"
	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/editerr"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// ParametricRequest asks for a slider adjustment. Exactly one of Vector,
// SuggestionLabel and Prompt must be set. A nil Strength means the
// baseline (50).
type ParametricRequest struct {
	Vector          *adjust.Vector `json:"vector,omitempty"`
	SuggestionLabel string         `json:"suggestionLabel,omitempty"`
	Prompt          string         `json:"prompt,omitempty"`
	Strength        *int           `json:"strength,omitempty"`
	SourceImageID   string         `json:"sourceImageId,omitempty"`
}

// GenerativeRequest asks the image model for an edit.
type GenerativeRequest struct {
	Prompt        string   `json:"prompt"`
	Selections    []string `json:"selections,omitempty"`
	Strength      *int     `json:"strength,omitempty"`
	SourceImageID string   `json:"sourceImageId,omitempty"`
}

// RequestParametric validates req, marks the edit processing and dispatches
// the attempt. The returned Edit is the processing snapshot.
func (o *Orchestrator) RequestParametric(ctx context.Context, editID string, req ParametricRequest) (*store.Edit, error) {
	edit, err := o.Get(ctx, editID)
	if err != nil {
		return nil, err
	}
	strength, err := resolveStrength(req.Strength)
	if err != nil {
		return nil, err
	}

	job := jobs.Job{
		AttemptID: jobs.NewAttemptID(),
		Kind:      store.KindParametric,
		EditID:    editID,
		Strength:  strength,
	}

	prompt := strings.TrimSpace(req.Prompt)
	label := strings.TrimSpace(req.SuggestionLabel)
	inputs := 0
	for _, set := range []bool{req.Vector != nil, label != "", prompt != ""} {
		if set {
			inputs++
		}
	}
	if inputs != 1 {
		return nil, editerr.NewValidation("exactly one of vector, suggestionLabel or prompt is required")
	}

	switch {
	case req.Vector != nil:
		if err := adjust.Validate(*req.Vector); err != nil {
			return nil, editerr.NewValidationErr(err)
		}
		v := adjust.Normalize(*req.Vector)
		job.Vector = &v
	case label != "":
		v, err := o.resolveSuggestion(ctx, edit, label)
		if err != nil {
			return nil, err
		}
		v = adjust.Normalize(v)
		job.Vector = &v
	default:
		job.Prompt = prompt
	}

	if job.SourceImageID, err = o.resolveSource(ctx, edit, req.SourceImageID); err != nil {
		return nil, err
	}
	return o.start(ctx, job, store.ProcessingUpdate{})
}

// RequestGenerative validates req, purges the strength cache when the
// prompt changed, stores the prompt and its refined form together with
// status=processing, and dispatches the attempt.
func (o *Orchestrator) RequestGenerative(ctx context.Context, editID string, req GenerativeRequest) (*store.Edit, error) {
	edit, err := o.Get(ctx, editID)
	if err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, editerr.NewValidation("prompt is required")
	}
	strength, err := resolveStrength(req.Strength)
	if err != nil {
		return nil, err
	}
	selections := normalizeSelections(req.Selections)

	source, err := o.resolveSource(ctx, edit, req.SourceImageID)
	if err != nil {
		return nil, err
	}

	if prompt != edit.Prompt {
		purged, err := o.store.PurgeStrengthCache(ctx, editID)
		if err != nil {
			return nil, editerr.NewInternal(fmt.Errorf("purge strength cache: %w", err))
		}
		log.Info().Str("editId", editID).Int("purged", len(purged)).Msg("Prompt changed, strength cache purged")
		o.deleteBlobs(context.WithoutCancel(ctx), editID, orphanedImages(purged, edit.CurrentImageID, source))
	}

	refined := assets.RenderGeneratePrompt(prompt, selections, strength)
	job := jobs.Job{
		AttemptID:     jobs.NewAttemptID(),
		Kind:          store.KindGenerative,
		EditID:        editID,
		Strength:      strength,
		SourceImageID: source,
		Prompt:        prompt,
		Selections:    selections,
		RefinedPrompt: refined,
	}
	return o.start(ctx, job, store.ProcessingUpdate{Prompt: &prompt, RefinedPrompt: &refined})
}

// start writes status=processing and hands the job to the dispatcher. A
// dispatch failure is recorded as a failed attempt so the edit does not
// stay processing.
func (o *Orchestrator) start(ctx context.Context, job jobs.Job, upd store.ProcessingUpdate) (*store.Edit, error) {
	job.RequestedAt = o.now().Unix()
	edit, err := o.store.MarkProcessing(ctx, job.EditID, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, editerr.NewNotFound("edit", job.EditID)
	}
	if err != nil {
		return nil, editerr.NewInternal(fmt.Errorf("mark processing: %w", err))
	}

	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		o.recordFailure(ctx, job, fmt.Errorf("dispatch: %w", err))
		return nil, editerr.NewInternal(fmt.Errorf("dispatch attempt: %w", err))
	}

	log.Info().
		Str("editId", job.EditID).
		Str("attemptId", job.AttemptID).
		Str("kind", string(job.Kind)).
		Int("strength", job.Strength).
		Str("sourceImageId", job.SourceImageID).
		Msg("Edit attempt dispatched")
	return edit, nil
}

func resolveStrength(s *int) (int, error) {
	if s == nil {
		return adjust.BaselineStrength, nil
	}
	if err := adjust.ValidateStrength(*s); err != nil {
		return 0, editerr.NewValidationErr(err)
	}
	return *s, nil
}

// resolveSource returns the image an attempt starts from: the original by
// default, or an explicit image that belongs to the edit (its original,
// its current image, a ledger entry or a strength-cache entry).
func (o *Orchestrator) resolveSource(ctx context.Context, edit *store.Edit, requested string) (string, error) {
	if requested == "" || requested == edit.OriginalImageID {
		return edit.OriginalImageID, nil
	}
	if !blob.ValidID(requested) {
		return "", editerr.NewNotFound("image", requested)
	}
	if requested == edit.CurrentImageID {
		return requested, nil
	}

	history, err := o.store.History(ctx, edit.ID)
	if err != nil {
		return "", editerr.NewInternal(err)
	}
	for _, h := range history {
		if h.ImageID == requested {
			return requested, nil
		}
	}
	strengths, err := o.store.ListStrength(ctx, edit.ID)
	if err != nil {
		return "", editerr.NewInternal(err)
	}
	for _, s := range strengths {
		if s.ImageID == requested {
			return requested, nil
		}
	}
	return "", editerr.NewNotFound("image", requested)
}

// resolveSuggestion looks label up in the cached analysis of the edit's
// current image, then in the static fallback set.
func (o *Orchestrator) resolveSuggestion(ctx context.Context, edit *store.Edit, label string) (adjust.Vector, error) {
	cached, err := o.store.GetSuggestions(ctx, edit.CurrentImageID)
	if err != nil {
		return adjust.Vector{}, editerr.NewInternal(err)
	}
	if cached != nil {
		if n, ok := cached.Find(label); ok {
			return n.Vector, nil
		}
	}
	if fb, err := fallbackSuggestions(); err == nil {
		if n, ok := fb.Find(label); ok {
			return n.Vector, nil
		}
	}
	return adjust.Vector{}, editerr.NewValidation(fmt.Sprintf("unknown suggestion label %q", label))
}

func normalizeSelections(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// scopedFingerprint ties fp to the source image when an attempt does not
// start from the original, so refinements never hit results rendered from
// a different base.
func scopedFingerprint(fp string, edit *store.Edit, sourceImageID string) string {
	if sourceImageID == "" || sourceImageID == edit.OriginalImageID {
		return fp
	}
	return fp + "|src=" + sourceImageID
}

// orphanedImages returns the purged strength-cache images that nothing
// references any more. keep lists images still in use by the edit.
func orphanedImages(purged []string, keep ...string) []string {
	out := make([]string, 0, len(purged))
	for _, id := range dedupe(purged) {
		if !slices.Contains(keep, id) {
			out = append(out, id)
		}
	}
	return out
}
