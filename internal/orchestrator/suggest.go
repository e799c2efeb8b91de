package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/assets"
	"github.com/fpang/ai-photo-editor/internal/jsonutil"
	"github.com/fpang/ai-photo-editor/internal/metrics"
	"github.com/fpang/ai-photo-editor/internal/store"
)

var (
	fallbackOnce sync.Once
	fallback     store.Suggestions
	fallbackErr  error
)

// fallbackSuggestions parses the embedded static suggestion set once.
func fallbackSuggestions() (*store.Suggestions, error) {
	fallbackOnce.Do(func() {
		fallback, fallbackErr = jsonutil.ParseJSON[store.Suggestions](string(assets.FallbackSuggestionsJSON))
		if fallbackErr == nil {
			fallback.Fallback = true
		}
	})
	if fallbackErr != nil {
		return nil, fmt.Errorf("parse fallback suggestions: %w", fallbackErr)
	}
	cp := fallback
	cp.NaturalSuggestions = slices.Clone(fallback.NaturalSuggestions)
	cp.AISuggestions = slices.Clone(fallback.AISuggestions)
	return &cp, nil
}

// Suggest returns the analysis of the edit's current image. A cached
// analysis is returned as is; otherwise the analyzer runs, the result is
// cached and fills the edit title when it has none. When analysis fails
// the static fallback set is returned instead and nothing is cached.
func (o *Orchestrator) Suggest(ctx context.Context, editID string) (*store.Suggestions, error) {
	edit, err := o.Get(ctx, editID)
	if err != nil {
		return nil, err
	}
	imageID := edit.CurrentImageID

	cached, err := o.store.GetSuggestions(ctx, imageID)
	if err != nil {
		log.Warn().Err(err).Str("imageId", imageID).Msg("Suggestions cache read failed, analyzing")
	} else if cached != nil {
		metrics.Edit("suggest").CacheResult(true).Flush()
		return cached, nil
	}

	start := time.Now()
	sug, err := o.analyze(ctx, edit)
	if err != nil {
		log.Warn().Err(err).Str("editId", editID).Str("imageId", imageID).Msg("Image analysis failed, serving fallback suggestions")
		metrics.Edit("suggest").Count(metrics.AnalysisFallback).Duration(metrics.AnalyzeMs, time.Since(start)).Flush()
		fb, ferr := fallbackSuggestions()
		if ferr != nil {
			return nil, ferr
		}
		fb.ImageID = imageID
		return fb, nil
	}
	metrics.Edit("suggest").CacheResult(false).Duration(metrics.AnalyzeMs, time.Since(start)).Flush()

	sug.ImageID = imageID
	sug.CreatedAt = o.now().Unix()
	if err := o.store.PutSuggestions(ctx, sug); err != nil {
		log.Warn().Err(err).Str("imageId", imageID).Msg("Failed to cache suggestions")
	}
	if sug.Title != "" {
		if err := o.store.SetTitleIfEmpty(ctx, editID, sug.Title); err != nil {
			log.Warn().Err(err).Str("editId", editID).Msg("Failed to set edit title")
		}
	}
	return sug, nil
}

func (o *Orchestrator) analyze(ctx context.Context, edit *store.Edit) (*store.Suggestions, error) {
	data, err := o.blobs.Load(ctx, edit.CurrentImageID)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	mime := edit.MIMEType
	if edit.CurrentImageID != edit.OriginalImageID {
		mime = "image/png"
	}
	actx, cancel := context.WithTimeout(ctx, o.cfg.AnalyzeTimeout)
	defer cancel()
	sug, err := o.analyzer.Analyze(actx, data, mime)
	if err != nil {
		return nil, err
	}
	if sug == nil || len(sug.NaturalSuggestions) == 0 {
		return nil, fmt.Errorf("analysis returned no suggestions")
	}
	return sug, nil
}
