package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/editerr"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/orchestrator"
)

const (
	maxUploadBytes  = 25 << 20
	maxRequestBytes = 64 << 10
	presignExpiry   = 15 * time.Minute

	editsPrefix  = "/api/edits/"
	imagesPrefix = "/api/images/"
)

type server struct {
	orch  *orchestrator.Orchestrator
	blobs blob.Store
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/edits", s.handleCreate)
	mux.HandleFunc(editsPrefix, s.handleEditRoutes)
	mux.HandleFunc(imagesPrefix, s.handleImage)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "ai-photo-editor",
		"commit":  commitHash,
	})
}

// POST /api/edits
// Accepts multipart/form-data with a "file" part or a raw image body.
func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d MB", maxUploadBytes>>20))
			return
		}
		httpError(w, http.StatusBadRequest, "could not read upload", err.Error())
		return
	}

	edit, err := s.orch.CreateEdit(r.Context(), data)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, edit)
}

func readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("multipart upload: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

// /api/edits/{id}[/{action}]
func (s *server) handleEditRoutes(w http.ResponseWriter, r *http.Request) {
	id, action, ok := jobs.ParseRoute(r.URL.Path, editsPrefix)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if !jobs.ValidEditID(id) {
		respondError(w, editerr.NewNotFound("edit", id))
		return
	}

	type route struct{ method, action string }
	switch (route{r.Method, action}) {
	case route{http.MethodGet, ""}:
		s.handleGet(w, r, id)
	case route{http.MethodDelete, ""}:
		s.handleDelete(w, r, id)
	case route{http.MethodPost, "adjust"}:
		s.handleAdjust(w, r, id)
	case route{http.MethodPost, "generate"}:
		s.handleGenerate(w, r, id)
	case route{http.MethodGet, "history"}:
		s.handleHistory(w, r, id)
	case route{http.MethodGet, "suggestions"}:
		s.handleSuggestions(w, r, id)
	case route{http.MethodPost, "revert"}:
		s.handleRevert(w, r, id)
	case route{http.MethodGet, "export"}:
		s.handleExport(w, r, id)
	default:
		switch action {
		case "", "adjust", "generate", "history", "suggestions", "revert", "export":
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		default:
			httpError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	edit, err := s.orch.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, edit)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.orch.DeleteEdit(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAdjust(w http.ResponseWriter, r *http.Request, id string) {
	var req orchestrator.ParametricRequest
	if !decodeBody(w, r, &req) {
		return
	}
	edit, err := s.orch.RequestParametric(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, edit)
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request, id string) {
	var req orchestrator.GenerativeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	edit, err := s.orch.RequestGenerative(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, edit)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := s.orch.History(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"editId": id, "entries": entries})
}

func (s *server) handleSuggestions(w http.ResponseWriter, r *http.Request, id string) {
	sug, err := s.orch.Suggest(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sug)
}

func (s *server) handleRevert(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Sequence int64 `json:"sequence"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Sequence < 1 {
		respondError(w, editerr.NewValidation("sequence must be at least 1"))
		return
	}
	edit, err := s.orch.Revert(r.Context(), id, req.Sequence)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, edit)
}

// GET /api/edits/{id}/export streams a ZIP. Errors found before the first
// byte get a JSON response; later ones can only be logged.
func (s *server) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.orch.Get(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, id))
	if err := s.orch.Export(r.Context(), id, w); err != nil {
		log.Error().Err(err).Str("editId", id).Msg("Export aborted mid-stream")
	}
}

// GET /api/images/{imageId}
func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	imageID := strings.TrimPrefix(r.URL.Path, imagesPrefix)
	if !blob.ValidID(imageID) {
		respondError(w, editerr.NewNotFound("image", imageID))
		return
	}

	if p, ok := s.blobs.(blob.Presigner); ok {
		url, err := p.PresignURL(r.Context(), imageID, presignExpiry)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to sign image URL", err.Error())
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	data, err := s.orch.LoadImage(r.Context(), imageID)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Write(data)
}

// decodeBody parses a JSON request body, rejecting unknown fields. It writes
// the error response itself and reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, editerr.NewValidation("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}
