package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/editerr"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internalDetails are logged server-side but never sent to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

// respondError maps err onto its editerr status and code. Causes of
// internal and upstream errors are logged, not returned.
func respondError(w http.ResponseWriter, err error) {
	e := editerr.Classify(err)
	if e.Status >= 500 {
		log.Error().Err(err).Str("code", string(e.Code)).Msg("Request failed")
	}
	respondJSON(w, e.Status, map[string]string{"error": e.Message, "code": string(e.Code)})
}
