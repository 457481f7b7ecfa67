package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dgallion1/docembed/internal/store"
	"github.com/go-chi/chi/v5"
)

// handleListFiles lists the files ingested into a project.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	files, err := s.files.ListFiles(r.Context(), projectID)
	if err != nil {
		s.log.Error("list files failed", "project_id", projectID, "error", err)
		jsonError(w, "failed to list files", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []store.File{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"files": files})
}

// handleUsage reports a project's embedding tokens for one month,
// the current UTC month by default.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}

	key, err := store.UsageKeyForMonth(projectID, month)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokens, err := s.counter.Get(r.Context(), key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("usage lookup failed", "key", key, "error", err)
		jsonError(w, "failed to read usage", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"project_id":       projectID,
		"month":            month,
		"embedding_tokens": tokens,
	})
}
