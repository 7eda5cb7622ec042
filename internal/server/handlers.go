package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders the client-facing error envelope. Upstream error bodies
// never pass through here verbatim.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
		"brands": s.brands.Len(),
	})
}

// handleBrandGet returns the authenticated brand's public settings. Keys and
// notification routing stay server-side.
func (s *Server) handleBrandGet(w http.ResponseWriter, r *http.Request) {
	b, err := s.brands.Get(requestctx.BrandKey(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Unknown brand")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":          b.Key,
		"display_name": b.DisplayName,
		"experiences":  b.Experiences,
	})
}

// handleHandoffsList returns the authenticated brand's journal entries,
// newest first.
func (s *Server) handleHandoffsList(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "not_found", "Journal not enabled")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-500")
			return
		}
		limit = n
	}
	var from, to time.Time
	if q := r.URL.Query().Get("from"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = t
	}
	if q := r.URL.Query().Get("to"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = t
	}

	entries, err := s.journal.List(r.Context(), requestctx.BrandKey(r.Context()), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Journal query failed")
		return
	}
	if entries == nil {
		entries = []journal.Entry{} // encode as [] not null
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"handoffs": entries,
		"count":    len(entries),
	})
}

func (s *Server) handleHandoffGet(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "not_found", "Journal not enabled")
		return
	}
	entry, err := s.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Handoff not found")
		return
	}
	// Entries are brand-scoped: one brand must not read another's.
	if entry.BrandKey != requestctx.BrandKey(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "Handoff not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
