package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/hub"
	"quiz-live-service/internal/runtime"
)

// SessionHandler serves the plain request-response query API used by the
// snapshot loader: fetch-by-code, fetch-questions, fetch-participant-count.
type SessionHandler struct {
	query runtime.SessionQuery
	hub   *hub.Hub
}

func NewSessionHandler(query runtime.SessionQuery, h *hub.Hub) *SessionHandler {
	return &SessionHandler{query: query, hub: h}
}

// Register mounts the API routes on a mux.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions/", h.serve)
}

func (h *SessionHandler) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.session(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "questions":
		h.questions(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "participants":
		h.participants(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request, code string) {
	session, err := h.query.SessionByCode(r.Context(), code)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, session)
}

func (h *SessionHandler) questions(w http.ResponseWriter, r *http.Request, sessionID string) {
	questions, err := h.query.QuestionsBySession(r.Context(), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, questions)
}

func (h *SessionHandler) participants(w http.ResponseWriter, r *http.Request, sessionID string) {
	count, err := h.query.ParticipantCount(r.Context(), sessionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	// Live connections trump the stored roster when the hub knows more.
	if h.hub != nil {
		session, err := h.query.SessionByCode(r.Context(), sessionID)
		if err == nil {
			if live := h.hub.ParticipantCount(session.Code); live > count {
				count = live
			}
		}
	}
	writeJSON(w, map[string]int{"count": count})
}

func (h *SessionHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("session query failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}
