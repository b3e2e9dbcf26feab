package http

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/hub"
)

// WSHandler upgrades HTTP requests and hands the connection to the session hub.
type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS wires a client into the real-time channel. Role defaults to
// participant; hosts pass role=host and still join the session-wide group.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	role := hub.RoleParticipant
	if r.URL.Query().Get("role") == string(hub.RoleHost) {
		role = hub.RoleHost
	}
	participantID := r.URL.Query().Get("participantId")
	displayName := r.URL.Query().Get("name")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	h.hub.Attach(conn, role, code, participantID, displayName)
}
