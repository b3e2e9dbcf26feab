package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/protocol"
)

// Role distinguishes pacing-authority candidates from consumer-only parties.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleHost        Role = "host"
)

// Conn is one websocket connection attached to the hub.
type Conn struct {
	ID            string
	Role          Role
	SessionCode   string
	ParticipantID string
	DisplayName   string

	ws     *websocket.Conn
	send   chan []byte
	sendMu sync.Mutex
	closed bool
	hub    *Hub

	connectedAt time.Time
}

// outranks orders hosts by attach time, with the ID as a tie-break, so that
// exactly one host in any set outranks all the others.
func (c *Conn) outranks(other *Conn) bool {
	if !c.connectedAt.Equal(other.connectedAt) {
		return c.connectedAt.Before(other.connectedAt)
	}
	return c.ID < other.ID
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Config holds websocket pump tuning.
type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConfig returns the production pump settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
}

// Send queues an envelope for delivery; drops the frame if the client cannot
// keep up (the connection will be evicted by the next full-buffer write).
func (c *Conn) Send(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", string(env.Type)).Msg("marshal outbound frame")
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("session_code", c.SessionCode).
			Msg("send buffer full, dropping frame")
	}
}

// writePump owns all writes to the websocket, including pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames, normalizes them at the boundary, and hands them to
// the hub for routing.
func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.ReadTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "malformed frame"}))
			continue
		}
		c.hub.Route(c, env)
	}
}
