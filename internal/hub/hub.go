package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/protocol"
)

// SettingsStore persists the mutually-exclusive leaderboard policy.
type SettingsStore interface {
	Get(ctx context.Context, code string) (domain.LeaderboardSettings, error)
	SetShowAfterEachQuestion(ctx context.Context, code string, enabled bool) (domain.LeaderboardSettings, error)
	SetShowAtEndOnly(ctx context.Context, code string, enabled bool) (domain.LeaderboardSettings, error)
}

// LeaderboardSource serves ranking snapshots for reveal broadcasts.
type LeaderboardSource interface {
	Fetch(ctx context.Context, code string) (domain.Leaderboard, error)
}

// Liveness marks sessions as having live connections in shared storage, so
// other instances (and operators) can see which codes are hot.
type Liveness interface {
	MarkLive(ctx context.Context, code string)
	ClearLive(ctx context.Context, code string)
}

// group is the per-session fan-out state: the participant group, the
// host-only group, and the last known sync snapshot for late joiners.
type group struct {
	members map[*Conn]struct{} // everyone subscribed to session-wide broadcasts
	hosts   map[*Conn]struct{}
	state   protocol.StateSyncPayload
}

// Hub routes session-scoped events between connections. One hub serves many
// sessions; each session has a participant group and a host-only group.
type Hub struct {
	cfg         Config
	settings    SettingsStore
	leaderboard LeaderboardSource
	liveness    Liveness

	mu     sync.RWMutex
	groups map[string]*group
}

func New(cfg Config, settings SettingsStore, leaderboard LeaderboardSource, liveness Liveness) *Hub {
	return &Hub{
		cfg:         cfg,
		settings:    settings,
		leaderboard: leaderboard,
		liveness:    liveness,
		groups:      make(map[string]*group),
	}
}

// Attach wraps an upgraded websocket into a Conn and starts its pumps. Group
// membership is established by join events, not by attachment, so a
// reconnecting client re-subscribes the same way it first subscribed.
func (h *Hub) Attach(ws *websocket.Conn, role Role, code, participantID, displayName string) *Conn {
	conn := &Conn{
		ID:            uuid.New().String(),
		Role:          role,
		SessionCode:   code,
		ParticipantID: participantID,
		DisplayName:   displayName,
		ws:            ws,
		send:          make(chan []byte, h.cfg.SendBuffer),
		hub:           h,
		connectedAt:   time.Now(),
	}
	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_code", code).
		Str("role", string(role)).
		Msg("connection attached")
	return conn
}

// Route dispatches one inbound command frame.
func (h *Hub) Route(c *Conn, env protocol.Envelope) {
	ctx := context.Background()
	switch env.Type {
	case protocol.EventJoinSession:
		h.handleJoin(ctx, c, env, false)
	case protocol.EventJoinHostSession:
		h.handleJoin(ctx, c, env, true)
	case protocol.EventCheckHostPresence:
		h.handleCheckHost(c, env)
	case protocol.EventForceNavigate:
		h.handleNavigate(c, env)
	case protocol.EventBroadcastTimer:
		h.handleTimer(c, env)
	case protocol.EventNotifyQuizStart:
		h.handleStart(c, env)
	case protocol.EventManualEnd:
		h.handleEnd(c, env)
	case protocol.EventSetShowAfterEach:
		h.handleToggle(ctx, c, env, true)
	case protocol.EventSetShowAtEndOnly:
		h.handleToggle(ctx, c, env, false)
	case protocol.EventShowLeaderboard:
		h.handleReveal(ctx, c, env)
	case protocol.EventLeaderboardHide:
		h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventLeaderboardHide, protocol.EndPayload{SessionCode: c.SessionCode}))
	case protocol.EventReportProgress:
		h.handleProgress(c, env)
	default:
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "unsupported event " + string(env.Type)}))
	}
}

// Unregister removes a connection from its groups. A host departure is
// announced to the remaining hosts so one of them can claim pacing; when the
// last host leaves, the whole session learns pacing reverted to auto.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	g, ok := h.groups[c.SessionCode]
	if !ok {
		h.mu.Unlock()
		c.closeSend()
		return
	}
	_, wasMember := g.members[c]
	_, wasHost := g.hosts[c]
	delete(g.members, c)
	delete(g.hosts, c)
	hostsRemain := len(g.hosts) > 0
	count := h.participantCountLocked(g)
	empty := len(g.members) == 0
	if empty {
		delete(h.groups, c.SessionCode)
	}
	h.mu.Unlock()

	c.closeSend()
	if !wasMember {
		return
	}
	if empty {
		if h.liveness != nil {
			h.liveness.ClearLive(context.Background(), c.SessionCode)
		}
		return
	}
	if c.Role == RoleParticipant {
		h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventParticipantCount, protocol.CountPayload{
			SessionCode: c.SessionCode, Count: count,
		}))
	}
	if wasHost {
		if hostsRemain {
			// The remaining hosts re-run the presence check; the senior
			// one ends up claiming pacing.
			h.broadcastHosts(c.SessionCode, protocol.MustEncode(protocol.EventHostDeparted, protocol.HostDepartedPayload{
				SessionCode: c.SessionCode,
			}))
		} else {
			log.Info().Str("session_code", c.SessionCode).Msg("last host disconnected, pacing reverts to auto")
			h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventHostPresence, protocol.HostPresencePayload{
				SessionCode: c.SessionCode, HostPresent: false,
			}))
		}
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Conn, env protocol.Envelope, asHost bool) {
	var payload protocol.JoinPayload
	if err := protocol.Decode(env, &payload); err != nil {
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "invalid join payload"}))
		return
	}
	code := payload.SessionCode
	if code == "" {
		code = c.SessionCode
	}

	h.mu.Lock()
	g, ok := h.groups[code]
	created := !ok
	if created {
		g = &group{
			members: make(map[*Conn]struct{}),
			hosts:   make(map[*Conn]struct{}),
			state:   protocol.StateSyncPayload{SessionCode: code},
		}
		h.groups[code] = g
	}
	c.SessionCode = code
	g.members[c] = struct{}{}
	firstHost := false
	if asHost {
		firstHost = len(g.hosts) == 0
		g.hosts[c] = struct{}{}
	}
	count := h.participantCountLocked(g)
	h.mu.Unlock()

	if created {
		if h.liveness != nil {
			h.liveness.MarkLive(ctx, code)
		}
		// A fresh group starts from the persisted leaderboard policy, so
		// late joiners never sync against blank settings.
		if h.settings != nil {
			if persisted, err := h.settings.Get(ctx, code); err != nil {
				log.Warn().Err(err).Str("session_code", code).Msg("load leaderboard settings failed")
			} else {
				h.updateState(code, func(s *protocol.StateSyncPayload) {
					s.ShowAfterEachQuestion = persisted.ShowAfterEachQuestion
					s.ShowAtEndOnly = persisted.ShowAtEndOnly
				})
			}
		}
	}

	// Every joiner catches up from the group snapshot, whether it is a
	// reconnecting participant or a passive observer host.
	c.Send(protocol.MustEncode(protocol.EventSessionStateSync, h.stateSnapshot(code)))

	if asHost {
		if firstHost {
			h.broadcastExcept(code, c, protocol.MustEncode(protocol.EventHostPresence, protocol.HostPresencePayload{
				SessionCode: code, HostPresent: true,
			}))
		}
	} else {
		h.broadcast(code, protocol.MustEncode(protocol.EventParticipantCount, protocol.CountPayload{
			SessionCode: code, Count: count,
		}))
	}
}

func (h *Hub) handleCheckHost(c *Conn, env protocol.Envelope) {
	var payload protocol.JoinPayload
	if err := protocol.Decode(env, &payload); err != nil {
		payload.SessionCode = c.SessionCode
	}
	code := payload.SessionCode
	if code == "" {
		code = c.SessionCode
	}

	h.mu.RLock()
	present := false
	if g, ok := h.groups[code]; ok {
		if _, isHost := g.hosts[c]; isHost {
			// For a host the answer is "does another host outrank me":
			// seniority makes the claim deterministic when several
			// passive hosts re-check after a departure.
			for host := range g.hosts {
				if host != c && host.outranks(c) {
					present = true
					break
				}
			}
		} else {
			present = len(g.hosts) > 0
		}
	}
	h.mu.RUnlock()

	c.Send(protocol.MustEncode(protocol.EventHostPresence, protocol.HostPresencePayload{
		SessionCode: code, HostPresent: present,
	}))
}

func (h *Hub) handleNavigate(c *Conn, env protocol.Envelope) {
	var payload protocol.NavigatePayload
	if err := protocol.Decode(env, &payload); err != nil {
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "invalid navigate payload"}))
		return
	}
	h.updateState(c.SessionCode, func(s *protocol.StateSyncPayload) {
		s.QuestionID = payload.QuestionID
		s.QuestionNumber = payload.QuestionNumber
	})
	h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventForceNavigateTo, payload))
}

func (h *Hub) handleTimer(c *Conn, env protocol.Envelope) {
	var payload protocol.TimerPayload
	if err := protocol.Decode(env, &payload); err != nil {
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "invalid timer payload"}))
		return
	}
	h.updateState(c.SessionCode, func(s *protocol.StateSyncPayload) {
		s.QuestionID = payload.QuestionID
		s.Remaining = payload.Remaining
		s.Total = payload.Total
	})
	h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventLiveTimerUpdate, payload))
}

func (h *Hub) handleStart(c *Conn, env protocol.Envelope) {
	var payload protocol.StartPayload
	if err := protocol.Decode(env, &payload); err != nil {
		payload.SessionCode = c.SessionCode
	}
	if payload.SessionCode == "" {
		payload.SessionCode = c.SessionCode
	}
	h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventQuizStarted, payload))
}

func (h *Hub) handleEnd(c *Conn, env protocol.Envelope) {
	h.updateState(c.SessionCode, func(s *protocol.StateSyncPayload) {
		s.Ended = true
	})
	h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventQuizEnded, protocol.EndPayload{SessionCode: c.SessionCode}))
}

func (h *Hub) handleToggle(ctx context.Context, c *Conn, env protocol.Envelope, afterEach bool) {
	var payload protocol.LeaderboardTogglePayload
	if err := protocol.Decode(env, &payload); err != nil {
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "invalid toggle payload"}))
		return
	}
	code := c.SessionCode

	var settings domain.LeaderboardSettings
	var err error
	if afterEach {
		settings, err = h.settings.SetShowAfterEachQuestion(ctx, code, payload.Enabled)
	} else {
		settings, err = h.settings.SetShowAtEndOnly(ctx, code, payload.Enabled)
	}
	if err != nil {
		log.Warn().Err(err).Str("session_code", code).Msg("persist leaderboard setting failed")
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "could not save leaderboard setting"}))
		return
	}

	var state protocol.StateSyncPayload
	h.updateState(code, func(s *protocol.StateSyncPayload) {
		s.ShowAfterEachQuestion = settings.ShowAfterEachQuestion
		s.ShowAtEndOnly = settings.ShowAtEndOnly
		state = *s
	})
	h.broadcastHosts(code, protocol.MustEncode(protocol.EventSessionStateSync, state))
}

func (h *Hub) handleReveal(ctx context.Context, c *Conn, env protocol.Envelope) {
	var payload protocol.LeaderboardShowPayload
	if err := protocol.Decode(env, &payload); err != nil {
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "invalid leaderboard payload"}))
		return
	}
	code := c.SessionCode

	reveal := protocol.RevealPayload{
		SessionCode:     code,
		QuestionID:      payload.QuestionID,
		DurationSeconds: payload.DurationSeconds,
		RevealedAt:      time.Now().UTC(),
	}
	if h.leaderboard != nil {
		lb, err := h.leaderboard.Fetch(ctx, code)
		if err != nil {
			// Reveal still goes out with the duration; entries are best-effort.
			log.Warn().Err(err).Str("session_code", code).Msg("leaderboard fetch for reveal failed")
		} else {
			reveal.Entries = make([]protocol.RevealEntry, 0, len(lb.Entries))
			for _, entry := range lb.Entries {
				reveal.Entries = append(reveal.Entries, protocol.RevealEntry{
					ParticipantID: entry.ParticipantID,
					DisplayName:   entry.DisplayName,
					Score:         entry.Score,
				})
			}
		}
	}
	h.broadcast(code, protocol.MustEncode(protocol.EventLeaderboardReveal, reveal))
}

func (h *Hub) handleProgress(c *Conn, env protocol.Envelope) {
	var payload protocol.ProgressPayload
	if err := protocol.Decode(env, &payload); err != nil {
		c.Send(protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: "invalid progress payload"}))
		return
	}
	payload.SessionCode = c.SessionCode
	payload.Percentage = domain.ProgressPercentage(payload.Submitted, payload.Total)
	h.broadcast(c.SessionCode, protocol.MustEncode(protocol.EventSubmissionProgress, payload))
}

// broadcast fans an envelope out to every member of a session.
func (h *Hub) broadcast(code string, env protocol.Envelope) {
	h.broadcastExcept(code, nil, env)
}

func (h *Hub) broadcastExcept(code string, skip *Conn, env protocol.Envelope) {
	h.mu.RLock()
	g, ok := h.groups[code]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Conn, 0, len(g.members))
	for conn := range g.members {
		if conn != skip {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(env)
	}
}

// broadcastHosts fans an envelope out to the host-only group.
func (h *Hub) broadcastHosts(code string, env protocol.Envelope) {
	h.mu.RLock()
	g, ok := h.groups[code]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Conn, 0, len(g.hosts))
	for conn := range g.hosts {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(env)
	}
}

// stateSnapshot returns the catch-up payload for a session, with host
// presence computed live rather than stored.
func (h *Hub) stateSnapshot(code string) protocol.StateSyncPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.groups[code]
	if !ok {
		return protocol.StateSyncPayload{SessionCode: code}
	}
	state := g.state
	state.HostPresent = len(g.hosts) > 0
	return state
}

func (h *Hub) updateState(code string, mutate func(*protocol.StateSyncPayload)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.groups[code]; ok {
		mutate(&g.state)
	}
}

func (h *Hub) participantCountLocked(g *group) int {
	count := 0
	for conn := range g.members {
		if conn.Role == RoleParticipant {
			count++
		}
	}
	return count
}

// ParticipantCount reports the connected participant count for a session.
func (h *Hub) ParticipantCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.groups[code]
	if !ok {
		return 0
	}
	return h.participantCountLocked(g)
}

// HostPresent reports whether any host is attached to a session.
func (h *Hub) HostPresent(code string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.groups[code]
	return ok && len(g.hosts) > 0
}
