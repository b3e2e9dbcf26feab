package client

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/protocol"
)

// Handlers holds optional callbacks for inbound events. Nil funcs are skipped.
// Dispatch happens on the channel's read goroutine; handlers must not block.
type Handlers struct {
	OnQuizStarted  func(protocol.StartPayload)
	OnStateSync    func(protocol.StateSyncPayload)
	OnTimer        func(protocol.TimerPayload)
	OnProgress     func(protocol.ProgressPayload)
	OnNavigate     func(protocol.NavigatePayload)
	OnCount        func(protocol.CountPayload)
	OnEnded        func()
	OnHostPresence func(protocol.HostPresencePayload)
	OnHostDeparted func()
	OnReveal       func(protocol.RevealPayload)
	OnHide         func()
	OnConnected    func()
	OnDisconnected func()
	OnError        func(protocol.ErrorPayload)
}

// Backoff tunes the reconnect policy.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff doubles from half a second up to 30 seconds with jitter.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Channel is the client side of the real-time channel: one persistent,
// auto-reconnecting websocket per session per client. After a reconnect it
// re-joins every group it held before the drop (session group and, for hosts,
// the host group) and only then reports itself usable; commands issued while
// down fail with domain.ErrNotConnected instead of being silently dropped.
type Channel struct {
	url      string
	code     string
	isHost   bool
	handlers Handlers
	backoff  Backoff
	clock    clockwork.Clock
	rnd      *rand.Rand

	mu       sync.Mutex
	conn     *websocket.Conn
	usable   bool
	identity protocol.JoinPayload
}

func NewChannel(url, sessionCode string, isHost bool, handlers Handlers, backoff Backoff, clock clockwork.Clock) *Channel {
	return &Channel{
		url:      url,
		code:     sessionCode,
		isHost:   isHost,
		handlers: handlers,
		backoff:  backoff,
		clock:    clock,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		identity: protocol.JoinPayload{SessionCode: sessionCode},
	}
}

// SetIdentity records the participant identity used when (re)joining.
func (c *Channel) SetIdentity(participantID, displayName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity.ParticipantID = participantID
	c.identity.DisplayName = displayName
}

// Run maintains the connection until ctx is cancelled. Connection loss is
// non-fatal: the last known state lives in the state machine and reconnection
// is automatic with exponential backoff.
func (c *Channel) Run(ctx context.Context) {
	delay := c.backoff.Initial
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectAndServe(ctx); err != nil {
			log.Warn().Err(err).Str("session_code", c.code).Msg("channel dropped")
		}
		if c.handlers.OnDisconnected != nil {
			c.handlers.OnDisconnected()
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.jitter(delay)):
		}
		delay *= 2
		if delay > c.backoff.Max {
			delay = c.backoff.Max
		}
	}
}

func (c *Channel) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Cancellation must unblock the read loop so the server sees the
	// departure promptly.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()

	c.mu.Lock()
	c.conn = conn
	identity := c.identity
	c.mu.Unlock()

	// Re-subscribe before reporting the connection usable: the session group
	// always, the host-only group for hosts.
	if err := c.writeEnvelope(conn, protocol.MustEncode(protocol.EventJoinSession, identity)); err != nil {
		return err
	}
	if c.isHost {
		if err := c.writeEnvelope(conn, protocol.MustEncode(protocol.EventJoinHostSession, identity)); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.usable = true
	c.mu.Unlock()
	if c.handlers.OnConnected != nil {
		c.handlers.OnConnected()
	}

	defer func() {
		c.mu.Lock()
		c.usable = false
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventQuizStarted:
		var p protocol.StartPayload
		if c.decode(env, &p) && c.handlers.OnQuizStarted != nil {
			c.handlers.OnQuizStarted(p)
		}
	case protocol.EventSessionStateSync:
		var p protocol.StateSyncPayload
		if c.decode(env, &p) && c.handlers.OnStateSync != nil {
			c.handlers.OnStateSync(p)
		}
	case protocol.EventLiveTimerUpdate:
		var p protocol.TimerPayload
		if c.decode(env, &p) && c.handlers.OnTimer != nil {
			c.handlers.OnTimer(p)
		}
	case protocol.EventSubmissionProgress:
		var p protocol.ProgressPayload
		if c.decode(env, &p) && c.handlers.OnProgress != nil {
			c.handlers.OnProgress(p)
		}
	case protocol.EventForceNavigateTo:
		var p protocol.NavigatePayload
		if c.decode(env, &p) && c.handlers.OnNavigate != nil {
			c.handlers.OnNavigate(p)
		}
	case protocol.EventParticipantCount:
		var p protocol.CountPayload
		if c.decode(env, &p) && c.handlers.OnCount != nil {
			c.handlers.OnCount(p)
		}
	case protocol.EventQuizEnded:
		if c.handlers.OnEnded != nil {
			c.handlers.OnEnded()
		}
	case protocol.EventHostPresence:
		var p protocol.HostPresencePayload
		if c.decode(env, &p) && c.handlers.OnHostPresence != nil {
			c.handlers.OnHostPresence(p)
		}
	case protocol.EventHostDeparted:
		if c.handlers.OnHostDeparted != nil {
			c.handlers.OnHostDeparted()
		}
	case protocol.EventLeaderboardReveal:
		var p protocol.RevealPayload
		if c.decode(env, &p) && c.handlers.OnReveal != nil {
			c.handlers.OnReveal(p)
		}
	case protocol.EventLeaderboardHide:
		if c.handlers.OnHide != nil {
			c.handlers.OnHide()
		}
	case protocol.EventError:
		var p protocol.ErrorPayload
		if c.decode(env, &p) && c.handlers.OnError != nil {
			c.handlers.OnError(p)
		}
	default:
		log.Debug().Str("event", string(env.Type)).Msg("ignoring unknown event")
	}
}

func (c *Channel) decode(env protocol.Envelope, dst any) bool {
	if err := protocol.Decode(env, dst); err != nil {
		log.Warn().Err(err).Str("event", string(env.Type)).Msg("bad payload")
		return false
	}
	return true
}

// Connected reports whether the channel is currently usable for commands.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usable
}

func (c *Channel) send(t protocol.EventType, payload any) error {
	env, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, usable := c.conn, c.usable
	c.mu.Unlock()
	if !usable || conn == nil {
		return domain.ErrNotConnected
	}
	return c.writeEnvelope(conn, env)
}

func (c *Channel) writeEnvelope(conn *websocket.Conn, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Channel) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(c.rnd.Int63n(int64(d)/4+1))
}

// CheckHostPresence queries whether another host already owns pacing.
func (c *Channel) CheckHostPresence() error {
	return c.send(protocol.EventCheckHostPresence, protocol.JoinPayload{SessionCode: c.code})
}

// ReportProgress feeds the submission progress bar.
func (c *Channel) ReportProgress(questionID string, submitted, total int) error {
	return c.send(protocol.EventReportProgress, protocol.ProgressPayload{
		SessionCode: c.code, QuestionID: questionID, Submitted: submitted, Total: total,
	})
}

// SetShowLeaderboardAfterQuestion persists one side of the reveal policy.
func (c *Channel) SetShowLeaderboardAfterQuestion(enabled bool) error {
	return c.send(protocol.EventSetShowAfterEach, protocol.LeaderboardTogglePayload{SessionCode: c.code, Enabled: enabled})
}

// SetShowLeaderboardAtEndOnly persists the other side of the reveal policy.
func (c *Channel) SetShowLeaderboardAtEndOnly(enabled bool) error {
	return c.send(protocol.EventSetShowAtEndOnly, protocol.LeaderboardTogglePayload{SessionCode: c.code, Enabled: enabled})
}

// NotifyStart implements runtime.Broadcaster.
func (c *Channel) NotifyStart(code string, forceStart bool) error {
	return c.send(protocol.EventNotifyQuizStart, protocol.StartPayload{SessionCode: code, IsForceStart: forceStart})
}

// PushTimer implements runtime.Broadcaster.
func (c *Channel) PushTimer(code string, t domain.LiveTimer) error {
	return c.send(protocol.EventBroadcastTimer, protocol.TimerPayload{
		SessionCode: code, QuestionID: t.QuestionID, Remaining: t.Remaining, Total: t.Total,
	})
}

// Navigate implements runtime.Broadcaster.
func (c *Channel) Navigate(code, questionID string) error {
	return c.send(protocol.EventForceNavigate, protocol.NavigatePayload{SessionCode: code, QuestionID: questionID})
}

// EndSession implements runtime.Broadcaster.
func (c *Channel) EndSession(code string) error {
	return c.send(protocol.EventManualEnd, protocol.EndPayload{SessionCode: code})
}

// ShowLeaderboard implements runtime.Revealer.
func (c *Channel) ShowLeaderboard(code, questionID string, durationSeconds int, _ domain.Leaderboard) error {
	return c.send(protocol.EventShowLeaderboard, protocol.LeaderboardShowPayload{
		SessionCode: code, QuestionID: questionID, DurationSeconds: durationSeconds,
	})
}

// HideLeaderboard implements runtime.Revealer.
func (c *Channel) HideLeaderboard(code string) error {
	return c.send(protocol.EventLeaderboardHide, protocol.EndPayload{SessionCode: code})
}
