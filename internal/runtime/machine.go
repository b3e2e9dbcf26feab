package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
)

// Phase is the lifecycle position of the session state machine.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseWaiting
	PhaseLive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseLive:
		return "live"
	case PhaseEnded:
		return "ended"
	default:
		return "uninitialized"
	}
}

// StartCause records what triggered the Waiting→Live transition.
type StartCause int

const (
	// StartCauseCountdown means the local waiting countdown reached zero.
	StartCauseCountdown StartCause = iota
	// StartCausePush means another party's start notification arrived.
	StartCausePush
	// StartCauseImmediate means the snapshot loader found the session already started.
	StartCauseImmediate
)

// QuestionRef identifies a navigation target. Matching is by ID first, then by
// 1-based number as a fallback.
type QuestionRef struct {
	ID     string
	Number int
}

// Broadcaster is how the machine pushes authoritative commands to followers.
// Only the pacing authority ever emits through it.
type Broadcaster interface {
	NotifyStart(code string, forceStart bool) error
	PushTimer(code string, t domain.LiveTimer) error
	Navigate(code, questionID string) error
	EndSession(code string) error
}

// Snapshot is the read-only view handed to observers. Presentation layers and
// the advancement engine consume these; nothing outside this package mutates
// machine state directly.
type Snapshot struct {
	Code               string
	Phase              Phase
	Pacing             domain.PacingMode
	Question           domain.Question
	Timer              domain.LiveTimer
	Progress           domain.ParticipantProgress
	Settings           domain.LeaderboardSettings
	LeaderboardVisible bool
	TotalQuestions     int
}

// Machine owns the authoritative in-memory session state. All mutation goes
// through named transitions; observers receive Snapshot values on a channel.
type Machine struct {
	code  string
	clock clockwork.Clock

	mu        sync.Mutex
	questions []domain.Question
	byID      map[string]int
	phase     Phase
	pacing    domain.PacingMode
	authority bool
	question  domain.Question
	timer     domain.LiveTimer
	progress  domain.ParticipantProgress
	settings  domain.LeaderboardSettings
	lbVisible bool
	ending    bool

	broadcaster Broadcaster
	subscribers map[chan Snapshot]struct{}

	tickCancel context.CancelFunc
	tickDone   chan struct{}
}

// NewMachine builds a machine for one session. The question set is immutable
// once loaded.
func NewMachine(code string, questions []domain.Question, settings domain.LeaderboardSettings, clock clockwork.Clock) *Machine {
	byID := make(map[string]int, len(questions))
	for i, q := range questions {
		byID[q.ID] = i
	}
	return &Machine{
		code:        code,
		clock:       clock,
		questions:   questions,
		byID:        byID,
		phase:       PhaseUninitialized,
		pacing:      domain.PacingAuto,
		settings:    settings,
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// SetBroadcaster wires the outbound command path. Must be called before GoLive
// on authority machines.
func (m *Machine) SetBroadcaster(b Broadcaster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcaster = b
}

// SetAuthority marks this process as the timer owner for the session. Losing
// authority stops the local ticker; followers only render pushed values.
func (m *Machine) SetAuthority(authority bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authority == authority {
		return
	}
	m.authority = authority
	if authority {
		m.pacing = domain.PacingManual
		if m.phase == PhaseLive {
			m.startTickerLocked()
		}
	} else {
		m.pacing = domain.PacingAuto
		m.stopTickerLocked()
	}
	m.broadcastLocked()
}

// SetPacing flips the pacing sub-dimension while remaining Live.
func (m *Machine) SetPacing(mode domain.PacingMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pacing == mode {
		return
	}
	m.pacing = mode
	m.broadcastLocked()
}

// BeginWaiting moves Uninitialized→Waiting after a snapshot load whose start
// time is still in the future.
func (m *Machine) BeginWaiting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseUninitialized {
		return
	}
	m.phase = PhaseWaiting
	m.broadcastLocked()
}

// GoLive performs the one-way Waiting→Live transition. Repeated start signals
// are no-ops. The initial timer comes from either session-supplied in-progress
// values or the first question's default.
func (m *Machine) GoLive(initial domain.LiveTimer, cause StartCause) {
	m.mu.Lock()
	if m.phase == PhaseLive || m.phase == PhaseEnded {
		m.mu.Unlock()
		return
	}
	m.phase = PhaseLive
	m.progress.Reset()
	m.timer = initial
	if idx, ok := m.byID[initial.QuestionID]; ok {
		m.question = m.questions[idx]
	} else if len(m.questions) > 0 {
		m.question = m.questions[0]
	}
	emit := m.authority && cause == StartCauseCountdown && m.broadcaster != nil
	if m.authority {
		m.startTickerLocked()
	}
	m.broadcastLocked()
	b := m.broadcaster
	m.mu.Unlock()

	if emit {
		if err := b.NotifyStart(m.code, true); err != nil {
			log.Warn().Err(err).Str("session_code", m.code).Msg("start broadcast failed")
		}
	}
}

// Navigate jumps to a question as the pacing authority: progress resets, the
// timer resets to the target's default, and both the navigation and the fresh
// timer are pushed so followers resynchronize without waiting for a tick.
func (m *Machine) Navigate(ref QuestionRef) error {
	return m.navigate(ref, true)
}

// ApplyNavigation applies a navigation pushed by the authority. Never re-emits.
func (m *Machine) ApplyNavigation(questionID string) error {
	return m.navigate(QuestionRef{ID: questionID}, false)
}

func (m *Machine) navigate(ref QuestionRef, emit bool) error {
	m.mu.Lock()
	if m.phase == PhaseEnded {
		m.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if m.phase != PhaseLive {
		m.mu.Unlock()
		return domain.ErrNotLive
	}
	target, ok := m.findLocked(ref)
	if !ok {
		m.mu.Unlock()
		return domain.ErrQuestionNotFound
	}
	m.question = target
	m.progress.Reset()
	m.timer = domain.LiveTimer{QuestionID: target.ID, Remaining: target.TimerSeconds, Total: target.TimerSeconds}
	timer := m.timer
	if m.authority {
		m.startTickerLocked()
	}
	emit = emit && m.authority && m.broadcaster != nil
	m.broadcastLocked()
	b := m.broadcaster
	m.mu.Unlock()

	if emit {
		if err := b.Navigate(m.code, target.ID); err != nil {
			log.Warn().Err(err).Str("session_code", m.code).Str("question_id", target.ID).Msg("navigate broadcast failed")
		}
		if err := b.PushTimer(m.code, timer); err != nil {
			log.Warn().Err(err).Str("session_code", m.code).Msg("timer broadcast failed")
		}
	}
	return nil
}

func (m *Machine) findLocked(ref QuestionRef) (domain.Question, bool) {
	if ref.ID != "" {
		if idx, ok := m.byID[ref.ID]; ok {
			return m.questions[idx], true
		}
	}
	if ref.Number >= 1 && ref.Number <= len(m.questions) {
		return m.questions[ref.Number-1], true
	}
	return domain.Question{}, false
}

// ApplyTimer applies a pushed timer snapshot. Re-applying an identical triple
// is a no-op; that idempotence is what stands in for cross-process ordering.
func (m *Machine) ApplyTimer(t domain.LiveTimer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseLive {
		return false
	}
	if m.timer.Same(t) {
		return false
	}
	m.timer = t
	if idx, ok := m.byID[t.QuestionID]; ok {
		// A timer push can outrun its navigation push; switching questions
		// here must not carry the previous question's progress along.
		if m.question.ID != t.QuestionID {
			m.progress.Reset()
		}
		m.question = m.questions[idx]
	}
	m.broadcastLocked()
	return true
}

// ApplyProgress applies a submission-progress event. Events for any question
// other than the current one are stale leftovers from before a navigation and
// are discarded.
func (m *Machine) ApplyProgress(questionID string, submitted, total int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseLive || questionID != m.question.ID {
		return false
	}
	m.progress = domain.ParticipantProgress{
		Total:      total,
		Submitted:  submitted,
		Percentage: domain.ProgressPercentage(submitted, total),
	}
	m.broadcastLocked()
	return true
}

// ApplySettings replaces the leaderboard policy (already mutually exclusive at
// the source).
func (m *Machine) ApplySettings(s domain.LeaderboardSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	m.broadcastLocked()
}

// SetLeaderboardVisible toggles the reveal overlay flag.
func (m *Machine) SetLeaderboardVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lbVisible == visible {
		return
	}
	m.lbVisible = visible
	m.broadcastLocked()
}

// End moves Live→Ended. Idempotent: re-invocation while ending or ended is a
// silent no-op, so concurrent triggers cannot double-fire the end broadcast.
// Returns true only for the invocation that performed the transition.
func (m *Machine) End() bool {
	m.mu.Lock()
	if m.phase == PhaseEnded || m.ending {
		m.mu.Unlock()
		return false
	}
	m.ending = true
	m.phase = PhaseEnded
	m.lbVisible = false
	m.stopTickerLocked()
	emit := m.authority && m.broadcaster != nil
	m.broadcastLocked()
	b := m.broadcaster
	m.mu.Unlock()

	if emit {
		if err := b.EndSession(m.code); err != nil {
			log.Warn().Err(err).Str("session_code", m.code).Msg("end broadcast failed")
		}
	}
	return true
}

// Subscribe registers an observer. The caller must invoke cancel to avoid leaks.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	initial := m.snapshotLocked()
	m.mu.Unlock()

	ch <- initial

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns the current read-only view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close releases the ticker; used on component teardown.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTickerLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Code:               m.code,
		Phase:              m.phase,
		Pacing:             m.pacing,
		Question:           m.question,
		Timer:              m.timer,
		Progress:           m.progress,
		Settings:           m.settings,
		LeaderboardVisible: m.lbVisible,
		TotalQuestions:     len(m.questions),
	}
}

func (m *Machine) broadcastLocked() {
	snap := m.snapshotLocked()
	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow observer never blocks a transition.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// startTickerLocked replaces any running question ticker with a fresh one.
// Replacement before start is the cancel-on-transition discipline that keeps a
// single decrementing timer alive per session.
func (m *Machine) startTickerLocked() {
	m.stopTickerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.tickCancel = cancel
	m.tickDone = done

	ticker := m.clock.NewTicker(time.Second)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.tick()
			}
		}
	}()
}

func (m *Machine) stopTickerLocked() {
	if m.tickCancel != nil {
		m.tickCancel()
		m.tickCancel = nil
		m.tickDone = nil
	}
}

// tick decrements the authoritative timer by one second and pushes the new
// value to followers. Observations at or below zero keep flowing so the
// advancement engine sees the expiry; it dedupes on its own ledger.
func (m *Machine) tick() {
	m.mu.Lock()
	if m.phase != PhaseLive || !m.authority {
		m.mu.Unlock()
		return
	}
	if m.timer.Remaining > 0 {
		m.timer.Remaining--
	}
	timer := m.timer
	b := m.broadcaster
	m.broadcastLocked()
	m.mu.Unlock()

	if b != nil {
		if err := b.PushTimer(m.code, timer); err != nil {
			log.Debug().Err(err).Str("session_code", m.code).Msg("tick push failed")
		}
	}
}
