package runtime

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-live-service/internal/domain"
)

// LeaderboardSource fetches the ranking snapshot shown between questions.
type LeaderboardSource interface {
	Fetch(ctx context.Context, sessionCode string) (domain.Leaderboard, error)
}

// Revealer pushes the timed leaderboard overlay to all participants.
type Revealer interface {
	ShowLeaderboard(code, questionID string, durationSeconds int, lb domain.Leaderboard) error
	HideLeaderboard(code string) error
}

// Engine watches machine snapshots for timer expiry and advances the session:
// optional leaderboard reveal, then next question or session end. It upholds
// at most one advancement per question per session instance, no matter how
// often the expiry condition is observed.
type Engine struct {
	machine     *Machine
	leaderboard LeaderboardSource
	revealer    Revealer
	clock       clockwork.Clock

	mu       sync.Mutex
	ledger   map[string]struct{}
	inFlight bool

	warnings chan string
}

// NewEngine builds an advancement engine bound to one machine. The engine is
// constructed only in the process that owns pacing; followers never advance.
func NewEngine(machine *Machine, leaderboard LeaderboardSource, revealer Revealer, clock clockwork.Clock) *Engine {
	return &Engine{
		machine:     machine,
		leaderboard: leaderboard,
		revealer:    revealer,
		clock:       clock,
		ledger:      make(map[string]struct{}),
		warnings:    make(chan string, 8),
	}
}

// Warnings surfaces transient advancement failures. The session stays live;
// these are user-visible notifications only.
func (e *Engine) Warnings() <-chan string {
	return e.warnings
}

// Run subscribes to the machine and processes observations until ctx is done
// or the machine's subscription closes.
func (e *Engine) Run(ctx context.Context) {
	snapshots, cancel := e.machine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			e.Observe(ctx, snap)
		}
	}
}

// Observe inspects one snapshot. If the current question's timer has expired
// and neither the ledger nor the in-flight guard blocks it, the advancement
// body is scheduled on its own goroutine, breaking synchronous re-entrancy.
func (e *Engine) Observe(ctx context.Context, snap Snapshot) {
	if snap.Phase != PhaseLive || !snap.Timer.Expired() {
		return
	}
	questionID := snap.Timer.QuestionID
	if questionID == "" || questionID != snap.Question.ID {
		return
	}

	e.mu.Lock()
	if _, handled := e.ledger[questionID]; handled {
		e.mu.Unlock()
		return
	}
	if e.inFlight {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.ledger[questionID] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.inFlight = false
			e.mu.Unlock()
		}()
		e.advance(ctx, snap)
	}()
}

// advance runs the post-expiry sequence. Every failure degrades to "skip this
// step, continue session"; nothing here may take the machine out of Live
// except the intended end-of-session transition.
func (e *Engine) advance(ctx context.Context, snap Snapshot) {
	if snap.Settings.ShowAfterEachQuestion {
		e.revealLeaderboard(ctx, snap)
	}

	if snap.Question.Number >= snap.TotalQuestions {
		if e.machine.End() {
			log.Info().Str("session_code", snap.Code).Msg("last question expired, session ended")
		}
		return
	}

	next := QuestionRef{Number: snap.Question.Number + 1}
	if err := e.machine.Navigate(next); err != nil {
		log.Warn().Err(err).
			Str("session_code", snap.Code).
			Int("question_number", next.Number).
			Msg("auto-advance navigation failed")
		e.warn("could not advance to the next question")
	}
}

func (e *Engine) revealLeaderboard(ctx context.Context, snap Snapshot) {
	lb, err := e.leaderboard.Fetch(ctx, snap.Code)
	if err != nil {
		// Reveal is best-effort; a fetch failure must not stall the quiz.
		log.Warn().Err(err).Str("session_code", snap.Code).Msg("leaderboard fetch failed, skipping reveal")
		e.warn("leaderboard unavailable")
		return
	}

	duration := snap.Settings.DisplayDuration()
	durationSecs := int(duration.Seconds())

	e.machine.SetLeaderboardVisible(true)
	if e.revealer != nil {
		if err := e.revealer.ShowLeaderboard(snap.Code, snap.Question.ID, durationSecs, lb); err != nil {
			log.Warn().Err(err).Str("session_code", snap.Code).Msg("leaderboard broadcast failed")
		}
	}

	select {
	case <-e.clock.After(duration):
	case <-ctx.Done():
	}

	e.machine.SetLeaderboardVisible(false)
	if e.revealer != nil {
		if err := e.revealer.HideLeaderboard(snap.Code); err != nil {
			log.Debug().Err(err).Str("session_code", snap.Code).Msg("leaderboard hide failed")
		}
	}
}

func (e *Engine) warn(msg string) {
	select {
	case e.warnings <- msg:
	default:
	}
}
