package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-live-service/internal/domain"
)

// SessionQuery is the request/response API over the backing store. It is the
// only persistence surface the runtime knows about.
type SessionQuery interface {
	SessionByCode(ctx context.Context, code string) (domain.Session, error)
	QuestionsBySession(ctx context.Context, sessionID string) ([]domain.Question, error)
	ParticipantCount(ctx context.Context, sessionID string) (int, error)
}

// SessionKind selects the grace-period policy. Quizzes always use the short
// active window; polls and surveys split the window by session status because
// a scheduled-start broadcast needs propagation headroom. The two policies are
// kept distinct on purpose.
type SessionKind int

const (
	KindQuiz SessionKind = iota
	KindPollSurvey
)

// Entry says how the machine should enter the session after a load.
type Entry int

const (
	// EntryWait holds in Waiting with a local countdown.
	EntryWait Entry = iota
	// EntryStartNow treats the session as starting this instant.
	EntryStartNow
	// EntryResume joins an in-progress question with derived remaining time.
	EntryResume
	// EntryAwaitPush waits without a trusted local countdown; only the
	// authoritative start push may trigger Live.
	EntryAwaitPush
	// EntryEnded means the session is already over.
	EntryEnded
)

// LoaderConfig carries the timing policy knobs.
type LoaderConfig struct {
	WaitingHold    time.Duration // local countdown when no start time is known
	ActiveGrace    time.Duration
	ScheduledGrace time.Duration
}

// DefaultLoaderConfig mirrors the production policy: 300s hold, 5s active
// grace, 60s scheduled grace.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		WaitingHold:    300 * time.Second,
		ActiveGrace:    5 * time.Second,
		ScheduledGrace: 60 * time.Second,
	}
}

// LoadResult is the reconciled snapshot handed to the machine and countdown
// controller.
type LoadResult struct {
	Session          domain.Session
	Questions        []domain.Question
	ParticipantCount int
	Entry            Entry
	Wait             time.Duration    // meaningful for EntryWait
	InitialTimer     domain.LiveTimer // meaningful for EntryStartNow/EntryResume
}

// SnapshotLoader fetches session, question-set, and in-progress timer state
// and reconciles waiting vs already-started vs rejoin.
type SnapshotLoader struct {
	query SessionQuery
	kind  SessionKind
	cfg   LoaderConfig
	clock clockwork.Clock
}

func NewSnapshotLoader(query SessionQuery, kind SessionKind, cfg LoaderConfig, clock clockwork.Clock) *SnapshotLoader {
	return &SnapshotLoader{query: query, kind: kind, cfg: cfg, clock: clock}
}

// Load resolves a session code into a LoadResult. Store errors surface as
// recoverable failures; an active session joined past its grace window
// returns domain.ErrLateEntry for the poll/survey policy.
func (l *SnapshotLoader) Load(ctx context.Context, code string) (LoadResult, error) {
	session, err := l.query.SessionByCode(ctx, code)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load session %q: %w", code, err)
	}
	questions, err := l.query.QuestionsBySession(ctx, session.ID)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load questions for %q: %w", code, err)
	}
	count, err := l.query.ParticipantCount(ctx, session.ID)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load participant count for %q: %w", code, err)
	}

	result := LoadResult{Session: session, Questions: questions, ParticipantCount: count}

	if session.Status == domain.StatusEnded {
		result.Entry = EntryEnded
		return result, nil
	}

	// In-progress question wins over everything: derive what is left of the
	// running timer instead of resetting to the question's default.
	if session.CurrentQuestionID != "" && session.CurrentQuestionStartTime != nil && session.TimerDurationSeconds > 0 {
		elapsed := int(l.clock.Now().Sub(*session.CurrentQuestionStartTime).Seconds())
		remaining := session.TimerDurationSeconds - elapsed
		if remaining < 0 {
			remaining = 0
		}
		result.Entry = EntryResume
		result.InitialTimer = domain.LiveTimer{
			QuestionID: session.CurrentQuestionID,
			Remaining:  remaining,
			Total:      session.TimerDurationSeconds,
		}
		return result, nil
	}

	if session.StartedAt == nil {
		result.Entry = EntryWait
		result.Wait = l.cfg.WaitingHold
		return result, nil
	}

	now := l.clock.Now()
	lateness := now.Sub(*session.StartedAt)

	if lateness < 0 {
		// Start is still ahead of us.
		result.Entry = EntryWait
		result.Wait = -lateness
		return result, nil
	}

	if lateness <= l.grace(session.Status) {
		result.Entry = EntryStartNow
		result.InitialTimer = l.firstQuestionTimer(questions)
		return result, nil
	}

	// Past the grace window.
	switch {
	case l.kind == KindQuiz:
		// Already started; skip waiting and jump straight to live.
		result.Entry = EntryStartNow
		result.InitialTimer = l.firstQuestionTimer(questions)
		return result, nil
	case session.Status == domain.StatusActive:
		return LoadResult{}, domain.ErrLateEntry
	default:
		// Scheduled but overdue by local reckoning. The local clock is not
		// trusted against server time, so keep waiting for the start push.
		result.Entry = EntryAwaitPush
		return result, nil
	}
}

func (l *SnapshotLoader) grace(status domain.SessionStatus) time.Duration {
	if l.kind == KindPollSurvey && status == domain.StatusScheduled {
		return l.cfg.ScheduledGrace
	}
	return l.cfg.ActiveGrace
}

func (l *SnapshotLoader) firstQuestionTimer(questions []domain.Question) domain.LiveTimer {
	if len(questions) == 0 {
		return domain.LiveTimer{}
	}
	first := questions[0]
	return domain.LiveTimer{QuestionID: first.ID, Remaining: first.TimerSeconds, Total: first.TimerSeconds}
}
