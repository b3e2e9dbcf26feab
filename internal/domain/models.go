package domain

import "time"

// SessionStatus is the lifecycle state of a session as recorded in the store.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusActive    SessionStatus = "active"
	StatusEnded     SessionStatus = "ended"
)

// Session is one live instance of a quiz/poll/survey, identified by a shareable code.
type Session struct {
	ID             string        `json:"sessionId"`
	Code           string        `json:"sessionCode"`
	QuizID         string        `json:"quizId"`
	Status         SessionStatus `json:"status"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`
	TotalQuestions int           `json:"totalQuestions"`

	// Persisted leaderboard policy, applied when the machine is built.
	ShowLeaderboardAfterQuestion bool `json:"showLeaderboardAfterQuestion"`
	ShowLeaderboardAtEndOnly     bool `json:"showLeaderboardAtEndOnly"`

	// In-progress question fields; set only when a question timer was already
	// running when the snapshot was taken.
	CurrentQuestionID        string     `json:"currentQuestionId,omitempty"`
	CurrentQuestionStartTime *time.Time `json:"currentQuestionStartTime,omitempty"`
	TimerDurationSeconds     int        `json:"timerDurationSeconds,omitempty"`
}

// Question is one ordered entry of a session's question set. Immutable once loaded.
type Question struct {
	ID           string `json:"questionId"`
	Number       int    `json:"questionNumber"` // 1-based, dense, matches array position
	Text         string `json:"questionText"`
	TimerSeconds int    `json:"timerSeconds"`
}

// LiveTimer is the authoritative countdown snapshot for the current question.
type LiveTimer struct {
	QuestionID string `json:"questionId"`
	Remaining  int    `json:"remainingSeconds"`
	Total      int    `json:"totalSeconds"`
}

// Same reports whether applying other would be a no-op. Idempotent application
// is what keeps unordered corrective pushes from fighting local ticks.
func (t LiveTimer) Same(other LiveTimer) bool {
	return t.QuestionID == other.QuestionID && t.Remaining == other.Remaining && t.Total == other.Total
}

// Expired reports whether the timer ran out on a real countdown.
func (t LiveTimer) Expired() bool {
	return t.Remaining <= 0 && t.Total > 0
}

// ParticipantProgress tracks submissions for the current question only.
type ParticipantProgress struct {
	Total      int `json:"totalParticipants"`
	Submitted  int `json:"submittedCount"`
	Percentage int `json:"percentage"`
}

// Reset zeroes the progress; called on every navigation.
func (p *ParticipantProgress) Reset() {
	p.Total = 0
	p.Submitted = 0
	p.Percentage = 0
}

// PacingMode says who drives question advancement.
type PacingMode string

const (
	// PacingAuto means no host control channel is attached; default pacing applies.
	PacingAuto PacingMode = "auto"
	// PacingManual means an attached host owns advancement decisions.
	PacingManual PacingMode = "manual"
)

const (
	MinLeaderboardDisplaySeconds = 3
	MaxLeaderboardDisplaySeconds = 30
)

// LeaderboardSettings controls whether/when rankings are revealed mid-session.
// The two booleans are mutually exclusive; use the setters.
type LeaderboardSettings struct {
	ShowAfterEachQuestion  bool `json:"showLeaderboardAfterQuestion"`
	ShowAtEndOnly          bool `json:"showLeaderboardAtEndOnly"`
	DisplayDurationSeconds int  `json:"displayDurationSeconds"`
}

// SetShowAfterEachQuestion toggles the per-question reveal, clearing the
// end-only flag when enabled.
func (s *LeaderboardSettings) SetShowAfterEachQuestion(enabled bool) {
	s.ShowAfterEachQuestion = enabled
	if enabled {
		s.ShowAtEndOnly = false
	}
}

// SetShowAtEndOnly toggles the end-only reveal, clearing the per-question
// flag when enabled.
func (s *LeaderboardSettings) SetShowAtEndOnly(enabled bool) {
	s.ShowAtEndOnly = enabled
	if enabled {
		s.ShowAfterEachQuestion = false
	}
}

// DisplayDuration returns the reveal hold clamped to the allowed range.
func (s LeaderboardSettings) DisplayDuration() time.Duration {
	secs := s.DisplayDurationSeconds
	if secs < MinLeaderboardDisplaySeconds {
		secs = MinLeaderboardDisplaySeconds
	}
	if secs > MaxLeaderboardDisplaySeconds {
		secs = MaxLeaderboardDisplaySeconds
	}
	return time.Duration(secs) * time.Second
}

// LeaderboardEntry is a snapshot-friendly view of a participant's ranking.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a session.
type Leaderboard struct {
	SessionCode string             `json:"sessionCode"`
	Entries     []LeaderboardEntry `json:"entries"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// ProgressPercentage computes the rounded submission percentage.
func ProgressPercentage(submitted, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(submitted)/float64(total)*100 + 0.5)
}
