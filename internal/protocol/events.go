package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names one message on the real-time channel.
type EventType string

// Client → server commands.
const (
	EventJoinSession         EventType = "JoinSession"
	EventJoinHostSession     EventType = "JoinHostSession"
	EventCheckHostPresence   EventType = "CheckHostPresence"
	EventForceNavigate       EventType = "ForceNavigate"
	EventBroadcastTimer      EventType = "BroadcastTimer"
	EventNotifyQuizStart     EventType = "NotifyQuizStart"
	EventManualEnd           EventType = "ManualEnd"
	EventSetShowAfterEach    EventType = "SetShowLeaderboardAfterQuestion"
	EventSetShowAtEndOnly    EventType = "SetShowLeaderboardAtEndOnly"
	EventShowLeaderboard     EventType = "ShowLeaderboardAfterQuestion"
	EventReportProgress      EventType = "ReportSubmissionProgress"
)

// Server → client broadcasts.
const (
	EventQuizStarted          EventType = "QuizStarted"
	EventSessionStateSync     EventType = "SessionStateSync"
	EventLiveTimerUpdate      EventType = "LiveTimerUpdate"
	EventSubmissionProgress   EventType = "SubmissionProgressUpdate"
	EventForceNavigateTo      EventType = "ForceNavigateToQuestion"
	EventParticipantCount     EventType = "ParticipantCountUpdated"
	EventQuizEnded            EventType = "QuizEndedConfirmation"
	EventHostPresence         EventType = "HostPresenceResult"
	EventHostDeparted         EventType = "HostDeparted"
	EventLeaderboardReveal    EventType = "LeaderboardReveal"
	EventLeaderboardHide      EventType = "LeaderboardHide"
	EventError                EventType = "Error"
)

// Envelope is the single frame shape carried over the websocket.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload subscribes a connection to a session's broadcasts.
type JoinPayload struct {
	SessionCode   string `json:"sessionCode"`
	ParticipantID string `json:"participantId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
}

// NavigatePayload jumps all participants to a question.
type NavigatePayload struct {
	SessionCode    string `json:"sessionCode"`
	QuestionID     string `json:"questionId"`
	QuestionNumber int    `json:"questionNumber,omitempty"`
}

// TimerPayload pushes an authoritative timer snapshot.
type TimerPayload struct {
	SessionCode string `json:"sessionCode"`
	QuestionID  string `json:"questionId"`
	Remaining   int    `json:"remainingSeconds"`
	Total       int    `json:"totalSeconds"`
}

// StartPayload transitions Waiting→Live for everyone in the session.
type StartPayload struct {
	SessionCode  string `json:"sessionCode"`
	IsForceStart bool   `json:"isForceStart"`
}

// EndPayload ends the session now.
type EndPayload struct {
	SessionCode string `json:"sessionCode"`
}

// LeaderboardTogglePayload persists one side of the mutually-exclusive policy.
type LeaderboardTogglePayload struct {
	SessionCode string `json:"sessionCode"`
	Enabled     bool   `json:"enabled"`
}

// LeaderboardShowPayload triggers a timed leaderboard overlay.
type LeaderboardShowPayload struct {
	SessionCode     string `json:"sessionCode"`
	QuestionID      string `json:"questionId"`
	DurationSeconds int    `json:"durationSeconds"`
}

// ProgressPayload feeds the submission progress bar.
type ProgressPayload struct {
	SessionCode string `json:"sessionCode"`
	QuestionID  string `json:"questionId"`
	Submitted   int    `json:"submittedCount"`
	Total       int    `json:"totalParticipants"`
	Percentage  int    `json:"percentage"`
}

// StateSyncPayload is the late-join / reconnect catch-up snapshot.
type StateSyncPayload struct {
	SessionCode           string `json:"sessionCode"`
	QuestionID            string `json:"questionId"`
	QuestionNumber        int    `json:"questionNumber"`
	Remaining             int    `json:"remainingSeconds"`
	Total                 int    `json:"totalSeconds"`
	ShowAfterEachQuestion bool   `json:"showLeaderboardAfterQuestion"`
	ShowAtEndOnly         bool   `json:"showLeaderboardAtEndOnly"`
	HostPresent           bool   `json:"hostPresent"`
	Ended                 bool   `json:"ended"`
}

// HostPresencePayload answers CheckHostPresence and is broadcast unsolicited
// when a session gains its first host or loses its last one.
type HostPresencePayload struct {
	SessionCode string `json:"sessionCode"`
	HostPresent bool   `json:"hostPresent"`
}

// HostDepartedPayload tells the remaining hosts of a session that a host
// connection dropped; each re-runs the presence check to settle pacing.
type HostDepartedPayload struct {
	SessionCode string `json:"sessionCode"`
}

// CountPayload carries roster size updates.
type CountPayload struct {
	SessionCode string `json:"sessionCode"`
	Count       int    `json:"count"`
}

// RevealPayload carries the leaderboard overlay with its display window.
type RevealPayload struct {
	SessionCode     string             `json:"sessionCode"`
	QuestionID      string             `json:"questionId"`
	DurationSeconds int                `json:"durationSeconds"`
	Entries         []RevealEntry      `json:"entries"`
	RevealedAt      time.Time          `json:"revealedAt"`
}

// RevealEntry is one row of a revealed leaderboard.
type RevealEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
}

// ErrorPayload is a transient, user-visible failure notification.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode wraps a payload into an envelope frame.
func Encode(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(t EventType, payload any) Envelope {
	env, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals an envelope payload into dst after normalizing key casing.
func Decode(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", env.Type)
	}
	raw, err := Normalize(env.Payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}
