package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned when a mutation reaches an already-ended session.
	ErrSessionEnded = errors.New("session already ended")
	// ErrQuestionNotFound indicates a navigation target is not in the loaded set.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNotConnected is returned for commands issued while the channel is down.
	ErrNotConnected = errors.New("channel not connected")
	// ErrLateEntry is returned when an active session is joined past its grace window.
	ErrLateEntry = errors.New("late entry not allowed")
	// ErrNotLive is returned when a live-only transition is attempted elsewhere.
	ErrNotLive = errors.New("session is not live")
)
