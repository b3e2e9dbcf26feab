package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ResumeState is the per-device state that survives a restart. It is only a
// hint for resuming a dropped connection to the same session; server-confirmed
// state always wins.
type ResumeState struct {
	SessionID     string `json:"sessionId"`
	SessionCode   string `json:"sessionCode"`
	ParticipantID string `json:"participantId"`
	QuizTitle     string `json:"quizTitle"`
}

// ResumeStore persists ResumeState as a JSON file under a per-device directory.
type ResumeStore struct {
	path string
}

func NewResumeStore(dir string) *ResumeStore {
	return &ResumeStore{path: filepath.Join(dir, "active-session.json")}
}

// Load returns the stored state, or ok=false when none exists.
func (s *ResumeStore) Load() (ResumeState, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ResumeState{}, false, nil
	}
	if err != nil {
		return ResumeState{}, false, fmt.Errorf("read resume state: %w", err)
	}
	var state ResumeState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt leftover state is discarded rather than surfaced.
		return ResumeState{}, false, nil
	}
	return state, state.SessionCode != "", nil
}

// Save writes the state for the active session.
func (s *ResumeStore) Save(state ResumeState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("resume dir: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write resume state: %w", err)
	}
	return nil
}

// Clear removes the stored state once the session ends.
func (s *ResumeStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
