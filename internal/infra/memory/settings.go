package memory

import (
	"context"
	"sync"

	"quiz-live-service/internal/domain"
)

// SettingsStore keeps leaderboard settings per session in memory. Mutual
// exclusion of the two reveal flags is enforced at write time.
type SettingsStore struct {
	mu       sync.RWMutex
	settings map[string]domain.LeaderboardSettings
	fallback domain.LeaderboardSettings
}

func NewSettingsStore(fallback domain.LeaderboardSettings) *SettingsStore {
	return &SettingsStore{
		settings: make(map[string]domain.LeaderboardSettings),
		fallback: fallback,
	}
}

func (s *SettingsStore) Get(_ context.Context, code string) (domain.LeaderboardSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if settings, ok := s.settings[code]; ok {
		return settings, nil
	}
	return s.fallback, nil
}

func (s *SettingsStore) SetShowAfterEachQuestion(_ context.Context, code string, enabled bool) (domain.LeaderboardSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.current(code)
	settings.SetShowAfterEachQuestion(enabled)
	s.settings[code] = settings
	return settings, nil
}

func (s *SettingsStore) SetShowAtEndOnly(_ context.Context, code string, enabled bool) (domain.LeaderboardSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.current(code)
	settings.SetShowAtEndOnly(enabled)
	s.settings[code] = settings
	return settings, nil
}

func (s *SettingsStore) current(code string) domain.LeaderboardSettings {
	if settings, ok := s.settings[code]; ok {
		return settings
	}
	return s.fallback
}
