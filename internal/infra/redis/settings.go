package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quiz-live-service/internal/domain"
)

// SettingsStore persists the leaderboard reveal policy as a hash per session:
//
//	HSET session:{code}:leaderboard afterEach 0|1 atEndOnly 0|1 duration {secs}
//
// The two flags are mutually exclusive; both writers clear the opposite flag
// in the same pipeline so no reader ever observes both set.
type SettingsStore struct {
	client   *redis.Client
	fallback domain.LeaderboardSettings
}

func NewSettingsStore(client *redis.Client, fallback domain.LeaderboardSettings) *SettingsStore {
	return &SettingsStore{client: client, fallback: fallback}
}

func (s *SettingsStore) Get(ctx context.Context, code string) (domain.LeaderboardSettings, error) {
	fields, err := s.client.HGetAll(ctx, s.key(code)).Result()
	if err != nil {
		return domain.LeaderboardSettings{}, err
	}
	if len(fields) == 0 {
		return s.fallback, nil
	}
	settings := s.fallback
	settings.ShowAfterEachQuestion = fields["afterEach"] == "1"
	settings.ShowAtEndOnly = fields["atEndOnly"] == "1"
	if raw, ok := fields["duration"]; ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			settings.DisplayDurationSeconds = secs
		}
	}
	return settings, nil
}

func (s *SettingsStore) SetShowAfterEachQuestion(ctx context.Context, code string, enabled bool) (domain.LeaderboardSettings, error) {
	settings, err := s.Get(ctx, code)
	if err != nil {
		return domain.LeaderboardSettings{}, err
	}
	settings.SetShowAfterEachQuestion(enabled)
	return settings, s.write(ctx, code, settings)
}

func (s *SettingsStore) SetShowAtEndOnly(ctx context.Context, code string, enabled bool) (domain.LeaderboardSettings, error) {
	settings, err := s.Get(ctx, code)
	if err != nil {
		return domain.LeaderboardSettings{}, err
	}
	settings.SetShowAtEndOnly(enabled)
	return settings, s.write(ctx, code, settings)
}

func (s *SettingsStore) write(ctx context.Context, code string, settings domain.LeaderboardSettings) error {
	return s.client.HSet(ctx, s.key(code),
		"afterEach", boolField(settings.ShowAfterEachQuestion),
		"atEndOnly", boolField(settings.ShowAtEndOnly),
		"duration", settings.DisplayDurationSeconds,
	).Err()
}

func (s *SettingsStore) key(code string) string {
	return "session:" + code + ":leaderboard"
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
