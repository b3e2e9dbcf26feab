package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-live-service/internal/domain"
)

// Leaderboard stores scores in a sorted set per session:
//
//	ZINCRBY session:{code}:scores {points} {participantID}
//	HSET    session:{code}:names  {participantID} {displayName}
//
// Fetch reads the set highest-first; ties keep Redis lexical order, which is
// stable enough for display.
type Leaderboard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboard(client *redis.Client, ttl time.Duration) *Leaderboard {
	return &Leaderboard{client: client, ttl: ttl}
}

// AddScore credits points and refreshes the display name.
func (l *Leaderboard) AddScore(ctx context.Context, code, participantID, displayName string, points int) error {
	pipe := l.client.Pipeline()
	pipe.ZIncrBy(ctx, l.scoresKey(code), float64(points), participantID)
	pipe.HSet(ctx, l.namesKey(code), participantID, displayName)
	if l.ttl > 0 {
		pipe.Expire(ctx, l.scoresKey(code), l.ttl)
		pipe.Expire(ctx, l.namesKey(code), l.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Fetch returns the ordered scoreboard for a session.
func (l *Leaderboard) Fetch(ctx context.Context, code string) (domain.Leaderboard, error) {
	scores, err := l.client.ZRevRangeWithScores(ctx, l.scoresKey(code), 0, -1).Result()
	if err != nil {
		return domain.Leaderboard{}, err
	}
	names, err := l.client.HGetAll(ctx, l.namesKey(code)).Result()
	if err != nil {
		return domain.Leaderboard{}, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for _, z := range scores {
		id, _ := z.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: id,
			DisplayName:   names[id],
			Score:         int(z.Score),
		})
	}
	return domain.Leaderboard{
		SessionCode: code,
		Entries:     entries,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (l *Leaderboard) scoresKey(code string) string {
	return "session:" + code + ":scores"
}

func (l *Leaderboard) namesKey(code string) string {
	return "session:" + code + ":names"
}
