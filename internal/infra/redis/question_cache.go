package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/runtime"
)

// CachedSessionQuery caches question sets in Redis (JSON blob per session)
// and falls through to the underlying query on a miss. Question sets are
// immutable once a session goes live, so the cache never needs invalidation,
// only expiry. Session and participant lookups always hit the source.
type CachedSessionQuery struct {
	client *redis.Client
	source runtime.SessionQuery
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewCachedSessionQuery(client *redis.Client, source runtime.SessionQuery, ttl time.Duration) *CachedSessionQuery {
	return &CachedSessionQuery{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CachedSessionQuery) SessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return c.source.SessionByCode(ctx, code)
}

func (c *CachedSessionQuery) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	return c.source.ParticipantCount(ctx, sessionID)
}

func (c *CachedSessionQuery) QuestionsBySession(ctx context.Context, sessionID string) ([]domain.Question, error) {
	key := c.key(sessionID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var questions []domain.Question
		if err := json.Unmarshal(raw, &questions); err == nil {
			return questions, nil
		}
	}

	result, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var questions []domain.Question
			if err := json.Unmarshal(raw, &questions); err == nil {
				return questions, nil
			}
		}

		questions, err := c.source.QuestionsBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(questions); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *CachedSessionQuery) key(sessionID string) string {
	return "session:" + sessionID + ":questions"
}

func (c *CachedSessionQuery) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
