package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Liveness marks sessions with live connections so other instances and
// operators can see which codes are hot. Best-effort only.
type Liveness struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLiveness(client *redis.Client, ttl time.Duration) *Liveness {
	return &Liveness{client: client, ttl: ttl}
}

func (l *Liveness) MarkLive(ctx context.Context, code string) {
	if err := l.client.Set(ctx, l.key(code), "1", l.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("session_code", code).Msg("liveness mark failed")
	}
}

func (l *Liveness) ClearLive(ctx context.Context, code string) {
	if err := l.client.Del(ctx, l.key(code)).Err(); err != nil {
		log.Debug().Err(err).Str("session_code", code).Msg("liveness clear failed")
	}
}

func (l *Liveness) key(code string) string {
	return "session:live:" + code
}
