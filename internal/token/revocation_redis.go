package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medibridge/teleconsult/internal/domain"
)

// RedisRevocationList shares revocation marks across verifier
// instances. Keys expire after MaxTTL, the longest any affected token
// can live.
type RedisRevocationList struct {
	client *redis.Client
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

func revocationKey(room domain.RoomID) string {
	return "teleconsult:revoked:" + string(room)
}

func (l *RedisRevocationList) Revoke(ctx context.Context, room domain.RoomID, before time.Time) error {
	val := strconv.FormatInt(before.Unix(), 10)
	if err := l.client.Set(ctx, revocationKey(room), val, MaxTTL).Err(); err != nil {
		return fmt.Errorf("revoke %s: %w", room, err)
	}
	return nil
}

func (l *RedisRevocationList) RevokedSince(ctx context.Context, room domain.RoomID) (time.Time, bool, error) {
	val, err := l.client.Get(ctx, revocationKey(room)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("revocation lookup %s: %w", room, err)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("revocation entry %s malformed: %w", room, err)
	}
	return time.Unix(unix, 0), true, nil
}
