package token

import (
	"context"
	"sync"
	"time"

	"github.com/medibridge/teleconsult/internal/domain"
)

// RevocationList closes the stateless-token gap: a room can be marked
// revoked-before a timestamp, and verification rejects any token issued
// at or before that mark. Entries only need to outlive MaxTTL.
type RevocationList interface {
	Revoke(ctx context.Context, room domain.RoomID, before time.Time) error
	RevokedSince(ctx context.Context, room domain.RoomID) (time.Time, bool, error)
}

// MemoryRevocationList is the single-node implementation. Deployments
// with more than one verifier share the Redis-backed list instead.
type MemoryRevocationList struct {
	mu      sync.RWMutex
	revoked map[domain.RoomID]time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{revoked: make(map[domain.RoomID]time.Time)}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, room domain.RoomID, before time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.revoked[room]; !ok || before.After(cur) {
		l.revoked[room] = before
	}
	return nil
}

func (l *MemoryRevocationList) RevokedSince(_ context.Context, room domain.RoomID) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	before, ok := l.revoked[room]
	return before, ok, nil
}

// Sweep drops entries older than MaxTTL; no token they could affect is
// still verifiable.
func (l *MemoryRevocationList) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for room, before := range l.revoked {
		if now.Sub(before) > MaxTTL {
			delete(l.revoked, room)
		}
	}
}
