package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/domain"
)

// room is a threadsafe in-memory member set. It never closes
// adapter-owned transports. Mutations are serialized on the room's own
// mutex, so distinct rooms proceed fully concurrently.
type room struct {
	id domain.RoomID

	mu      sync.RWMutex
	members map[SessionID]Member
}

func newRoom(id domain.RoomID) *room {
	return &room{id: id, members: make(map[SessionID]Member)}
}

func (r *room) add(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.SID()]; !ok && len(r.members) >= MaxRoomMembers {
		return ErrRoomFull
	}
	r.members[m.SID()] = m
	log.Info().Str("module", "relay").Str("room", string(r.id)).Str("sid", string(m.SID())).Msg("member added")
	return nil
}

// remove returns the remaining members so the caller can announce the
// departure, and whether the room is now empty.
func (r *room) remove(sid SessionID) (remaining []Member, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, sid)
	for _, m := range r.members {
		remaining = append(remaining, m)
	}
	log.Info().Str("module", "relay").Str("room", string(r.id)).Str("sid", string(sid)).Msg("member removed")
	return remaining, len(r.members) == 0
}

func (r *room) has(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sid]
	return ok
}

func (r *room) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// broadcast delivers to every member except the sender. Payloads from
// one sender arrive in send order because the sender's reads are
// sequential and delivery is synchronous under the room lock.
func (r *room) broadcast(from SessionID, p Payload) (sent, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid, m := range r.members {
		if sid == from {
			continue
		}
		if err := m.Deliver(p); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("room", string(r.id)).Str("dst", string(sid)).Msg("payload dropped")
			dropped++
			continue
		}
		sent++
	}
	return sent, dropped
}

func (r *room) others(sid SessionID) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for id, m := range r.members {
		if id != sid {
			out = append(out, m)
		}
	}
	return out
}
