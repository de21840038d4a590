package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/metrics"
)

// Registry maps room ids to live rooms. It is injected wherever room
// state is needed; there is no package-level state. Rooms are created
// implicitly on first join and discarded when their last member
// leaves - nothing is retained about an emptied room.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]*room
	byMember map[SessionID]domain.RoomID

	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:    make(map[domain.RoomID]*room),
		byMember: make(map[SessionID]domain.RoomID),
		metrics:  m,
	}
}

// Join adds m to the room, creating it if needed. A session already in
// another room leaves it first. The registry enforces the two-member
// cap but performs no admission check; callers verify the room token
// before invoking Join.
func (g *Registry) Join(m Member, roomID domain.RoomID) error {
	g.Leave(m.SID())

	// Lookup, add, and index update stay under one registry lock: a
	// concurrent Leave emptying the room may otherwise discard it
	// between the lookup and the add, stranding the joiner in an
	// orphaned room object.
	g.mu.Lock()
	rm, ok := g.rooms[roomID]
	if !ok {
		rm = newRoom(roomID)
		g.rooms[roomID] = rm
	}
	if err := rm.add(m); err != nil {
		if rm.count() == 0 {
			delete(g.rooms, roomID)
		}
		g.mu.Unlock()
		return err
	}
	g.byMember[m.SID()] = roomID
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RoomMembers.Inc()
		g.refreshRoomGauge()
	}
	return nil
}

// Forward delivers p to every other current member of roomID. It
// returns ErrNotJoined when the sender is not in the room.
func (g *Registry) Forward(from SessionID, roomID domain.RoomID, p Payload) (int, error) {
	g.mu.RLock()
	rm, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok || !rm.has(from) {
		return 0, ErrNotJoined
	}

	sent, dropped := rm.broadcast(from, p)
	if g.metrics != nil {
		g.metrics.SignalsForwarded.Add(float64(sent))
		if dropped > 0 {
			g.metrics.SignalsDropped.WithLabelValues("backpressure").Add(float64(dropped))
		}
	}
	return sent, nil
}

// Leave removes the session from whichever room it belongs to and
// returns the room it left plus the remaining members, so the adapter
// can announce the departure. An emptied room is discarded.
func (g *Registry) Leave(sid SessionID) (domain.RoomID, []Member, bool) {
	g.mu.Lock()
	roomID, ok := g.byMember[sid]
	if !ok {
		g.mu.Unlock()
		return "", nil, false
	}
	delete(g.byMember, sid)
	rm := g.rooms[roomID]
	g.mu.Unlock()

	if rm == nil {
		return "", nil, false
	}
	remaining, empty := rm.remove(sid)
	if empty {
		g.collectIfEmpty(roomID, rm)
		log.Info().Str("module", "relay").Str("room", string(roomID)).Msg("room discarded")
	}

	if g.metrics != nil {
		g.metrics.RoomMembers.Dec()
		g.refreshRoomGauge()
	}
	return roomID, remaining, true
}

// Peers lists the other members of the room sid is in.
func (g *Registry) Peers(sid SessionID) []Member {
	g.mu.RLock()
	roomID, ok := g.byMember[sid]
	rm := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok || rm == nil {
		return nil
	}
	return rm.others(sid)
}

// RoomOf reports which room a session is joined to.
func (g *Registry) RoomOf(sid SessionID) (domain.RoomID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roomID, ok := g.byMember[sid]
	return roomID, ok
}

// MemberCount reports current occupancy; zero for unknown rooms.
func (g *Registry) MemberCount(roomID domain.RoomID) int {
	g.mu.RLock()
	rm := g.rooms[roomID]
	g.mu.RUnlock()
	if rm == nil {
		return 0
	}
	return rm.count()
}

func (g *Registry) collectIfEmpty(roomID domain.RoomID, rm *room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.rooms[roomID]; ok && cur == rm && rm.count() == 0 {
		delete(g.rooms, roomID)
	}
}

func (g *Registry) refreshRoomGauge() {
	g.mu.RLock()
	n := len(g.rooms)
	g.mu.RUnlock()
	g.metrics.ActiveRooms.Set(float64(n))
}
