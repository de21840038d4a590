// Package relay is the rendezvous core: a registry of ephemeral rooms
// that forwards opaque signaling payloads between the members of a
// room. It carries no offer/answer/candidate semantics and performs no
// admission checks; the signaling adapter verifies the room token
// before calling Join.
package relay

import (
	"errors"

	"github.com/medibridge/teleconsult/internal/domain"
)

// Payload is an opaque negotiation payload. The relay never inspects
// or mutates it.
type Payload []byte

type SessionID string

// Member binds a session identity to its transport endpoint. Deliver
// must not block; a member that cannot keep up returns an error and
// the payload is dropped for it.
type Member interface {
	SID() SessionID
	UserID() domain.UserID
	Deliver(Payload) error
}

// MaxRoomMembers caps a consultation room at its two participants. A
// third join is rejected rather than left undefined.
const MaxRoomMembers = 2

var (
	ErrRoomFull  = errors.New("room already has both participants")
	ErrNotJoined = errors.New("session is not a member of the room")
)
