package signal

import "encoding/json"

// Wire frame types, client to server and back.
const (
	TypeJoinRoom   = "join-room"
	TypeSignal     = "signal"
	TypeLeave      = "leave"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeRoomJoined = "room-joined"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeError      = "error"
)

// Error codes carried on TypeError frames.
const (
	CodeBadPayload   = "bad_payload"
	CodeUnauthorized = "unauthorized"
	CodeRoomFull     = "room_full"
	CodeNotJoined    = "not_joined"
	CodeRateLimited  = "rate_limited"
)

// Envelope is the single frame shape on the signaling socket. Type
// selects the variant; fields that do not apply stay empty. Payload is
// an opaque negotiation blob, relayed without inspection.
type Envelope struct {
	Type    string          `json:"type"`
	Token   string          `json:"token,omitempty"`
	Room    string          `json:"room,omitempty"`
	Peers   int             `json:"peers,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}
