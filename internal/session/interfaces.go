package session

import (
	"context"

	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/quality"
)

// Track is one local capture track. Stop releases the device; toggling
// only flips whether frames are sent.
type Track interface {
	Kind() string // "audio" or "video"
	SetEnabled(bool)
	Enabled() bool
	Stop() error
}

// MediaConstraints keeps local capture bandwidth-conscious.
type MediaConstraints struct {
	Width            int
	Height           int
	FrameRate        int
	MonoAudio        bool
	EchoCancellation bool
}

// DefaultConstraints matches the low-bandwidth capture profile: capped
// resolution and frame rate, mono audio with echo cancellation.
func DefaultConstraints() MediaConstraints {
	return MediaConstraints{
		Width:            320,
		Height:           240,
		FrameRate:        15,
		MonoAudio:        true,
		EchoCancellation: true,
	}
}

// MediaSource acquires local audio/video capture.
type MediaSource interface {
	Acquire(ctx context.Context, c MediaConstraints) ([]Track, error)
}

// PeerEvents are the sinks a Peer posts into. They are invoked from
// transport goroutines; the session turns them into loop events.
type PeerEvents struct {
	// Signal carries a locally generated negotiation payload bound for
	// the other participant via the relay.
	Signal func(payload []byte)
	// RemoteTrack fires when remote media attaches.
	RemoteTrack func(kind string)
	// Failed fires on an unrecoverable peer error.
	Failed func(err error)
}

// Peer is one peer connection plus its transport statistics and video
// encoding controls. The pion adapter implements it; tests script it.
type Peer interface {
	// StartOffer begins negotiation. Only the initiator calls it.
	StartOffer(ctx context.Context) error
	// HandleSignal consumes a remote negotiation payload.
	HandleSignal(payload []byte) error

	quality.StatsSource
	quality.VideoSender

	Close() error
}

// PeerFactory builds a peer around the local tracks.
type PeerFactory interface {
	NewPeer(initiator bool, tracks []Track, events PeerEvents) (Peer, error)
}

// ChannelEventKind discriminates inbound relay channel events.
type ChannelEventKind int

const (
	// ChannelSignal is a negotiation payload from the other member.
	ChannelSignal ChannelEventKind = iota
	// ChannelPeerLeft means the other participant left the room.
	ChannelPeerLeft
	// ChannelPeerJoined means the other participant entered the room.
	ChannelPeerJoined
)

type ChannelEvent struct {
	Kind    ChannelEventKind
	Payload []byte
}

// JoinInfo is the server's admission response. Peers counts the
// members already in the room, so an initiator knows whether to offer
// now or wait for the other side to arrive.
type JoinInfo struct {
	Room  domain.RoomID
	Peers int
}

// SignalChannel is the client end of the signaling relay. Join
// presents the room token; the server-side verification there is the
// authoritative admission check.
type SignalChannel interface {
	Join(ctx context.Context, roomToken string) (JoinInfo, error)
	Send(payload []byte) error
	// Events is closed when the transport disconnects.
	Events() <-chan ChannelEvent
	Close() error
}
