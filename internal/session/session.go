// Package session drives one consultation call on the client side:
// local media acquisition, negotiation role selection, the connection
// lifecycle, and the quality loop. Every transition happens in one
// run loop consuming events; transport callbacks only post into it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/quality"
	"github.com/medibridge/teleconsult/internal/token"
)

var (
	ErrMediaUnavailable   = errors.New("media unavailable")
	ErrNegotiationFailed  = errors.New("negotiation failed")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrChannelClosed      = errors.New("signaling channel closed")
)

// DefaultNegotiationTimeout bounds time spent in Negotiating. A
// stalled negotiation errors out through the normal teardown instead
// of hanging until the user gives up.
const DefaultNegotiationTimeout = 45 * time.Second

type Config struct {
	RoomToken          string
	Constraints        MediaConstraints
	NegotiationTimeout time.Duration
	StatsInterval      time.Duration
}

type loopEventKind int

const (
	evLocalSignal loopEventKind = iota
	evRemoteTrack
	evPeerFailed
)

type loopEvent struct {
	kind    loopEventKind
	payload []byte
	err     error
}

// Session owns exactly one call: one media acquisition, one peer
// connection, one relay channel, one quality loop. It is torn down
// deterministically on every exit path.
type Session struct {
	cfg     Config
	media   MediaSource
	peers   PeerFactory
	channel SignalChannel

	mu    sync.Mutex
	state CallState
	cause error

	// senderMu serializes sender-parameter writes between the manual
	// toggles and the quality controller.
	senderMu sync.Mutex

	events  chan loopEvent
	endOnce sync.Once
	endCh   chan struct{}
	done    chan struct{}

	updates chan CallState

	tracks        []Track
	peer          Peer
	qualityCancel context.CancelFunc
	qualityWG     sync.WaitGroup
}

func New(media MediaSource, peers PeerFactory, channel SignalChannel, cfg Config) *Session {
	if cfg.Constraints == (MediaConstraints{}) {
		cfg.Constraints = DefaultConstraints()
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return &Session{
		cfg:     cfg,
		media:   media,
		peers:   peers,
		channel: channel,
		state:   StateIdle,
		events:  make(chan loopEvent, 32),
		endCh:   make(chan struct{}),
		done:    make(chan struct{}),
		updates: make(chan CallState, 16),
	}
}

func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the terminal cause after StateErrored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Updates emits every state transition; drops are possible if the
// observer lags, the channel is advisory. It is closed once Run
// returns, so observers may range over it.
func (s *Session) Updates() <-chan CallState { return s.updates }

// End requests call teardown. Safe from any goroutine, any number of
// times, in any state.
func (s *Session) End() {
	s.endOnce.Do(func() { close(s.endCh) })
}

// ToggleAudio flips the outgoing audio track and reports the new
// enabled state.
func (s *Session) ToggleAudio() bool { return s.toggle("audio") }

// ToggleVideo flips the outgoing video track and reports the new
// enabled state.
func (s *Session) ToggleVideo() bool { return s.toggle("video") }

func (s *Session) toggle(kind string) bool {
	s.senderMu.Lock()
	defer s.senderMu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			t.SetEnabled(!t.Enabled())
			return t.Enabled()
		}
	}
	return false
}

// Run executes the call to completion. It returns nil on a clean end
// (user action, peer departure, or context cancellation) and the
// terminal cause otherwise. All acquired resources are released before
// it returns, regardless of the exit path.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	s.setState(StateAcquiringMedia)
	tracks, err := s.media.Acquire(ctx, s.cfg.Constraints)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrMediaUnavailable, err))
	}
	s.senderMu.Lock()
	s.tracks = tracks
	s.senderMu.Unlock()

	// The local decode is advisory: it only tells us our negotiation
	// role and target room. Admission is decided server-side on Join.
	s.setState(StateAwaitingToken)
	claims, err := token.DecodeUnverified(s.cfg.RoomToken)
	if err != nil {
		return s.fail(err)
	}

	s.setState(StateJoiningRoom)
	info, err := s.channel.Join(ctx, s.cfg.RoomToken)
	if err != nil {
		return s.fail(err)
	}
	roomID := info.Room
	if roomID != claims.RoomID {
		log.Warn().Str("module", "session").
			Str("decoded", string(claims.RoomID)).
			Str("granted", string(roomID)).
			Msg("server granted a different room than the local decode")
	}

	initiator := claims.Role.Initiates()
	peer, err := s.peers.NewPeer(initiator, tracks, PeerEvents{
		Signal:      func(p []byte) { s.post(loopEvent{kind: evLocalSignal, payload: p}) },
		RemoteTrack: func(string) { s.post(loopEvent{kind: evRemoteTrack}) },
		Failed:      func(err error) { s.post(loopEvent{kind: evPeerFailed, err: err}) },
	})
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
	}
	s.peer = peer

	s.setState(StateNegotiating)
	log.Info().Str("module", "session").Str("room", string(roomID)).Bool("initiator", initiator).Msg("negotiating")
	// An offer into an empty room would never be answered; the
	// initiator waits for the peer-joined event when alone.
	if initiator && info.Peers > 0 {
		if err := peer.StartOffer(ctx); err != nil {
			return s.fail(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		}
	}

	timer := time.NewTimer(s.cfg.NegotiationTimeout)
	defer timer.Stop()
	deadline := timer.C

	for {
		select {
		case <-ctx.Done():
			s.setState(StateEnded)
			return nil
		case <-s.endCh:
			s.setState(StateEnded)
			return nil
		case <-deadline:
			return s.fail(ErrNegotiationTimeout)
		case ev, ok := <-s.channel.Events():
			if !ok {
				if s.State() == StateConnected {
					s.setState(StateEnded)
					return nil
				}
				return s.fail(ErrChannelClosed)
			}
			switch ev.Kind {
			case ChannelPeerJoined:
				if initiator && s.State() != StateConnected {
					if err := s.peer.StartOffer(ctx); err != nil {
						return s.fail(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
					}
				}
			case ChannelPeerLeft:
				s.setState(StateEnded)
				return nil
			case ChannelSignal:
				if err := s.peer.HandleSignal(ev.Payload); err != nil {
					return s.fail(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
				}
			}
		case ev := <-s.events:
			switch ev.kind {
			case evLocalSignal:
				if err := s.channel.Send(ev.payload); err != nil {
					// Transport loss surfaces via the events channel
					// closing; the payload itself is best effort.
					log.Warn().Err(err).Str("module", "session").Msg("signal send failed")
				}
			case evRemoteTrack:
				if s.State() != StateConnected {
					timer.Stop()
					deadline = nil
					s.setState(StateConnected)
					s.startQuality(ctx)
				}
			case evPeerFailed:
				return s.fail(fmt.Errorf("%w: %v", ErrNegotiationFailed, ev.err))
			}
		}
	}
}

func (s *Session) startQuality(ctx context.Context) {
	qctx, cancel := context.WithCancel(ctx)
	s.qualityCancel = cancel
	ctl := quality.NewController(s.peer, s.peer, &s.senderMu, s.cfg.StatsInterval)
	s.qualityWG.Add(1)
	go func() {
		defer s.qualityWG.Done()
		ctl.Run(qctx)
	}()
}

// teardown is the single scoped release routine shared by every exit
// path: quality loop, peer connection, local tracks, relay channel.
func (s *Session) teardown() {
	close(s.done)
	if s.qualityCancel != nil {
		s.qualityCancel()
		s.qualityWG.Wait()
	}
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("peer close")
		}
	}
	s.senderMu.Lock()
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("kind", t.Kind()).Msg("track stop")
		}
	}
	s.senderMu.Unlock()
	if err := s.channel.Close(); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("channel close")
	}
	log.Info().Str("module", "session").Str("state", s.State().String()).Msg("session torn down")
	close(s.updates)
}

func (s *Session) post(ev loopEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.cause = err
	s.mu.Unlock()
	log.Error().Err(err).Str("module", "session").Msg("call failed")
	s.setState(StateErrored)
	return err
}

func (s *Session) setState(st CallState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	select {
	case s.updates <- st:
	default:
	}
}
