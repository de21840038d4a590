package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/quality"
	"github.com/medibridge/teleconsult/internal/token"
)

func signedRoomToken(t *testing.T, role domain.Role, room domain.RoomID) string {
	t.Helper()
	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		RoomID: room,
		Role:   role,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

type fakeTrack struct {
	kind string

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newFakeTrack(kind string) *fakeTrack { return &fakeTrack{kind: kind, enabled: true} }

func (f *fakeTrack) Kind() string { return f.kind }

func (f *fakeTrack) SetEnabled(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = on
}

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeTrack) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeMedia struct {
	tracks []Track
	err    error
}

func (f *fakeMedia) Acquire(context.Context, MediaConstraints) ([]Track, error) {
	return f.tracks, f.err
}

type fakePeer struct {
	events    PeerEvents
	initiator bool

	mu        sync.Mutex
	handled   [][]byte
	closed    bool
	samples   int
	stats     quality.ConnectionStats
	handleErr error
}

func (f *fakePeer) StartOffer(context.Context) error {
	f.events.Signal([]byte(`{"type":"offer"}`))
	return nil
}

func (f *fakePeer) HandleSignal(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handleErr != nil {
		return f.handleErr
	}
	f.handled = append(f.handled, p)
	return nil
}

func (f *fakePeer) Sample(context.Context) (quality.ConnectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples++
	return f.stats, nil
}

func (f *fakePeer) SetEncoding(quality.Encoding) error { return nil }

func (f *fakePeer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePeer) sampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples
}

func (f *fakePeer) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

func (f *fakePeer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePeerFactory struct {
	mu   sync.Mutex
	peer *fakePeer
}

func (f *fakePeerFactory) NewPeer(initiator bool, _ []Track, events PeerEvents) (Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peer = &fakePeer{events: events, initiator: initiator}
	return f.peer, nil
}

func (f *fakePeerFactory) created() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peer
}

type fakeChannel struct {
	roomID  domain.RoomID
	peers   int
	joinErr error

	mu     sync.Mutex
	sent   [][]byte
	closed bool

	events    chan ChannelEvent
	closeOnce sync.Once
}

func newFakeChannel(roomID domain.RoomID) *fakeChannel {
	return &fakeChannel{roomID: roomID, peers: 1, events: make(chan ChannelEvent, 16)}
}

func (f *fakeChannel) Join(context.Context, string) (JoinInfo, error) {
	if f.joinErr != nil {
		return JoinInfo{}, f.joinErr
	}
	return JoinInfo{Room: f.roomID, Peers: f.peers}, nil
}

func (f *fakeChannel) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeChannel) Events() <-chan ChannelEvent { return f.events }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitState(t *testing.T, s *Session, want CallState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-s.Updates():
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v, state is %v", want, s.State())
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish")
		return nil
	}
}

func startSession(s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func TestDoctorInitiatesAndConnects(t *testing.T) {
	audio, video := newFakeTrack("audio"), newFakeTrack("video")
	media := &fakeMedia{tracks: []Track{audio, video}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	peer := factory.created()
	if !peer.initiator {
		t.Fatalf("doctor should be the initiator")
	}
	eventually(t, "offer relayed", func() bool { return channel.sentCount() == 1 })

	// Answer comes back through the relay, then remote media attaches.
	channel.events <- ChannelEvent{Kind: ChannelSignal, Payload: []byte(`{"type":"answer"}`)}
	eventually(t, "answer applied", func() bool { return peer.handledCount() == 1 })
	peer.events.RemoteTrack("video")
	waitState(t, s, StateConnected)

	// Other party leaves; the call ends cleanly.
	channel.events <- ChannelEvent{Kind: ChannelPeerLeft}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateEnded {
		t.Fatalf("state = %v, want ended", s.State())
	}
	if !audio.isStopped() || !video.isStopped() {
		t.Fatalf("tracks not stopped on teardown")
	}
	if !channel.isClosed() || !peer.isClosed() {
		t.Fatalf("channel/peer not closed on teardown")
	}
}

func TestInitiatorWaitsForPeerInEmptyRoom(t *testing.T) {
	media := &fakeMedia{tracks: []Track{newFakeTrack("video")}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	channel.peers = 0
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	time.Sleep(20 * time.Millisecond)
	if channel.sentCount() != 0 {
		t.Fatalf("offered into an empty room")
	}

	channel.events <- ChannelEvent{Kind: ChannelPeerJoined}
	eventually(t, "offer after peer joined", func() bool { return channel.sentCount() == 1 })

	s.End()
	_ = waitDone(t, done)
}

func TestPatientAnswers(t *testing.T) {
	media := &fakeMedia{tracks: []Track{newFakeTrack("audio"), newFakeTrack("video")}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RolePatient, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	peer := factory.created()
	if peer.initiator {
		t.Fatalf("patient should answer, not initiate")
	}
	if channel.sentCount() != 0 {
		t.Fatalf("responder sent %d payloads before any offer", channel.sentCount())
	}

	channel.events <- ChannelEvent{Kind: ChannelSignal, Payload: []byte(`{"type":"offer"}`)}
	eventually(t, "offer applied", func() bool { return peer.handledCount() == 1 })
	peer.events.Signal([]byte(`{"type":"answer"}`))
	eventually(t, "answer relayed", func() bool { return channel.sentCount() == 1 })
	peer.events.RemoteTrack("video")
	waitState(t, s, StateConnected)

	s.End()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestMediaFailureIsTerminal(t *testing.T) {
	media := &fakeMedia{err: errors.New("camera denied")}
	channel := newFakeChannel("consultation-A1")
	s := New(media, &fakePeerFactory{}, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("err = %v, want ErrMediaUnavailable", err)
	}
	if s.State() != StateErrored {
		t.Fatalf("state = %v, want errored", s.State())
	}
	if !channel.isClosed() {
		t.Fatalf("teardown skipped on media failure")
	}
}

func TestMalformedTokenIsTerminal(t *testing.T) {
	audio := newFakeTrack("audio")
	media := &fakeMedia{tracks: []Track{audio}}
	s := New(media, &fakePeerFactory{}, newFakeChannel("consultation-A1"), Config{
		RoomToken: "garbage",
	})

	err := s.Run(context.Background())
	if !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
	if !audio.isStopped() {
		t.Fatalf("acquired track leaked after token failure")
	}
}

func TestEndDuringNegotiatingTearsDown(t *testing.T) {
	audio, video := newFakeTrack("audio"), newFakeTrack("video")
	media := &fakeMedia{tracks: []Track{audio, video}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	s.End()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateEnded {
		t.Fatalf("state = %v, want ended", s.State())
	}
	if !audio.isStopped() || !video.isStopped() {
		t.Fatalf("tracks left running after end call")
	}
	if !channel.isClosed() {
		t.Fatalf("relay channel left open after end call")
	}
	if !factory.created().isClosed() {
		t.Fatalf("peer connection left open after end call")
	}
}

func TestNegotiationTimeout(t *testing.T) {
	media := &fakeMedia{tracks: []Track{newFakeTrack("video")}}
	channel := newFakeChannel("consultation-A1")
	s := New(media, &fakePeerFactory{}, channel, Config{
		RoomToken:          signedRoomToken(t, domain.RolePatient, "consultation-A1"),
		NegotiationTimeout: 30 * time.Millisecond,
	})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrNegotiationTimeout) {
		t.Fatalf("err = %v, want ErrNegotiationTimeout", err)
	}
	if !channel.isClosed() {
		t.Fatalf("teardown skipped on negotiation timeout")
	}
}

func TestPeerFailureIsTerminal(t *testing.T) {
	media := &fakeMedia{tracks: []Track{newFakeTrack("video")}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	factory.created().events.Failed(errors.New("ice failed"))
	err := waitDone(t, done)
	if !errors.Is(err, ErrNegotiationFailed) {
		t.Fatalf("err = %v, want ErrNegotiationFailed", err)
	}
}

func TestChannelDisconnectDuringNegotiation(t *testing.T) {
	media := &fakeMedia{tracks: []Track{newFakeTrack("video")}}
	channel := newFakeChannel("consultation-A1")
	s := New(media, &fakePeerFactory{}, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	channel.Close()
	err := waitDone(t, done)
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err = %v, want ErrChannelClosed", err)
	}
}

func TestQualityLoopStopsAfterEnd(t *testing.T) {
	media := &fakeMedia{tracks: []Track{newFakeTrack("video")}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken:     signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
		StatsInterval: 5 * time.Millisecond,
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	peer := factory.created()
	peer.events.RemoteTrack("video")
	waitState(t, s, StateConnected)

	// Let the controller take at least one sample, then end.
	time.Sleep(25 * time.Millisecond)
	s.End()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	before := peer.sampleCount()
	time.Sleep(25 * time.Millisecond)
	if after := peer.sampleCount(); after != before {
		t.Fatalf("stats sampling continued after teardown: %d -> %d", before, after)
	}
}

func TestTogglesFlipTracks(t *testing.T) {
	audio, video := newFakeTrack("audio"), newFakeTrack("video")
	media := &fakeMedia{tracks: []Track{audio, video}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	done := startSession(s)
	waitState(t, s, StateNegotiating)

	if on := s.ToggleAudio(); on {
		t.Fatalf("ToggleAudio = true, want muted")
	}
	if audio.Enabled() {
		t.Fatalf("audio track still enabled after mute")
	}
	if on := s.ToggleAudio(); !on {
		t.Fatalf("second ToggleAudio = false, want enabled")
	}
	if on := s.ToggleVideo(); on {
		t.Fatalf("ToggleVideo = true, want disabled")
	}

	s.End()
	_ = waitDone(t, done)
}

func TestUpdatesCloseWhenRunReturns(t *testing.T) {
	audio, video := newFakeTrack("audio"), newFakeTrack("video")
	media := &fakeMedia{tracks: []Track{audio, video}}
	factory := &fakePeerFactory{}
	channel := newFakeChannel("consultation-A1")
	s := New(media, factory, channel, Config{
		RoomToken: signedRoomToken(t, domain.RoleDoctor, "consultation-A1"),
	})

	observed := make(chan struct{})
	go func() {
		for range s.Updates() {
		}
		close(observed)
	}()

	done := startSession(s)
	eventually(t, "negotiation to begin", func() bool { return s.State() == StateNegotiating })

	s.End()
	_ = waitDone(t, done)

	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Fatalf("updates channel never closed, observer still running")
	}
}
