// Package rtc is the pion-backed transport for a consultation call:
// one peer connection per session, trickle ICE over the signaling
// relay, RTCP receiver reports as the quality controller's stats
// source.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/quality"
	"github.com/medibridge/teleconsult/internal/session"
)

// signalMessage is the negotiation payload carried opaquely by the
// relay: an SDP exchange or a trickled ICE candidate.
type signalMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type Factory struct {
	ice []string
}

func NewFactory(iceServers []string) *Factory {
	return &Factory{ice: iceServers}
}

func (f *Factory) NewPeer(initiator bool, tracks []session.Track, events session.PeerEvents) (session.Peer, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(iceConfiguration(f.ice))
	if err != nil {
		return nil, err
	}

	p := &Peer{pc: pc, events: events, closed: make(chan struct{})}

	for _, t := range tracks {
		lt, ok := t.(*LocalTrack)
		if !ok {
			_ = pc.Close()
			return nil, fmt.Errorf("unsupported track type %T", t)
		}
		sender, err := pc.AddTrack(lt.local())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", lt.kind, err)
		}
		if lt.kind == "video" {
			p.videoSender = sender
			p.videoTrack = lt
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		b, err := json.Marshal(signalMessage{Type: "candidate", Candidate: &init})
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("candidate marshal")
			return
		}
		events.Signal(b)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		events.RemoteTrack(track.Kind().String())
		go p.drainRemote(track)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_state", s.String()).Bool("initiator", initiator).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			events.Failed(errors.New("peer connection failed"))
		}
	})

	if p.videoSender != nil {
		go p.readStats()
	}
	return p, nil
}

type Peer struct {
	pc     *webrtc.PeerConnection
	events session.PeerEvents

	videoSender *webrtc.RTPSender
	videoTrack  *LocalTrack

	// Candidates arriving before the remote description are queued.
	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	statsMu  sync.Mutex
	stats    quality.ConnectionStats
	firstSeq uint32
	haveSeq  bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (p *Peer) StartOffer(ctx context.Context) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	b, err := json.Marshal(signalMessage{Type: "offer", SDP: offer.SDP})
	if err != nil {
		return err
	}
	p.events.Signal(b)
	return nil
}

func (p *Peer) HandleSignal(payload []byte) error {
	var msg signalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("signal decode: %w", err)
	}

	switch msg.Type {
	case "offer":
		if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		b, err := json.Marshal(signalMessage{Type: "answer", SDP: answer.SDP})
		if err != nil {
			return err
		}
		p.events.Signal(b)
		return nil
	case "answer":
		return p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
	case "candidate":
		if msg.Candidate == nil {
			return errors.New("candidate message without candidate")
		}
		return p.addCandidate(*msg.Candidate)
	default:
		return fmt.Errorf("unknown signal type %q", msg.Type)
	}
}

func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.remoteSet = true
	p.mu.Unlock()
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("queued candidate rejected")
		}
	}
	return nil
}

func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(c)
}

// Sample reports cumulative counters for the outgoing video stream as
// seen by the remote receiver.
func (p *Peer) Sample(context.Context) (quality.ConnectionStats, error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats, nil
}

func (p *Peer) SetEncoding(enc quality.Encoding) error {
	if p.videoTrack == nil {
		return errors.New("no video track")
	}
	return p.videoTrack.ApplyEncoding(enc)
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.pc.Close()
	})
	return err
}

// readStats consumes RTCP on the video sender and folds receiver
// reports into the sampled counters.
func (p *Peer) readStats() {
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		pkts, _, err := p.videoSender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				p.fold(report)
			}
		}
	}
}

func (p *Peer) fold(r rtcp.ReceptionReport) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if !p.haveSeq {
		p.firstSeq = r.LastSequenceNumber
		p.haveSeq = true
	}
	p.stats = statsFromReport(p.firstSeq, r.LastSequenceNumber, r.TotalLost)
	p.stats.Kind = "video"
}

// statsFromReport derives cumulative received/lost counts from a
// reception report. The extended highest sequence number minus the
// baseline is the expected packet count; received is expected minus
// lost, floored at zero for reordered early reports.
func statsFromReport(firstSeq, lastSeq, totalLost uint32) quality.ConnectionStats {
	expected := int64(lastSeq - firstSeq)
	lost := int64(totalLost)
	received := int64(0)
	if expected > lost {
		received = expected - lost
	}
	return quality.ConnectionStats{
		PacketsLost:     lost,
		PacketsReceived: received,
	}
}

// drainRemote keeps reading the remote track so the interceptor chain
// (and its RTCP machinery) stays fed. Rendering happens in the
// embedding application via its own track handler.
func (p *Peer) drainRemote(track *webrtc.TrackRemote) {
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
