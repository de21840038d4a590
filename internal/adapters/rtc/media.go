package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/medibridge/teleconsult/internal/quality"
	"github.com/medibridge/teleconsult/internal/session"
)

// LocalTrack backs one outgoing track with a pion sample track. The
// embedding capture pipeline pushes encoded samples through
// WriteSample; a disabled track swallows them so the device keeps
// running while the track stays silent.
type LocalTrack struct {
	kind  string
	track *webrtc.TrackLocalStaticSample

	mu       sync.RWMutex
	enabled  bool
	stopped  bool
	encoding quality.Encoding
}

func (t *LocalTrack) Kind() string { return t.kind }

func (t *LocalTrack) SetEnabled(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = on
}

func (t *LocalTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *LocalTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// WriteSample feeds one encoded sample from the capture pipeline.
// Samples on a disabled or stopped track are dropped without error.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	t.mu.RLock()
	ok := t.enabled && !t.stopped
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.track.WriteSample(s)
}

// ApplyEncoding records the tier the quality controller selected. The
// capture pipeline reads it back before encoding the next frame.
func (t *LocalTrack) ApplyEncoding(enc quality.Encoding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encoding = enc
	return nil
}

func (t *LocalTrack) Encoding() quality.Encoding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.encoding
}

func (t *LocalTrack) local() webrtc.TrackLocal { return t.track }

// MediaPipeline builds the local capture tracks. The actual device IO
// lives in the embedding application; Acquire only shapes the tracks
// to the low-bandwidth profile.
type MediaPipeline struct{}

func NewMediaPipeline() *MediaPipeline { return &MediaPipeline{} }

func (p *MediaPipeline) Acquire(_ context.Context, c session.MediaConstraints) ([]session.Track, error) {
	streamID := uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  channelsFor(c),
	}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("video track: %w", err)
	}

	return []session.Track{
		&LocalTrack{kind: "audio", track: audio, enabled: true},
		&LocalTrack{kind: "video", track: video, enabled: true},
	}, nil
}

func channelsFor(c session.MediaConstraints) uint16 {
	if c.MonoAudio {
		return 1
	}
	return 2
}

// FrameInterval is the pacing the capture pipeline should use for the
// constraint's frame rate.
func FrameInterval(c session.MediaConstraints) time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 15
	}
	return time.Second / time.Duration(c.FrameRate)
}
