// Package quality is the closed-loop bandwidth adaptation that keeps a
// call usable on poor links: remote-reported loss on the outbound video
// transport selects one of three encoding tiers.
package quality

// Tier is a discrete media-quality preset.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	}
	return "unknown"
}

// Encoding is the set of sender parameters a tier applies to the
// outgoing video track. Audio is never touched.
type Encoding struct {
	ScaleResolutionDownBy float64
	MaxBitrate            int // bits per second
	MaxFramerate          int
}

var encodings = map[Tier]Encoding{
	TierLow:    {ScaleResolutionDownBy: 2, MaxBitrate: 150_000, MaxFramerate: 10},
	TierMedium: {ScaleResolutionDownBy: 1.5, MaxBitrate: 300_000, MaxFramerate: 15},
	TierHigh:   {ScaleResolutionDownBy: 1, MaxBitrate: 500_000, MaxFramerate: 25},
}

func (t Tier) Encoding() Encoding { return encodings[t] }

// ChooseTier maps a loss ratio to a tier. No hysteresis: every sample
// is evaluated fresh. The low boundary is exclusive, so exactly 5%
// loss still selects medium.
func ChooseTier(lossRatio float64) Tier {
	switch {
	case lossRatio > 0.05:
		return TierLow
	case lossRatio > 0.02:
		return TierMedium
	default:
		return TierHigh
	}
}

// ConnectionStats is a point-in-time snapshot of the remote-reported
// outbound transport statistics for one track kind.
type ConnectionStats struct {
	PacketsLost     int64
	PacketsReceived int64
	Kind            string
}

// LossRatio is packetsLost / packetsReceived; callers skip the cycle
// when no packets have been received yet.
func (s ConnectionStats) LossRatio() float64 {
	if s.PacketsReceived <= 0 {
		return 0
	}
	return float64(s.PacketsLost) / float64(s.PacketsReceived)
}
