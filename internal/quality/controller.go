package quality

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is how often the controller samples the transport.
const DefaultInterval = 5 * time.Second

// StatsSource yields the remote-reported statistics for the outbound
// video transport.
type StatsSource interface {
	Sample(ctx context.Context) (ConnectionStats, error)
}

// VideoSender applies encoding parameters to the outgoing video track.
type VideoSender interface {
	SetEncoding(Encoding) error
}

// Controller re-tunes the outgoing video encoding every interval while
// the call is connected. Sample or apply failures skip the cycle and
// never stop the loop. Writes to the sender are serialized on the
// session's sender mutex, shared with the manual track toggles.
type Controller struct {
	stats    StatsSource
	sender   VideoSender
	interval time.Duration
	senderMu *sync.Mutex

	applied bool
	current Tier
}

func NewController(stats StatsSource, sender VideoSender, senderMu *sync.Mutex, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		stats:    stats,
		sender:   sender,
		interval: interval,
		senderMu: senderMu,
	}
}

// Run blocks until ctx is canceled. The session starts it on entering
// Connected and cancels it in teardown.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.step(ctx)
		}
	}
}

func (c *Controller) step(ctx context.Context) {
	stats, err := c.stats.Sample(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "quality").Msg("stats sample failed, cycle skipped")
		return
	}
	if stats.PacketsReceived <= 0 {
		return
	}

	tier := ChooseTier(stats.LossRatio())
	if c.applied && tier == c.current {
		return
	}

	c.senderMu.Lock()
	err = c.sender.SetEncoding(tier.Encoding())
	c.senderMu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("module", "quality").Str("tier", tier.String()).Msg("encoding apply failed, cycle skipped")
		return
	}

	c.applied = true
	c.current = tier
	log.Info().Str("module", "quality").
		Str("tier", tier.String()).
		Float64("loss_ratio", stats.LossRatio()).
		Msg("encoding tier applied")
}
