package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/relay"
)

// handleJoin admits the connection into its consultation room. The
// room token presented on the frame is the authoritative check; the
// platform identity on the socket must match the token's subject.
func (ctl *Controller) handleJoin(ctx context.Context, c *wsConn, env Envelope) {
	if env.Token == "" {
		ctl.sendError(c, CodeBadPayload, "missing room token")
		return
	}
	if !ctl.limiter.Allow(c.uid) {
		log.Warn().Str("module", "signal").Str("user", string(c.uid)).Msg("join rate limited")
		ctl.sendError(c, CodeRateLimited, "too many join attempts")
		return
	}

	res, err := ctl.tokens.VerifyToken(ctx, env.Token, c.uid, c.role)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(c.uid)).Msg("room token rejected")
		ctl.sendError(c, CodeUnauthorized, "room token rejected")
		return
	}

	// A session may move between consultations. The prior room's
	// peer hears peer-left now rather than waiting out a timeout.
	ctl.handleLeave(c)

	if err := ctl.registry.Join(c, res.RoomID); err != nil {
		if errors.Is(err, relay.ErrRoomFull) {
			ctl.sendError(c, CodeRoomFull, "room already has both participants")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("room", string(res.RoomID)).Msg("join failed")
		ctl.sendError(c, CodeBadPayload, "join failed")
		return
	}

	peers := ctl.registry.Peers(c.sid)
	log.Info().Str("module", "signal").Str("sid", string(c.sid)).Str("room", string(res.RoomID)).Int("peers", len(peers)).Msg("joined")

	_ = c.sendEnvelope(Envelope{Type: TypeRoomJoined, Room: string(res.RoomID), Peers: len(peers)})
	ctl.notify(peers, Envelope{Type: TypePeerJoined})
}

// handleRelay forwards an opaque payload to the other room member.
func (ctl *Controller) handleRelay(c *wsConn, env Envelope) {
	if len(env.Payload) == 0 {
		ctl.sendError(c, CodeBadPayload, "empty payload")
		return
	}
	roomID, ok := ctl.registry.RoomOf(c.sid)
	if !ok {
		ctl.sendError(c, CodeNotJoined, "join a room first")
		return
	}
	if _, err := ctl.registry.Forward(c.sid, roomID, relay.Payload(env.Payload)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("forward failed")
		ctl.sendError(c, CodeNotJoined, "not a room member")
	}
}

// handleLeave removes the connection from its room without dropping
// the socket.
func (ctl *Controller) handleLeave(c *wsConn) {
	if roomID, remaining, ok := ctl.registry.Leave(c.sid); ok {
		log.Info().Str("module", "signal").Str("sid", string(c.sid)).Str("room", string(roomID)).Msg("left room")
		ctl.notify(remaining, Envelope{Type: TypePeerLeft})
	}
}

// disconnect runs when the socket drops for any reason.
func (ctl *Controller) disconnect(c *wsConn) {
	ctl.handleLeave(c)
}

func (ctl *Controller) notify(members []relay.Member, env Envelope) {
	for _, m := range members {
		wc, ok := m.(*wsConn)
		if !ok {
			continue
		}
		if err := wc.sendEnvelope(env); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(wc.sid)).Str("type", env.Type).Msg("notify dropped")
		}
	}
}
