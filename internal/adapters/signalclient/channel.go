// Package signalclient is the client end of the signaling relay. It
// speaks the same envelope format the server-side signal adapter
// serves and presents it to the session as a SignalChannel.
package signalclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/adapters/signal"
	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/session"
)

var ErrJoinRejected = errors.New("join rejected")

const joinTimeout = 10 * time.Second

type Channel struct {
	conn *websocket.Conn

	sendMu sync.Mutex

	// events is closed by the read loop alone; done stops the read
	// loop from blocking on a receiver that has gone away.
	events    chan session.ChannelEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the signaling socket. auth is the platform bearer token;
// room admission happens later in Join.
func Dial(ctx context.Context, url, auth string) (*Channel, error) {
	hdr := http.Header{}
	if auth != "" {
		hdr.Set("Authorization", "Bearer "+auth)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, fmt.Errorf("signal dial: %w", err)
	}
	return &Channel{
		conn:   conn,
		events: make(chan session.ChannelEvent, 16),
		done:   make(chan struct{}),
	}, nil
}

// Join presents the room token and waits for the server's admission
// verdict. On success the read loop starts and Events becomes live.
func (c *Channel) Join(ctx context.Context, roomToken string) (session.JoinInfo, error) {
	if err := c.write(signal.Envelope{Type: signal.TypeJoinRoom, Token: roomToken}); err != nil {
		return session.JoinInfo{}, err
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)

	for {
		var env signal.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return session.JoinInfo{}, fmt.Errorf("join read: %w", err)
		}
		switch env.Type {
		case signal.TypeRoomJoined:
			_ = c.conn.SetReadDeadline(time.Time{})
			go c.readLoop()
			return session.JoinInfo{Room: domain.RoomID(env.Room), Peers: env.Peers}, nil
		case signal.TypeError:
			return session.JoinInfo{}, fmt.Errorf("%w: %s", ErrJoinRejected, env.Code)
		default:
			// Frames for an earlier room cannot arrive here; anything
			// else before admission is dropped.
			log.Warn().Str("module", "signalclient").Str("type", env.Type).Msg("frame before admission")
		}
	}
}

func (c *Channel) Send(payload []byte) error {
	return c.write(signal.Envelope{Type: signal.TypeSignal, Payload: payload})
}

func (c *Channel) Events() <-chan session.ChannelEvent { return c.events }

func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Channel) write(env signal.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(env)
}

func (c *Channel) readLoop() {
	defer close(c.events)
	for {
		var env signal.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			log.Info().Err(err).Str("module", "signalclient").Msg("read loop closed")
			return
		}
		switch env.Type {
		case signal.TypeSignal:
			if !c.post(session.ChannelEvent{Kind: session.ChannelSignal, Payload: env.Payload}) {
				return
			}
		case signal.TypePeerJoined:
			if !c.post(session.ChannelEvent{Kind: session.ChannelPeerJoined}) {
				return
			}
		case signal.TypePeerLeft:
			if !c.post(session.ChannelEvent{Kind: session.ChannelPeerLeft}) {
				return
			}
		case signal.TypePong:
		case signal.TypeError:
			log.Warn().Str("module", "signalclient").Str("code", env.Code).Str("error", env.Error).Msg("server error frame")
		default:
			log.Warn().Str("module", "signalclient").Str("type", env.Type).Msg("unknown frame")
		}
	}
}

func (c *Channel) post(ev session.ChannelEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}
