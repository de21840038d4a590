// Package signal terminates the signaling websocket. It admits an
// authenticated participant into a consultation room after verifying
// the presented room token and relays opaque negotiation payloads
// between the room's members.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/relay"
	"github.com/medibridge/teleconsult/internal/token"
)

var ErrBackpressure = errors.New("backpressure")

// Identity keys set by the HTTP authentication middleware.
const (
	CtxUserID = "user_id"
	CtxRole   = "user_role"
)

type Controller struct {
	registry *relay.Registry
	tokens   *token.Service
	limiter  *JoinRateLimiter
}

func NewController(registry *relay.Registry, tokens *token.Service, limiter *JoinRateLimiter) *Controller {
	return &Controller{
		registry: registry,
		tokens:   tokens,
		limiter:  limiter,
	}
}

// wsConn is one signaling connection. It is the relay.Member for its
// session: Deliver wraps relayed payloads in a signal frame and hands
// them to the write pump without blocking.
type wsConn struct {
	sid  relay.SessionID
	uid  domain.UserID
	role domain.Role

	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) SID() relay.SessionID  { return c.sid }
func (c *wsConn) UserID() domain.UserID { return c.uid }

func (c *wsConn) Deliver(p relay.Payload) error {
	return c.sendEnvelope(Envelope{Type: TypeSignal, Payload: json.RawMessage(p)})
}

func (c *wsConn) sendEnvelope(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("envelope marshal")
		return err
	}
	return c.trySend(b)
}

func (c *wsConn) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request to a signaling
// connection and runs its pumps. Room membership is not granted here;
// the client must present its room token on a join-room frame.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString(CtxUserID))
	role, err := domain.ParseRole(c.GetString(CtxRole))
	if uid == "" || err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		sid:  relay.SessionID(uuid.NewString()),
		uid:  uid,
		role: role,
		conn: ws,
		send: make(chan []byte, 32),
	}
	log.Info().Str("module", "signal").Str("sid", string(conn.sid)).Str("user", string(uid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()
}
