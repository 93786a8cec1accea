// Package signal is the fan-out server's WebSocket face: it upgrades sync
// connections, pumps frames, and dispatches the session message taxonomy
// into the fan-out hub.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/app"
	"github.com/resona-audio/resona/internal/core"
	"github.com/resona-audio/resona/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const defaultProfile = domain.ProfileID("default")

type SyncWSController struct {
	Fanout  *app.Fanout
	limiter *CreateLimiter
}

func NewSyncWSController(fanout *app.Fanout) *SyncWSController {
	return &SyncWSController{
		Fanout:  fanout,
		limiter: NewCreateLimiter(10, time.Minute),
	}
}

// WsSyncConn is one attached sync endpoint. It implements
// core.SignalConnection; the adapter owns and closes it.
type WsSyncConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSyncConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSyncConn) Close() {
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

// HandleSync upgrades one sync connection. The client token minted by the
// HTTP layer becomes the connection id; the profile rides the query string
// (agents) or the cookie session (web clients, sticky across visits).
func (ctl *SyncWSController) HandleSync(ctx context.Context, c *gin.Context) {
	connID := domain.ConnectionID(c.GetString("client_token"))
	session := sessions.Default(c)
	profile := domain.ProfileID(c.Query("profile"))
	if profile != "" {
		session.Set("profile", string(profile))
		if err := session.Save(); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("profile cookie save failed")
		}
	} else if v, ok := session.Get("profile").(string); ok {
		profile = domain.ProfileID(v)
	}
	if profile == "" {
		profile = defaultProfile
	}
	log.Info().Str("module", "signal").Str("connection", string(connID)).Str("profile", string(profile)).Msg("new sync connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSyncConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.Fanout.Subscribe(connID, profile, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, connID, profile, conn)
		ctl.Fanout.Unsubscribe(connID, conn)
		ctl.Fanout.BroadcastConnections()
	}()
}
