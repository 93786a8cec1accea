package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/domain"
	"github.com/resona-audio/resona/internal/protocol"
)

func (ctl *SyncWSController) writePump(ctx context.Context, c *WsSyncConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SyncWSController) readPump(ctx context.Context, connID domain.ConnectionID, profile domain.ProfileID, c *WsSyncConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("connection", string(connID)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("connection", string(connID)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, connID, profile, c, data)
		}
	}
}

// dispatch routes one inbound frame by its type discriminator. Protocol
// errors are logged and dropped; they never tear down the connection.
func (ctl *SyncWSController) dispatch(ctx context.Context, connID domain.ConnectionID, profile domain.ProfileID, c *WsSyncConn, data []byte) {
	var env protocol.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypePing:
		// Fire-and-forget keepalive; no pong owed.
		log.Debug().Str("module", "signal").Str("connection", string(connID)).Msg("ping")
	case protocol.TypeGetConnectionID:
		ctl.handleGetConnectionID(connID, c)
	case protocol.TypeRegisterConnection:
		ctl.handleRegisterConnection(connID, c, env.Payload)
	case protocol.TypeRegisterPlayers:
		ctl.handleRegisterPlayers(connID, c, env.Payload)
	case protocol.TypeCreateAudioZone:
		ctl.handleCreateAudioZone(connID, c, env.Payload)
	case protocol.TypeGetSessions:
		ctl.handleGetSessions(ctx, profile, c, env.Payload)
	case protocol.TypeCreateSession:
		ctl.handleCreateSession(ctx, connID, profile, c, env.Payload)
	case protocol.TypeUpdateSession, protocol.TypePlaybackAction:
		ctl.handleUpdateSession(ctx, connID, profile, c, env.Payload)
	case protocol.TypeDeleteSession:
		ctl.handleDeleteSession(ctx, connID, profile, c, env.Payload)
	case protocol.TypeSetSeek:
		ctl.handleSetSeek(ctx, connID, profile, c, env.Payload)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown message type")
		ctl.sendError(c, "unknown_type", "unsupported message type")
	}
}

func (ctl *SyncWSController) sendJSON(c *WsSyncConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SyncWSController) sendError(c *WsSyncConn, code, message string) {
	ctl.sendJSON(c, protocol.Envelope{
		Type:    protocol.TypeError,
		Payload: protocol.ErrorPayload{Code: code, Message: message},
	})
}
