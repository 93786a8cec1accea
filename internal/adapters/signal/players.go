package signal

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/domain"
	"github.com/resona-audio/resona/internal/protocol"
)

func (ctl *SyncWSController) handleGetConnectionID(connID domain.ConnectionID, c *WsSyncConn) {
	ctl.sendJSON(c, protocol.Envelope{
		Type:    protocol.TypeConnectionID,
		Payload: protocol.ConnectionIDPayload{ConnectionID: connID},
	})
}

func (ctl *SyncWSController) handleRegisterConnection(connID domain.ConnectionID, c *WsSyncConn, raw json.RawMessage) {
	var p protocol.RegisterConnectionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed REGISTER_CONNECTION payload")
		return
	}
	if p.Name == "" {
		p.Name = string(connID)
	}
	ctl.Fanout.Registry().RegisterConnection(connID, p.Name)
	ctl.Fanout.BroadcastConnections()
}

// handleRegisterPlayers registers the connection's player inventory. Players
// arriving with a zero id get a server-assigned one; the full id set is
// reflected back in the next CONNECTIONS broadcast.
func (ctl *SyncWSController) handleRegisterPlayers(connID domain.ConnectionID, c *WsSyncConn, raw json.RawMessage) {
	var p protocol.RegisterPlayersPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed REGISTER_PLAYERS payload")
		return
	}
	registry := ctl.Fanout.Registry()
	for _, info := range p.Players {
		if info.ID == 0 {
			info.ID = registry.AllocatePlayerID()
		}
		registry.RegisterPlayer(connID, info, nil)
	}
	log.Info().Str("module", "signal").Str("connection", string(connID)).Int("players", len(p.Players)).Msg("players registered")
	ctl.Fanout.BroadcastConnections()
}

func (ctl *SyncWSController) handleCreateAudioZone(connID domain.ConnectionID, c *WsSyncConn, raw json.RawMessage) {
	var p protocol.CreateAudioZonePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed CREATE_AUDIO_ZONE payload")
		return
	}
	if len(p.Players) == 0 {
		ctl.sendError(c, "bad_payload", "audio zone needs at least one player")
		return
	}
	zone := domain.AudioZone{
		ID:      domain.ZoneID(uuid.NewString()),
		Name:    p.Name,
		Players: p.Players,
	}
	ctl.Fanout.Registry().CreateAudioZone(zone)
	log.Info().Str("module", "signal").Str("connection", string(connID)).Str("zone", string(zone.ID)).Msg("audio zone created")
	ctl.Fanout.BroadcastConnections()
}
