package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/domain"
	"github.com/resona-audio/resona/internal/protocol"
)

func (ctl *SyncWSController) handleGetSessions(ctx context.Context, profile domain.ProfileID, c *WsSyncConn, raw json.RawMessage) {
	var p protocol.GetSessionsPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			ctl.sendError(c, "bad_payload", "malformed GET_SESSIONS payload")
			return
		}
	}
	if p.Profile != "" {
		profile = p.Profile
	}
	ctl.sendJSON(c, protocol.Envelope{
		Type:    protocol.TypeSessions,
		Payload: protocol.SessionsPayload{Sessions: ctl.Fanout.Sessions(ctx, profile)},
	})
}

func (ctl *SyncWSController) handleCreateSession(ctx context.Context, connID domain.ConnectionID, profile domain.ProfileID, c *WsSyncConn, raw json.RawMessage) {
	if !ctl.limiter.Allow(connID) {
		log.Warn().Str("module", "signal").Str("connection", string(connID)).Msg("session create rate limited")
		ctl.sendError(c, "rate_limited", "too many sessions created, slow down")
		return
	}
	var p protocol.CreateSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed CREATE_SESSION payload")
		return
	}
	session := p.Session
	if session.ID == "" {
		session = *domain.NewSession(profile, p.Session.Name, p.Session.Target)
		session.Playlist = p.Session.Playlist
		session.Quality = p.Session.Quality
	}
	if session.Profile == "" {
		session.Profile = profile
	}
	ctl.Fanout.CreateSession(ctx, session)
}

func (ctl *SyncWSController) handleUpdateSession(ctx context.Context, connID domain.ConnectionID, profile domain.ProfileID, c *WsSyncConn, raw json.RawMessage) {
	var u domain.SessionUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		ctl.sendError(c, "bad_payload", "malformed session patch")
		return
	}
	if u.SessionID == "" {
		ctl.sendError(c, "bad_payload", "session patch without sessionId")
		return
	}
	if u.Profile == "" {
		u.Profile = profile
	}
	ctl.Fanout.ApplyUpdate(ctx, connID, u)
}

func (ctl *SyncWSController) handleDeleteSession(ctx context.Context, connID domain.ConnectionID, profile domain.ProfileID, c *WsSyncConn, raw json.RawMessage) {
	var p protocol.DeleteSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed DELETE_SESSION payload")
		return
	}
	if p.Profile == "" {
		p.Profile = profile
	}
	log.Info().Str("module", "signal").Str("connection", string(connID)).Str("session", string(p.SessionID)).Msg("session deleted")
	ctl.Fanout.DeleteSession(ctx, p.Profile, p.SessionID)
}

func (ctl *SyncWSController) handleSetSeek(ctx context.Context, connID domain.ConnectionID, profile domain.ProfileID, c *WsSyncConn, raw json.RawMessage) {
	var p protocol.SetSeekPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad_payload", "malformed SET_SEEK payload")
		return
	}
	if p.Profile == "" {
		p.Profile = profile
	}
	ctl.Fanout.SetSeek(ctx, connID, p)
}
