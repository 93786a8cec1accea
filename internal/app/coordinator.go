package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/core"
	"github.com/resona-audio/resona/internal/domain"
	"github.com/resona-audio/resona/internal/protocol"
)

// ErrTargetSwitchDeclined is returned when the user refuses to move audio
// away from a target another session is actively playing on. The update is
// dropped, not retried.
var ErrTargetSwitchDeclined = errors.New("target switch declined")

// TargetSwitchConfirmer decides whether playback may move from oldTarget to
// newTarget while a different session is actively playing on oldTarget.
// A Coordinator without a confirmer declines every such switch.
type TargetSwitchConfirmer func(oldTarget, newTarget domain.PlaybackTarget) bool

// Coordinator glues the session model, the player registry, and the sync
// transport together for one process. It exclusively owns the local session
// cache; remote state arriving later may overwrite optimistic local state
// (last writer wins).
type Coordinator struct {
	registry *Registry
	upstream core.Upstream

	// Optional collaborators, set before the first message is handled.
	Store    core.SessionStore
	Confirm  TargetSwitchConfirmer
	OnChange func(session domain.PlaybackSession)
	OnEvent  func(msgType string, payload json.RawMessage)

	mu           sync.RWMutex
	connectionID domain.ConnectionID
	sessions     map[domain.SessionID]*domain.PlaybackSession
	currentID    domain.SessionID
	peers        []domain.ConnectionInfo
}

func NewCoordinator(registry *Registry, upstream core.Upstream) *Coordinator {
	return &Coordinator{
		registry: registry,
		upstream: upstream,
		sessions: make(map[domain.SessionID]*domain.PlaybackSession),
	}
}

// ConnectionID returns the identity assigned by the fan-out server, empty
// until the CONNECTION_ID message arrives.
func (c *Coordinator) ConnectionID() domain.ConnectionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// Current returns the locally current session, if any.
func (c *Coordinator) Current() (domain.PlaybackSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.sessions[c.currentID]; ok {
		return s.Clone(), true
	}
	return domain.PlaybackSession{}, false
}

// Sessions snapshots the cached session list.
func (c *Coordinator) Sessions() []domain.PlaybackSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.PlaybackSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// Peers returns the last received peer-connection roster.
func (c *Coordinator) Peers() []domain.ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ConnectionInfo, len(c.peers))
	copy(out, c.peers)
	return out
}

// HandleMessage dispatches one inbound sync message. The transport invokes
// it serially, in receive order. Malformed or unknown messages are logged
// and dropped; they never tear down the connection.
func (c *Coordinator) HandleMessage(ctx context.Context, msg protocol.InboundEnvelope) {
	switch msg.Type {
	case protocol.TypeConnectionID:
		var p protocol.ConnectionIDPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad connection id payload")
			return
		}
		c.mu.Lock()
		c.connectionID = p.ConnectionID
		c.mu.Unlock()
		log.Info().Str("module", "app.coordinator").Str("connection", string(p.ConnectionID)).Msg("connection id assigned")

	case protocol.TypeSessions:
		var p protocol.SessionsPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad sessions payload")
			return
		}
		c.replaceSessions(ctx, p.Sessions)

	case protocol.TypeSessionUpdated:
		var u domain.SessionUpdate
		if err := json.Unmarshal(msg.Payload, &u); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad session update payload")
			return
		}
		c.applyRemote(ctx, u)

	case protocol.TypeConnections:
		var p protocol.ConnectionsPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad connections payload")
			return
		}
		c.updatePeers(p.Connections)

	case protocol.TypeSetSeek:
		var p protocol.SetSeekPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Msg("bad set seek payload")
			return
		}
		c.applySeekOverride(ctx, p)

	case protocol.TypeDownloadEvent, protocol.TypeScanEvent:
		// Device-event passthrough, routed to unrelated subsystems.
		if c.OnEvent != nil {
			c.OnEvent(msg.Type, msg.Payload)
		}

	default:
		log.Warn().Str("module", "app.coordinator").Str("type", msg.Type).Msg("unknown message type dropped")
	}
}

// replaceSessions swaps the whole cache for a server snapshot. The current
// session is kept if it survives the snapshot, otherwise the first session
// in the list becomes current.
func (c *Coordinator) replaceSessions(ctx context.Context, sessions []domain.PlaybackSession) {
	c.mu.Lock()
	previous := c.currentID
	c.sessions = make(map[domain.SessionID]*domain.PlaybackSession, len(sessions))
	c.currentID = ""
	for i := range sessions {
		s := sessions[i].Clone()
		c.sessions[s.ID] = &s
	}
	if _, ok := c.sessions[previous]; ok {
		c.currentID = previous
	} else if len(sessions) > 0 {
		c.currentID = sessions[0].ID
	}
	var current domain.PlaybackSession
	hasCurrent := false
	if s, ok := c.sessions[c.currentID]; ok {
		current = s.Clone()
		hasCurrent = true
	}
	c.mu.Unlock()

	log.Info().Str("module", "app.coordinator").Int("sessions", len(sessions)).Str("current", string(c.CurrentID())).Msg("session snapshot applied")
	if hasCurrent {
		c.routeToLocalPlayers(ctx, current.Target, domain.Diff(domain.PlaybackSession{ID: current.ID, Profile: current.Profile}, current))
		c.notifyChange(current)
	}
}

// CurrentID returns the current session id, empty if none.
func (c *Coordinator) CurrentID() domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentID
}

// applyRemote merges an inbound patch, then re-routes the updated session to
// whichever local players are active for its target.
func (c *Coordinator) applyRemote(ctx context.Context, u domain.SessionUpdate) {
	c.mu.Lock()
	s, ok := c.sessions[u.SessionID]
	if !ok {
		c.mu.Unlock()
		log.Warn().Str("module", "app.coordinator").Str("session", string(u.SessionID)).Msg("patch for unknown session ignored")
		return
	}
	domain.Apply(s, u)
	snapshot := s.Clone()
	c.mu.Unlock()

	c.routeToLocalPlayers(ctx, snapshot.Target, u)
	c.notifyChange(snapshot)
}

// updatePeers records the roster and mirrors it into the registry so that
// remote zone members and connection outputs resolve in master election.
func (c *Coordinator) updatePeers(conns []domain.ConnectionInfo) {
	c.mu.Lock()
	c.peers = make([]domain.ConnectionInfo, len(conns))
	copy(c.peers, conns)
	local := c.connectionID
	c.mu.Unlock()

	for _, conn := range conns {
		if conn.ID == local {
			// The local connection's players are registered directly with
			// their implementations; don't shadow them with remote stubs.
			continue
		}
		c.registry.RegisterConnection(conn.ID, conn.Name)
		c.registry.SetAlive(conn.ID, conn.Alive)
		for _, p := range conn.Players {
			c.registry.RegisterPlayer(conn.ID, p, nil)
		}
	}
	log.Info().Str("module", "app.coordinator").Int("connections", len(conns)).Msg("peer roster updated")
}

// applySeekOverride applies an authoritative seek only when it targets the
// locally current session.
func (c *Coordinator) applySeekOverride(ctx context.Context, p protocol.SetSeekPayload) {
	c.mu.RLock()
	isCurrent := p.SessionID == c.currentID
	c.mu.RUnlock()
	if !isCurrent {
		log.Debug().Str("module", "app.coordinator").Str("session", string(p.SessionID)).Msg("seek override for non-current session ignored")
		return
	}
	seek := p.Seek
	c.applyRemote(ctx, domain.SessionUpdate{SessionID: p.SessionID, Profile: p.Profile, Seek: &seek})
}

// UpdatePlayback is the single entry point for local intent: user pressed
// play, a local player reported a position tick, the volume changed. The
// update is applied optimistically, always broadcast upstream, and routed to
// local players only when this process hosts an active player for the
// resolved target.
//
// fallbackTarget is used when no cached session matches the update; pass the
// zero value when the session is known.
func (c *Coordinator) UpdatePlayback(ctx context.Context, update domain.SessionUpdate, fallbackTarget domain.PlaybackTarget) error {
	c.mu.Lock()
	session, known := c.sessions[update.SessionID]

	resolved := fallbackTarget
	if known {
		resolved = session.Target
	}
	if update.Target != nil {
		resolved = *update.Target
	}

	// Safety rule: never silently steal audio from a session that is
	// actively playing somewhere else.
	if playing, ok := c.activelyPlayingLocked(); ok &&
		playing.ID != update.SessionID && playing.Target != resolved {
		confirm := c.Confirm
		oldTarget := playing.Target
		c.mu.Unlock()
		if confirm == nil || !confirm(oldTarget, resolved) {
			log.Info().Str("module", "app.coordinator").Str("session", string(update.SessionID)).Msg("target switch declined, update dropped")
			return ErrTargetSwitchDeclined
		}
		c.mu.Lock()
		session, known = c.sessions[update.SessionID]
	}

	// Optimistic local mutation; the server copy is still the eventual
	// source of truth and may overwrite this later.
	var snapshot domain.PlaybackSession
	if known {
		domain.Apply(session, update)
		snapshot = session.Clone()
		if update.SessionID == c.currentID || session.Active {
			c.currentID = update.SessionID
		}
	}
	c.mu.Unlock()

	// Broadcast regardless of master status or local playback failure so
	// remote state stays consistent.
	msgType := protocol.TypeUpdateSession
	if update.Play || update.Stop {
		msgType = protocol.TypePlaybackAction
	}
	if err := c.upstream.Send(msgType, update); err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("upstream send failed")
	}

	if c.Store != nil {
		if err := c.Store.SaveSessionPatch(ctx, update); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Str("session", string(update.SessionID)).Msg("session persist failed")
		}
	}

	playerErr := c.routeToLocalPlayers(ctx, resolved, update)

	if known {
		c.notifyChange(snapshot)
	}
	return playerErr
}

// activelyPlayingLocked finds a session with transport motion, preferring
// the current one.
func (c *Coordinator) activelyPlayingLocked() (domain.PlaybackSession, bool) {
	if s, ok := c.sessions[c.currentID]; ok && s.Playing {
		return s.Clone(), true
	}
	for _, s := range c.sessions {
		if s.Playing {
			return s.Clone(), true
		}
	}
	return domain.PlaybackSession{}, false
}

// routeToLocalPlayers drives only the players this process hosts for the
// target. With no local player active the update stays cache-only, which is
// what lets non-master devices mirror state without making noise.
func (c *Coordinator) routeToLocalPlayers(ctx context.Context, target domain.PlaybackTarget, update domain.SessionUpdate) error {
	if target.IsZero() || !update.HasChanges() {
		return nil
	}
	var errs []error
	for _, ap := range c.registry.LocalPlayers(target) {
		if err := ap.Impl.UpdatePlayback(ctx, update); err != nil {
			log.Error().Err(err).Str("module", "app.coordinator").Int("player", int(ap.Info.ID)).Msg("local playback update failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) notifyChange(s domain.PlaybackSession) {
	if c.OnChange != nil {
		c.OnChange(s)
	}
}
