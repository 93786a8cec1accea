package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/core"
	"github.com/resona-audio/resona/internal/domain"
	"github.com/resona-audio/resona/internal/protocol"
)

// PublishResult reports delivery stats/backpressure for one broadcast.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ConnectionID
}

type subscriber struct {
	profile domain.ProfileID
	conn    core.SignalConnection
}

// Fanout owns the server-side canonical sessions and rebroadcasts patches to
// every interested connection. It is the arbiter when coordinators disagree:
// last applied patch wins per field, there are no logical clocks.
type Fanout struct {
	registry *Registry
	store    core.SessionStore

	mu       sync.RWMutex
	sessions map[domain.ProfileID]map[domain.SessionID]*domain.PlaybackSession
	loaded   map[domain.ProfileID]bool
	subs     map[domain.ConnectionID]*subscriber
}

// NewFanout creates a fan-out hub. store may be nil for a purely in-memory
// server.
func NewFanout(registry *Registry, store core.SessionStore) *Fanout {
	return &Fanout{
		registry: registry,
		store:    store,
		sessions: make(map[domain.ProfileID]map[domain.SessionID]*domain.PlaybackSession),
		loaded:   make(map[domain.ProfileID]bool),
		subs:     make(map[domain.ConnectionID]*subscriber),
	}
}

func (f *Fanout) Registry() *Registry { return f.registry }

// Subscribe attaches a connection's signal endpoint. A second subscription
// under the same id replaces (and closes) the previous one.
func (f *Fanout) Subscribe(connID domain.ConnectionID, profile domain.ProfileID, conn core.SignalConnection) {
	f.mu.Lock()
	previous := f.subs[connID]
	f.subs[connID] = &subscriber{profile: profile, conn: conn}
	f.mu.Unlock()
	if previous != nil {
		previous.conn.Close()
	}
	f.registry.SetAlive(connID, true)
	log.Info().Str("module", "app.fanout").Str("connection", string(connID)).Str("profile", string(profile)).Msg("subscribed")
}

// Unsubscribe detaches the endpoint and marks the connection dead in the
// registry. The endpoint must still be the current subscription: a pump
// tearing down after its socket was replaced under the same connection id
// must not remove the replacement. Full removal after the disconnect timeout
// window is the caller's policy, via Registry.RemoveConnection.
func (f *Fanout) Unsubscribe(connID domain.ConnectionID, conn core.SignalConnection) {
	f.mu.Lock()
	sub := f.subs[connID]
	if sub == nil || sub.conn != conn {
		f.mu.Unlock()
		log.Debug().Str("module", "app.fanout").Str("connection", string(connID)).Msg("stale unsubscribe ignored")
		return
	}
	delete(f.subs, connID)
	f.mu.Unlock()
	sub.conn.Close()
	f.registry.SetAlive(connID, false)
	log.Info().Str("module", "app.fanout").Str("connection", string(connID)).Msg("unsubscribed")
}

// Sessions returns the canonical list for a profile, loading it from the
// store on first touch.
func (f *Fanout) Sessions(ctx context.Context, profile domain.ProfileID) []domain.PlaybackSession {
	f.mu.Lock()
	f.ensureLoadedLocked(ctx, profile)
	bucket := f.sessions[profile]
	out := make([]domain.PlaybackSession, 0, len(bucket))
	for _, s := range bucket {
		out = append(out, s.Clone())
	}
	f.mu.Unlock()
	return out
}

func (f *Fanout) ensureLoadedLocked(ctx context.Context, profile domain.ProfileID) {
	if f.loaded[profile] {
		return
	}
	f.loaded[profile] = true
	if f.sessions[profile] == nil {
		f.sessions[profile] = make(map[domain.SessionID]*domain.PlaybackSession)
	}
	if f.store == nil {
		return
	}
	stored, err := f.store.LoadSessions(ctx, profile)
	if err != nil {
		log.Error().Err(err).Str("module", "app.fanout").Str("profile", string(profile)).Msg("session load failed")
		return
	}
	for i := range stored {
		s := stored[i].Clone()
		f.sessions[profile][s.ID] = &s
	}
}

// CreateSession registers a new canonical session, persists it, and pushes a
// fresh snapshot to the profile's subscribers.
func (f *Fanout) CreateSession(ctx context.Context, session domain.PlaybackSession) {
	domain.Normalize(&session)
	f.mu.Lock()
	f.ensureLoadedLocked(ctx, session.Profile)
	s := session.Clone()
	f.sessions[session.Profile][s.ID] = &s
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.CreateSession(ctx, session); err != nil {
			log.Error().Err(err).Str("module", "app.fanout").Str("session", string(session.ID)).Msg("session create persist failed")
		}
	}
	f.broadcastSessions(ctx, session.Profile, "")
}

// DeleteSession drops a session and snapshots the remainder to subscribers.
func (f *Fanout) DeleteSession(ctx context.Context, profile domain.ProfileID, id domain.SessionID) {
	f.mu.Lock()
	f.ensureLoadedLocked(ctx, profile)
	delete(f.sessions[profile], id)
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.DeleteSession(ctx, profile, id); err != nil {
			log.Error().Err(err).Str("module", "app.fanout").Str("session", string(id)).Msg("session delete persist failed")
		}
	}
	f.broadcastSessions(ctx, profile, "")
}

// ApplyUpdate merges a patch into the canonical copy, persists it fire and
// forget, and rebroadcasts it to every other subscriber in the profile.
// Patches for unknown sessions are logged and dropped, never fatal.
func (f *Fanout) ApplyUpdate(ctx context.Context, from domain.ConnectionID, u domain.SessionUpdate) {
	f.mu.Lock()
	f.ensureLoadedLocked(ctx, u.Profile)
	s, ok := f.sessions[u.Profile][u.SessionID]
	if !ok {
		f.mu.Unlock()
		log.Warn().Str("module", "app.fanout").Str("session", string(u.SessionID)).Msg("patch for unknown session dropped")
		return
	}
	domain.Apply(s, u)
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.SaveSessionPatch(ctx, u); err != nil {
			log.Error().Err(err).Str("module", "app.fanout").Str("session", string(u.SessionID)).Msg("session patch persist failed")
		}
	}
	f.BroadcastToProfile(u.Profile, from, protocol.Envelope{Type: protocol.TypeSessionUpdated, Payload: u})
}

// SetSeek applies an authoritative seek and rebroadcasts the override.
func (f *Fanout) SetSeek(ctx context.Context, from domain.ConnectionID, p protocol.SetSeekPayload) {
	seek := p.Seek
	f.mu.Lock()
	f.ensureLoadedLocked(ctx, p.Profile)
	s, ok := f.sessions[p.Profile][p.SessionID]
	if ok {
		domain.Apply(s, domain.SessionUpdate{SessionID: p.SessionID, Profile: p.Profile, Seek: &seek})
	}
	f.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "app.fanout").Str("session", string(p.SessionID)).Msg("seek for unknown session dropped")
		return
	}
	f.BroadcastToProfile(p.Profile, from, protocol.Envelope{Type: protocol.TypeSetSeek, Payload: p})
}

// BroadcastConnections pushes the registry roster to every subscriber.
func (f *Fanout) BroadcastConnections() {
	payload := protocol.ConnectionsPayload{Connections: f.registry.Connections()}
	f.BroadcastToProfile("", "", protocol.Envelope{Type: protocol.TypeConnections, Payload: payload})
}

func (f *Fanout) broadcastSessions(ctx context.Context, profile domain.ProfileID, exclude domain.ConnectionID) {
	payload := protocol.SessionsPayload{Sessions: f.Sessions(ctx, profile)}
	f.BroadcastToProfile(profile, exclude, protocol.Envelope{Type: protocol.TypeSessions, Payload: payload})
}

// BroadcastToProfile fans a message out to every subscriber in the profile
// except the sender. An empty profile addresses all subscribers. Slow
// consumers that cannot absorb the frame are kicked: their endpoint is
// closed and unsubscribed, and they rejoin through the normal reconnect
// path.
func (f *Fanout) BroadcastToProfile(profile domain.ProfileID, exclude domain.ConnectionID, env protocol.Envelope) PublishResult {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.fanout").Msg("broadcast marshal failed")
		return PublishResult{}
	}

	f.mu.RLock()
	targets := make(map[domain.ConnectionID]*subscriber, len(f.subs))
	for id, sub := range f.subs {
		if id == exclude {
			continue
		}
		if profile != "" && sub.profile != profile {
			continue
		}
		targets[id] = sub
	}
	f.mu.RUnlock()

	res := PublishResult{}
	for id, sub := range targets {
		if err := sub.conn.TrySend(core.Frame(data)); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	for _, id := range res.Dropped {
		log.Warn().Str("module", "app.fanout").Str("connection", string(id)).Msg("subscriber too slow, kicked")
		f.Unsubscribe(id, targets[id].conn)
	}
	return res
}
