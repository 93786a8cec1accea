package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/core"
	"github.com/resona-audio/resona/internal/domain"
)

// ActivePlayer is a registry query result: one player currently eligible to
// drive audio for a target. Impl is nil for players hosted on a remote
// connection.
type ActivePlayer struct {
	Info         domain.PlayerInfo
	ConnectionID domain.ConnectionID
	Impl         core.Player
}

type registeredPlayer struct {
	info domain.PlayerInfo
	impl core.Player
}

type connectionState struct {
	name    string
	alive   bool
	players []registeredPlayer
}

// Registry tracks connections, the players they offer, and audio zones.
// It holds no ownership beyond the registration list; players are owned by
// their connection's lifecycle. Every mutation is observable by the next
// query, there is no async propagation.
type Registry struct {
	mu           sync.RWMutex
	conns        map[domain.ConnectionID]*connectionState
	zones        map[domain.ZoneID]domain.AudioZone
	nextPlayerID domain.PlayerID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnectionID]*connectionState),
		zones: make(map[domain.ZoneID]domain.AudioZone),
	}
}

// RegisterConnection adds or revives a connection. Re-registering updates
// the name and marks the connection alive.
func (r *Registry) RegisterConnection(id domain.ConnectionID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.conns[id]
	if !ok {
		state = &connectionState{}
		r.conns[id] = state
	}
	state.name = name
	state.alive = true
	log.Info().Str("module", "app.registry").Str("connection", string(id)).Str("name", name).Msg("connection registered")
}

// RegisterPlayer is an idempotent add: the same player id on the same
// connection is a no-op, not an error. impl may be nil for remote players.
func (r *Registry) RegisterPlayer(connID domain.ConnectionID, info domain.PlayerInfo, impl core.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.conns[connID]
	if !ok {
		state = &connectionState{alive: true}
		r.conns[connID] = state
	}
	for _, p := range state.players {
		if p.info.ID == info.ID {
			return
		}
	}
	state.players = append(state.players, registeredPlayer{info: info, impl: impl})
	log.Info().Str("module", "app.registry").Str("connection", string(connID)).Int("player", int(info.ID)).Msg("player registered")
}

// AllocatePlayerID hands out the next server-assigned player id.
func (r *Registry) AllocatePlayerID() domain.PlayerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPlayerID++
	return r.nextPlayerID
}

func (r *Registry) SetAlive(id domain.ConnectionID, alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.conns[id]; ok {
		state.alive = alive
	}
}

func (r *Registry) RemoveConnection(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("connection", string(id)).Msg("connection removed")
}

// CreateAudioZone stores a zone. The player order is the election order.
func (r *Registry) CreateAudioZone(zone domain.AudioZone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	players := make([]domain.PlayerID, len(zone.Players))
	copy(players, zone.Players)
	zone.Players = players
	r.zones[zone.ID] = zone
	log.Info().Str("module", "app.registry").Str("zone", string(zone.ID)).Int("players", len(players)).Msg("audio zone created")
}

// Connections snapshots the roster, players included.
func (r *Registry) Connections() []domain.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnectionInfo, 0, len(r.conns))
	for id, state := range r.conns {
		info := domain.ConnectionInfo{ID: id, Name: state.name, Alive: state.alive}
		for _, p := range state.players {
			info.Players = append(info.Players, p.info)
		}
		out = append(out, info)
	}
	return out
}

// ActivePlayers resolves the ordered list of players currently eligible to
// drive audio for a target. Unknown zones or connections yield an empty
// list, never an error.
func (r *Registry) ActivePlayers(target domain.PlaybackTarget) []ActivePlayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activePlayersLocked(target)
}

func (r *Registry) activePlayersLocked(target domain.PlaybackTarget) []ActivePlayer {
	switch target.Type {
	case domain.TargetAudioZone:
		zone, ok := r.zones[target.ZoneID]
		if !ok {
			return nil
		}
		var out []ActivePlayer
		for _, pid := range zone.Players {
			if ap, ok := r.findAlivePlayerLocked(pid); ok {
				out = append(out, ap)
			}
		}
		return out
	case domain.TargetConnectionOutput:
		state, ok := r.conns[target.ConnectionID]
		if !ok || !state.alive {
			return nil
		}
		var out []ActivePlayer
		for _, p := range state.players {
			if p.info.OutputID == target.OutputID {
				out = append(out, ActivePlayer{Info: p.info, ConnectionID: target.ConnectionID, Impl: p.impl})
			}
		}
		return out
	default:
		return nil
	}
}

func (r *Registry) findAlivePlayerLocked(id domain.PlayerID) (ActivePlayer, bool) {
	for connID, state := range r.conns {
		if !state.alive {
			continue
		}
		for _, p := range state.players {
			if p.info.ID == id {
				return ActivePlayer{Info: p.info, ConnectionID: connID, Impl: p.impl}, true
			}
		}
	}
	return ActivePlayer{}, false
}

// LocalPlayers filters the active list down to players this process can
// drive directly.
func (r *Registry) LocalPlayers(target domain.PlaybackTarget) []ActivePlayer {
	active := r.ActivePlayers(target)
	out := active[:0:0]
	for _, ap := range active {
		if ap.Impl != nil {
			out = append(out, ap)
		}
	}
	return out
}

// IsMaster reports whether the candidate is the single authoritative player
// for the target: the first entry, in target-defined order, of the active
// list. Re-evaluated from scratch on every call.
func (r *Registry) IsMaster(target domain.PlaybackTarget, candidate domain.PlayerID) bool {
	active := r.ActivePlayers(target)
	return len(active) > 0 && active[0].Info.ID == candidate
}
