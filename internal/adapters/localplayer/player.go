// Package localplayer is a software playback endpoint: it tracks transport
// state for one output and reports what it would render. The actual audio
// pipeline hangs off the state change callback.
package localplayer

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/domain"
)

// PlaybackState is the player-local view of the transport.
type PlaybackState struct {
	SessionID domain.SessionID
	Playing   bool
	Track     domain.Track
	Seek      float64
	Volume    float64
}

// Player implements core.Player for an output owned by this process.
type Player struct {
	info domain.PlayerInfo

	mu    sync.Mutex
	state PlaybackState

	// OnState fires after every accepted update, outside the lock.
	OnState func(PlaybackState)
}

func New(info domain.PlayerInfo) *Player {
	return &Player{info: info, state: PlaybackState{Volume: 1.0}}
}

func (p *Player) Info() domain.PlayerInfo { return p.info }

// State snapshots the current transport state.
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// UpdatePlayback merges a session patch into the player transport. Only the
// fields present in the patch move; Play and Stop intents override Playing.
func (p *Player) UpdatePlayback(ctx context.Context, u domain.SessionUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.state.SessionID != u.SessionID {
		// Switching sessions resets the transport.
		p.state = PlaybackState{SessionID: u.SessionID, Volume: p.state.Volume}
	}
	if u.Seek != nil {
		p.state.Seek = *u.Seek
	}
	if u.Volume != nil {
		p.state.Volume = *u.Volume
	}
	if u.Playlist != nil && u.Position != nil {
		if i := *u.Position; i >= 0 && i < len(u.Playlist.Tracks) {
			p.state.Track = u.Playlist.Tracks[i]
		}
	}
	if u.Playing != nil {
		p.state.Playing = *u.Playing
	}
	if u.Play {
		p.state.Playing = true
	}
	if u.Stop {
		p.state.Playing = false
		p.state.Seek = 0
	}
	snapshot := p.state
	callback := p.OnState
	p.mu.Unlock()

	log.Debug().
		Str("module", "localplayer").
		Int("player", int(p.info.ID)).
		Str("session", string(u.SessionID)).
		Bool("playing", snapshot.Playing).
		Msg("playback updated")
	if callback != nil {
		callback(snapshot)
	}
	return nil
}
