package core

import (
	"context"

	"github.com/resona-audio/resona/internal/domain"
)

// Frame is a raw encoded message payload.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Player is the playback capability for one audio output. Implementations
// render audio or proxy to a device; this core only routes updates to them
// and never touches codec-level concerns.
type Player interface {
	Info() domain.PlayerInfo
	UpdatePlayback(ctx context.Context, update domain.SessionUpdate) error
}

// SessionStore persists canonical sessions. Writes are fire-and-forget from
// the playback hot path: callers log errors, they never propagate them.
type SessionStore interface {
	LoadSessions(ctx context.Context, profile domain.ProfileID) ([]domain.PlaybackSession, error)
	CreateSession(ctx context.Context, session domain.PlaybackSession) error
	SaveSessionPatch(ctx context.Context, patch domain.SessionUpdate) error
	DeleteSession(ctx context.Context, profile domain.ProfileID, id domain.SessionID) error
}

// Upstream sends typed messages toward the fan-out server. The sync client
// implements it; enqueueing while disconnected is allowed and buffered.
type Upstream interface {
	Send(msgType string, payload any) error
}
