// Package protocol defines the message taxonomy exchanged over the sync
// transport. Every message carries a type discriminator and a payload whose
// shape is determined by the type.
package protocol

import (
	"encoding/json"

	"github.com/resona-audio/resona/internal/domain"
)

// Server → client message types.
const (
	TypeConnectionID   = "CONNECTION_ID"
	TypeSessions       = "SESSIONS"
	TypeSessionUpdated = "SESSION_UPDATED"
	TypeConnections    = "CONNECTIONS"
	TypeDownloadEvent  = "DOWNLOAD_EVENT"
	TypeScanEvent      = "SCAN_EVENT"
	TypeError          = "ERROR"
)

// Client → server message types.
const (
	TypePing               = "PING"
	TypeGetConnectionID    = "GET_CONNECTION_ID"
	TypePlaybackAction     = "PLAYBACK_ACTION"
	TypeGetSessions        = "GET_SESSIONS"
	TypeCreateSession      = "CREATE_SESSION"
	TypeUpdateSession      = "UPDATE_SESSION"
	TypeDeleteSession      = "DELETE_SESSION"
	TypeRegisterConnection = "REGISTER_CONNECTION"
	TypeRegisterPlayers    = "REGISTER_PLAYERS"
	TypeCreateAudioZone    = "CREATE_AUDIO_ZONE"
)

// TypeSetSeek flows in both directions: clients issue authoritative seek
// overrides and the server rebroadcasts them.
const TypeSetSeek = "SET_SEEK"

type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InboundEnvelope defers payload decoding until the type is known.
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ConnectionIDPayload struct {
	ConnectionID domain.ConnectionID `json:"connectionId"`
}

type SessionsPayload struct {
	Sessions []domain.PlaybackSession `json:"sessions"`
}

type GetSessionsPayload struct {
	Profile domain.ProfileID `json:"profile"`
}

type ConnectionsPayload struct {
	Connections []domain.ConnectionInfo `json:"connections"`
}

type SetSeekPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	Profile   domain.ProfileID `json:"profile"`
	Seek      float64          `json:"seek"`
}

type RegisterConnectionPayload struct {
	Name    string           `json:"name"`
	Profile domain.ProfileID `json:"profile"`
}

type RegisterPlayersPayload struct {
	Players []domain.PlayerInfo `json:"players"`
}

type CreateAudioZonePayload struct {
	Name    string            `json:"name"`
	Players []domain.PlayerID `json:"players"`
}

type CreateSessionPayload struct {
	Session domain.PlaybackSession `json:"session"`
}

type DeleteSessionPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
	Profile   domain.ProfileID `json:"profile"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProgressEventPayload rides DOWNLOAD_EVENT and SCAN_EVENT passthroughs.
// The sync core routes these to other subsystems without interpreting them.
type ProgressEventPayload struct {
	TaskID   string  `json:"taskId"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}
