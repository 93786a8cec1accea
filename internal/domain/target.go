// Package domain contains the playback data model, just data and merge rules.
package domain

type (
	ZoneID       string
	ConnectionID string
	OutputID     string
	SessionID    string
	ProfileID    string
	PlayerID     int
)

type TargetType string

const (
	TargetAudioZone        TargetType = "AUDIO_ZONE"
	TargetConnectionOutput TargetType = "CONNECTION_OUTPUT"
)

// PlaybackTarget identifies where audio should play: a named zone or a
// specific output on a remote connection. The zero value means "no target".
type PlaybackTarget struct {
	Type         TargetType   `json:"type"`
	ZoneID       ZoneID       `json:"zoneId,omitempty"`
	ConnectionID ConnectionID `json:"connectionId,omitempty"`
	OutputID     OutputID     `json:"outputId,omitempty"`
}

// ZoneTarget avoids raw literals in adapters and keeps construction obvious.
func ZoneTarget(id ZoneID) PlaybackTarget {
	return PlaybackTarget{Type: TargetAudioZone, ZoneID: id}
}

func OutputTarget(conn ConnectionID, out OutputID) PlaybackTarget {
	return PlaybackTarget{Type: TargetConnectionOutput, ConnectionID: conn, OutputID: out}
}

func (t PlaybackTarget) IsZero() bool { return t.Type == "" }

// AudioZone groups players that must play in lockstep.
// Player order is the master-election order.
type AudioZone struct {
	ID      ZoneID     `json:"id"`
	Name    string     `json:"name"`
	Players []PlayerID `json:"players"`
}
