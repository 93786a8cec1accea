package domain

import "github.com/google/uuid"

type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Duration float64 `json:"duration"` // seconds
	Source   string  `json:"source,omitempty"`
}

type Playlist struct {
	ID     string  `json:"id"`
	Tracks []Track `json:"tracks"`
}

func (p Playlist) clone() Playlist {
	out := p
	out.Tracks = make([]Track, len(p.Tracks))
	copy(out.Tracks, p.Tracks)
	return out
}

// PlaybackQuality is the requested encode/format configuration.
// It is not negotiated per-chunk.
type PlaybackQuality struct {
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	BitDepth   int    `json:"bitDepth,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// PlaybackSession is the canonical record of what is playing, where, and at
// what position/volume.
type PlaybackSession struct {
	ID       SessionID       `json:"sessionId"`
	Profile  ProfileID       `json:"profile"`
	Name     string          `json:"name"`
	Active   bool            `json:"active"`
	Playing  bool            `json:"playing"`
	Position *int            `json:"position,omitempty"`
	Seek     float64         `json:"seek"`
	Volume   float64         `json:"volume"`
	Playlist Playlist        `json:"playlist"`
	Target   PlaybackTarget  `json:"playbackTarget"`
	Quality  PlaybackQuality `json:"quality"`
}

// NewSession keeps construction obvious and the invariants satisfied.
func NewSession(profile ProfileID, name string, target PlaybackTarget) *PlaybackSession {
	return &PlaybackSession{
		ID:      SessionID(uuid.NewString()),
		Profile: profile,
		Name:    name,
		Volume:  1.0,
		Target:  target,
	}
}

func (s *PlaybackSession) CurrentTrack() (Track, bool) {
	if s.Position == nil || *s.Position < 0 || *s.Position >= len(s.Playlist.Tracks) {
		return Track{}, false
	}
	return s.Playlist.Tracks[*s.Position], true
}

// Clone deep-copies the session so callers can release locks before I/O.
func (s *PlaybackSession) Clone() PlaybackSession {
	out := *s
	out.Playlist = s.Playlist.clone()
	if s.Position != nil {
		pos := *s.Position
		out.Position = &pos
	}
	return out
}
