package domain

// SessionUpdate is a sparse patch against a PlaybackSession. A nil field
// means "leave unchanged"; a present Playlist replaces the whole track list
// atomically. SessionID and Profile are always required.
type SessionUpdate struct {
	SessionID SessionID `json:"sessionId"`
	Profile   ProfileID `json:"profile"`

	Name     *string          `json:"name,omitempty"`
	Active   *bool            `json:"active,omitempty"`
	Playing  *bool            `json:"playing,omitempty"`
	Position *int             `json:"position,omitempty"`
	Seek     *float64         `json:"seek,omitempty"`
	Volume   *float64         `json:"volume,omitempty"`
	Playlist *Playlist        `json:"playlist,omitempty"`
	Target   *PlaybackTarget  `json:"playbackTarget,omitempty"`
	Quality  *PlaybackQuality `json:"quality,omitempty"`

	// Transient intents. They drive players but are never stored on the
	// session; Playing is the persisted transport state.
	Play bool `json:"play,omitempty"`
	Stop bool `json:"stop,omitempty"`
}

func (u SessionUpdate) HasChanges() bool {
	return u.Name != nil || u.Active != nil || u.Playing != nil ||
		u.Position != nil || u.Seek != nil || u.Volume != nil ||
		u.Playlist != nil || u.Target != nil || u.Quality != nil ||
		u.Play || u.Stop
}

// Apply merges u into s field-wise and clamps the result back into the
// session invariants. Applying the same patch twice is a no-op the second
// time; out-of-range values are clamped, never rejected.
func Apply(s *PlaybackSession, u SessionUpdate) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Active != nil {
		s.Active = *u.Active
	}
	if u.Playing != nil {
		s.Playing = *u.Playing
	}
	if u.Position != nil {
		pos := *u.Position
		s.Position = &pos
	}
	if u.Seek != nil {
		s.Seek = *u.Seek
	}
	if u.Volume != nil {
		s.Volume = *u.Volume
	}
	if u.Playlist != nil {
		s.Playlist = u.Playlist.clone()
	}
	if u.Target != nil {
		s.Target = *u.Target
	}
	if u.Quality != nil {
		s.Quality = *u.Quality
	}
	if u.Play {
		s.Playing = true
	}
	if u.Stop {
		s.Playing = false
	}
	clamp(s)
}

func clamp(s *PlaybackSession) {
	if len(s.Playlist.Tracks) == 0 {
		// Nothing to play: no current track, no transport motion.
		s.Position = nil
		s.Playing = false
		s.Seek = 0
		return
	}
	if s.Position != nil {
		if *s.Position < 0 {
			*s.Position = 0
		}
		if *s.Position >= len(s.Playlist.Tracks) {
			*s.Position = len(s.Playlist.Tracks) - 1
		}
	}
	if s.Seek < 0 {
		s.Seek = 0
	}
	if track, ok := s.CurrentTrack(); ok && track.Duration > 0 && s.Seek > track.Duration {
		s.Seek = track.Duration
	}
	if s.Volume < 0 {
		s.Volume = 0
	}
}

// Normalize clamps a session back into its invariants without changing any
// requested field. Sessions arriving from outside (wire, storage) pass
// through here before entering a cache.
func Normalize(s *PlaybackSession) {
	clamp(s)
}

// Diff produces the minimal patch transforming before into after. Fields
// equal between the two are omitted. Both sessions must share an ID.
func Diff(before, after PlaybackSession) SessionUpdate {
	u := SessionUpdate{SessionID: after.ID, Profile: after.Profile}
	if before.Name != after.Name {
		v := after.Name
		u.Name = &v
	}
	if before.Active != after.Active {
		v := after.Active
		u.Active = &v
	}
	if before.Playing != after.Playing {
		v := after.Playing
		u.Playing = &v
	}
	if !positionEqual(before.Position, after.Position) && after.Position != nil {
		v := *after.Position
		u.Position = &v
	}
	if before.Seek != after.Seek {
		v := after.Seek
		u.Seek = &v
	}
	if before.Volume != after.Volume {
		v := after.Volume
		u.Volume = &v
	}
	if !playlistEqual(before.Playlist, after.Playlist) {
		pl := after.Playlist.clone()
		u.Playlist = &pl
	}
	if before.Target != after.Target {
		v := after.Target
		u.Target = &v
	}
	if before.Quality != after.Quality {
		v := after.Quality
		u.Quality = &v
	}
	return u
}

func positionEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func playlistEqual(a, b Playlist) bool {
	if a.ID != b.ID || len(a.Tracks) != len(b.Tracks) {
		return false
	}
	for i := range a.Tracks {
		if a.Tracks[i] != b.Tracks[i] {
			return false
		}
	}
	return true
}
