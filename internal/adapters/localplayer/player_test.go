package localplayer

import (
	"context"
	"testing"

	"github.com/resona-audio/resona/internal/domain"
)

func TestUpdateMovesOnlyPresentFields(t *testing.T) {
	p := New(domain.PlayerInfo{ID: 1, Name: "kitchen", OutputID: "out-1"})
	ctx := context.Background()

	vol := 0.5
	if err := p.UpdatePlayback(ctx, domain.SessionUpdate{SessionID: "s1", Volume: &vol}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}
	seek := 30.0
	if err := p.UpdatePlayback(ctx, domain.SessionUpdate{SessionID: "s1", Seek: &seek}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}

	st := p.State()
	if st.Volume != 0.5 {
		t.Fatalf("volume = %v, want 0.5 to survive seek patch", st.Volume)
	}
	if st.Seek != 30.0 {
		t.Fatalf("seek = %v", st.Seek)
	}
}

func TestPlayStopIntents(t *testing.T) {
	p := New(domain.PlayerInfo{ID: 1})
	ctx := context.Background()

	if err := p.UpdatePlayback(ctx, domain.SessionUpdate{SessionID: "s1", Play: true}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}
	if !p.State().Playing {
		t.Fatal("play intent ignored")
	}
	if err := p.UpdatePlayback(ctx, domain.SessionUpdate{SessionID: "s1", Stop: true}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}
	st := p.State()
	if st.Playing || st.Seek != 0 {
		t.Fatalf("stop should halt and rewind, got %+v", st)
	}
}

func TestSessionSwitchResetsTransport(t *testing.T) {
	p := New(domain.PlayerInfo{ID: 1})
	ctx := context.Background()

	seek := 90.0
	if err := p.UpdatePlayback(ctx, domain.SessionUpdate{SessionID: "s1", Seek: &seek, Play: true}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}
	if err := p.UpdatePlayback(ctx, domain.SessionUpdate{SessionID: "s2", Play: true}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}

	st := p.State()
	if st.SessionID != "s2" || st.Seek != 0 {
		t.Fatalf("transport not reset on session switch: %+v", st)
	}
}

func TestOnStateCallbackFires(t *testing.T) {
	p := New(domain.PlayerInfo{ID: 1})
	var got []PlaybackState
	p.OnState = func(s PlaybackState) { got = append(got, s) }

	if err := p.UpdatePlayback(context.Background(), domain.SessionUpdate{SessionID: "s1", Play: true}); err != nil {
		t.Fatalf("UpdatePlayback: %v", err)
	}
	if len(got) != 1 || !got[0].Playing {
		t.Fatalf("callback = %+v", got)
	}
}
