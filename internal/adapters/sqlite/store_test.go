package sqlite

import (
	"context"
	"testing"

	"github.com/resona-audio/resona/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storedSession() domain.PlaybackSession {
	pos := 0
	return domain.PlaybackSession{
		ID:       "sess-1",
		Profile:  "default",
		Name:     "Kitchen",
		Playing:  true,
		Position: &pos,
		Seek:     12.5,
		Volume:   0.8,
		Playlist: domain.Playlist{
			ID: "pl-1",
			Tracks: []domain.Track{
				{ID: "t1", Title: "First", Duration: 180},
				{ID: "t2", Title: "Second", Duration: 200},
			},
		},
		Target: domain.ZoneTarget("zone-1"),
	}
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := storedSession()
	if err := store.CreateSession(ctx, want); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.LoadSessions(ctx, "default")
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != want.ID || got[0].Name != want.Name || got[0].Seek != want.Seek {
		t.Fatalf("loaded = %+v", got[0])
	}
	if len(got[0].Playlist.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(got[0].Playlist.Tracks))
	}
}

func TestProfilesAreIsolated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := storedSession()
	b := storedSession()
	b.ID = "sess-2"
	b.Profile = "other"
	if err := store.CreateSession(ctx, a); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CreateSession(ctx, b); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.LoadSessions(ctx, "other")
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "sess-2" {
		t.Fatalf("got = %+v", got)
	}
}

func TestSaveSessionPatchMergesStoredState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, storedSession()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	seek := 42.0
	name := "Living Room"
	patch := domain.SessionUpdate{
		SessionID: "sess-1",
		Profile:   "default",
		Seek:      &seek,
		Name:      &name,
	}
	if err := store.SaveSessionPatch(ctx, patch); err != nil {
		t.Fatalf("SaveSessionPatch: %v", err)
	}

	got, err := store.LoadSessions(ctx, "default")
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if got[0].Seek != 42.0 || got[0].Name != "Living Room" {
		t.Fatalf("patch not applied: %+v", got[0])
	}
	// Untouched fields survive.
	if !got[0].Playing || got[0].Volume != 0.8 {
		t.Fatalf("untouched fields changed: %+v", got[0])
	}
}

func TestPatchForUnknownSessionIsNoop(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seek := 5.0
	err := store.SaveSessionPatch(ctx, domain.SessionUpdate{
		SessionID: "ghost", Profile: "default", Seek: &seek,
	})
	if err != nil {
		t.Fatalf("SaveSessionPatch: %v", err)
	}
	got, err := store.LoadSessions(ctx, "default")
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ghost session materialized: %+v", got)
	}
}

func TestDeleteSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, storedSession()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.DeleteSession(ctx, "default", "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := store.LoadSessions(ctx, "default")
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("session survived delete: %+v", got)
	}
}

func TestCreateTwiceOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := storedSession()
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second := first
	second.Name = "Renamed"
	if err := store.CreateSession(ctx, second); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.LoadSessions(ctx, "default")
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Renamed" {
		t.Fatalf("got = %+v", got)
	}
}
