package app

import (
	"testing"

	"github.com/resona-audio/resona/internal/domain"
)

func twoPlayerZone(t *testing.T) (*Registry, domain.PlaybackTarget) {
	t.Helper()
	r := NewRegistry()
	r.RegisterConnection("conn-a", "Web")
	r.RegisterConnection("conn-b", "Native")
	r.RegisterPlayer("conn-a", domain.PlayerInfo{ID: 1, OutputID: "out-a"}, nil)
	r.RegisterPlayer("conn-b", domain.PlayerInfo{ID: 2, OutputID: "out-b"}, nil)
	r.CreateAudioZone(domain.AudioZone{ID: "zone-1", Name: "Downstairs", Players: []domain.PlayerID{1, 2}})
	return r, domain.ZoneTarget("zone-1")
}

func TestRegisterPlayerIdempotent(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("conn-a", "Web")
	r.RegisterPlayer("conn-a", domain.PlayerInfo{ID: 1, OutputID: "out-a"}, nil)
	r.RegisterPlayer("conn-a", domain.PlayerInfo{ID: 1, OutputID: "out-a"}, nil)

	conns := r.Connections()
	if len(conns) != 1 || len(conns[0].Players) != 1 {
		t.Fatalf("re-registration must be a no-op, got %+v", conns)
	}
}

func TestActivePlayersZoneOrder(t *testing.T) {
	r, target := twoPlayerZone(t)
	active := r.ActivePlayers(target)
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].Info.ID != 1 || active[1].Info.ID != 2 {
		t.Fatalf("zone order not preserved: %+v", active)
	}
}

func TestMasterUniqueness(t *testing.T) {
	r, target := twoPlayerZone(t)
	masters := 0
	for _, id := range []domain.PlayerID{1, 2} {
		if r.IsMaster(target, id) {
			masters++
		}
	}
	if masters != 1 {
		t.Fatalf("exactly one master expected, got %d", masters)
	}
	if !r.IsMaster(target, 1) {
		t.Error("first player in zone order must be master")
	}
}

func TestMasterFailover(t *testing.T) {
	r, target := twoPlayerZone(t)
	if !r.IsMaster(target, 1) {
		t.Fatal("precondition: player 1 is master")
	}

	// The master's connection goes stale; the next-in-order player must be
	// master on the very next query, with no window where both or neither
	// hold the role.
	r.RemoveConnection("conn-a")
	if r.IsMaster(target, 1) {
		t.Error("removed player still master")
	}
	if !r.IsMaster(target, 2) {
		t.Error("player 2 did not take over")
	}
}

func TestDeadConnectionExcluded(t *testing.T) {
	r, target := twoPlayerZone(t)
	r.SetAlive("conn-a", false)
	active := r.ActivePlayers(target)
	if len(active) != 1 || active[0].Info.ID != 2 {
		t.Fatalf("dead connection's player still active: %+v", active)
	}
}

func TestUnknownTargetsReturnEmpty(t *testing.T) {
	r := NewRegistry()
	if got := r.ActivePlayers(domain.ZoneTarget("nope")); len(got) != 0 {
		t.Errorf("unknown zone: %+v", got)
	}
	if got := r.ActivePlayers(domain.OutputTarget("nope", "out")); len(got) != 0 {
		t.Errorf("unknown connection: %+v", got)
	}
	if r.IsMaster(domain.ZoneTarget("nope"), 1) {
		t.Error("no player can be master of an unknown zone")
	}
}

func TestConnectionOutputMatching(t *testing.T) {
	r := NewRegistry()
	r.RegisterConnection("conn-a", "Web")
	r.RegisterPlayer("conn-a", domain.PlayerInfo{ID: 1, OutputID: "out-a"}, nil)
	r.RegisterPlayer("conn-a", domain.PlayerInfo{ID: 2, OutputID: "out-b"}, nil)

	active := r.ActivePlayers(domain.OutputTarget("conn-a", "out-b"))
	if len(active) != 1 || active[0].Info.ID != 2 {
		t.Fatalf("output match failed: %+v", active)
	}
}
