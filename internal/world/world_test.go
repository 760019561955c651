package world

import "testing"

func TestApplyVector(t *testing.T) {
	cases := []struct {
		name string
		c    Coord
		v    Vector
		want Coord
	}{
		{name: "east", c: Coord{Q: -1, R: 0}, v: Vector{Q: 1, R: 0}, want: Coord{Q: 0, R: 0}},
		{name: "zero displacement", c: Coord{Q: 2, R: -3}, v: Vector{}, want: Coord{Q: 2, R: -3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyVector(tc.c, tc.v)
			if got != tc.want {
				t.Fatalf("ApplyVector(%+v, %+v) = %+v, want %+v", tc.c, tc.v, got, tc.want)
			}
		})
	}
}

func TestPCsAt_DeterministicOrder(t *testing.T) {
	w := NewWorld(NewHexDisc(2))
	c := Coord{Q: 0, R: 0}
	w.PlayerCharacters[PlayerID(3)] = PC{PlayerID: 3, Position: c, Health: 3}
	w.PlayerCharacters[PlayerID(1)] = PC{PlayerID: 1, Position: c, Health: 3}
	w.PlayerCharacters[PlayerID(2)] = PC{PlayerID: 2, Position: c, Health: 3}

	got := PCsAt(w, c)
	if len(got) != 3 {
		t.Fatalf("want 3 PCs at coord, got %d", len(got))
	}
	for i, id := range []PlayerID{1, 2, 3} {
		if got[i].PlayerID != id {
			t.Fatalf("PCsAt order[%d] = %d, want %d", i, got[i].PlayerID, id)
		}
	}
}

func TestMovePC_UpdatesPositionWithoutAliasingOriginal(t *testing.T) {
	w := NewWorld(NewHexDisc(2))
	w.PlayerCharacters[PlayerID(1)] = PC{PlayerID: 1, Position: Coord{Q: 0, R: 0}}

	next := MovePC(w, 1, Coord{Q: 1, R: 0})

	if w.PlayerCharacters[1].Position != (Coord{Q: 0, R: 0}) {
		t.Fatalf("MovePC mutated the original world's PC position")
	}
	if next.PlayerCharacters[1].Position != (Coord{Q: 1, R: 0}) {
		t.Fatalf("MovePC did not update the returned world's PC position")
	}
}

func TestMovePC_PanicsForUnknownPlayer(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown player_id")
		}
	}()
	w := NewWorld(NewHexDisc(1))
	MovePC(w, 99, Coord{Q: 0, R: 0})
}

func TestNewHexDisc_EveryCellWithinRadius(t *testing.T) {
	g := NewHexDisc(2)
	for c := range g {
		s := -c.Q - c.R
		dist := (abs(c.Q) + abs(c.R) + abs(s)) / 2
		if dist > 2 {
			t.Fatalf("cell %+v has hex distance %d, want <= 2", c, dist)
		}
	}
	if _, ok := g[Coord{Q: 0, R: 0}]; !ok {
		t.Fatalf("origin must be part of the disc")
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
