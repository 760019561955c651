package session

import (
	"testing"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/world"
)

func newTestSession() Session {
	g := world.NewHexDisc(2)
	return New("ABCDEF", []UserSpec{{UserID: 1, DisplayName: "a"}, {UserID: 2, DisplayName: "b"}}, g, DefaultConfig())
}

func TestRegisterMove_RejectsDuplicateInSameRound(t *testing.T) {
	s := newTestSession()
	s, err := RegisterMove(s, 1, world.Vector{Q: 1, R: 0}, DefaultConfig())
	if err != nil {
		t.Fatalf("first move: unexpected err %v", err)
	}
	_, err = RegisterMove(s, 1, world.Vector{Q: 0, R: 1}, DefaultConfig())
	if !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("second move: want Forbidden/AlreadyRegistered, got %v", err)
	}
}

func TestRegisterAttack_RejectsDifferentHex(t *testing.T) {
	s := newTestSession()
	pc2 := s.World.PlayerCharacters[2]
	pc2.Position = world.Coord{Q: 1, R: 0}
	s.World.PlayerCharacters[2] = pc2

	_, err := RegisterAttack(s, 1, 2, DefaultConfig())
	var appErr *apperr.Error
	if !apperr.AsError(err, &appErr) || appErr.Detail != apperr.DetailTargetNotInSameHex {
		t.Fatalf("want TargetNotInSameHex, got %v", err)
	}
}

func TestRegisterMoveAndAttack_SameRoundWithinAPBudget(t *testing.T) {
	s := newTestSession()
	s, err := RegisterMove(s, 1, world.Vector{Q: 1, R: 0}, DefaultConfig())
	if err != nil {
		t.Fatalf("move: unexpected err %v", err)
	}
	_, err = RegisterAttack(s, 1, 2, DefaultConfig())
	if err != nil {
		t.Fatalf("attack after move within AP budget: unexpected err %v", err)
	}
}

func TestRegisterAction_FailsAfterConcluded(t *testing.T) {
	s := newTestSession()
	s.Status = StatusConcluded
	_, err := RegisterMove(s, 1, world.Vector{Q: 1, R: 0}, DefaultConfig())
	var appErr *apperr.Error
	if !apperr.AsError(err, &appErr) || appErr.Detail != apperr.DetailSessionConcluded {
		t.Fatalf("want SessionConcluded, got %v", err)
	}
}

func TestGetPlayerStatus(t *testing.T) {
	s := newTestSession()
	if GetPlayerStatus(s, 1) != PlayerAlive {
		t.Fatalf("want alive")
	}
	if GetPlayerStatus(s, 999) != PlayerUnknown {
		t.Fatalf("want unknown for unregistered user")
	}
	delete(s.World.PlayerCharacters, world.PlayerID(2))
	if GetPlayerStatus(s, 2) != PlayerDead {
		t.Fatalf("want dead once removed from player_characters")
	}
}

func TestNewFromWorld_HonorsCustomHealth(t *testing.T) {
	g := world.NewHexDisc(1)
	w := world.NewWorld(g)
	origin := world.Coord{Q: 0, R: 0}
	w.PlayerCharacters[1] = world.PC{PlayerID: 1, Position: origin, Health: 1, ActionPoints: DefaultConfig().StartingAP}
	w.PlayerCharacters[2] = world.PC{PlayerID: 2, Position: origin, Health: 1, ActionPoints: DefaultConfig().StartingAP}

	s := NewFromWorld("ABCDEF", []UserSpec{{UserID: 1, DisplayName: "a"}, {UserID: 2, DisplayName: "b"}}, w, DefaultConfig())

	if s.World.PlayerCharacters[1].Health != 1 {
		t.Fatalf("want custom health 1 preserved, got %d", s.World.PlayerCharacters[1].Health)
	}
	if len(s.Players) != 2 {
		t.Fatalf("want 2 players seeded, got %d", len(s.Players))
	}
}
