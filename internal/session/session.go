// Package session is the Session State Machine (SSM): the in-memory
// authoritative representation of one game and the operations that
// register player actions against it. Round resolution itself lives in
// internal/resolver, which operates on the Session this package defines.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/eventlog"
	"github.com/hexsession/core/internal/world"
)

// CurrentSchemaVersion is the on-disk schema version new sessions are
// created at. internal/migrate upgrades anything older before use.
const CurrentSchemaVersion = 4

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "Active"
	StatusConcluded Status = "Concluded"
)

// PlayerStatus is the externally-visible liveness of one player's PC.
type PlayerStatus string

const (
	PlayerAlive   PlayerStatus = "alive"
	PlayerDead    PlayerStatus = "dead"
	PlayerUnknown PlayerStatus = "unknown"
)

// Player is one participant's session-scoped identity.
type Player struct {
	ID          world.PlayerID
	UserID      int
	DisplayName string
}

// ActionKind discriminates the RegisteredAction tagged union.
type ActionKind string

const (
	ActionMove   ActionKind = "Move"
	ActionAttack ActionKind = "Attack"
)

// RegisteredAction is one player's action queued for the current round.
type RegisteredAction struct {
	Kind     ActionKind
	PlayerID world.PlayerID
	Vector   world.Vector   // ActionMove
	TargetID world.PlayerID // ActionAttack
}

// Config is the action-point economy and round-duration configuration.
// Spec §9 Open Questions leaves these numeric; these are the chosen
// defaults, overridable by the embedding game designer.
type Config struct {
	MoveCost       int
	AttackCost     int
	StartingAP     int
	APRegenPerRound int
	APCap          int
	RoundDuration  time.Duration
}

// DefaultConfig is the resolved Open Question default: 2 starting AP, +1
// regen per round capped at 2, each action costing 1 AP -- exactly enough
// AP at round start to register one move and one attack in the same round.
func DefaultConfig() Config {
	return Config{
		MoveCost:        1,
		AttackCost:      1,
		StartingAP:      2,
		APRegenPerRound: 1,
		APCap:           2,
		RoundDuration:   30 * time.Second,
	}
}

// Session is the full SSM state for one game.
type Session struct {
	ID               uuid.UUID
	JoinCode         string
	Status           Status
	Round            int
	RoundEndTime     *time.Time
	Players          map[world.PlayerID]Player
	World            world.World
	RegisteredActions map[world.PlayerID][]RegisteredAction
	EventsLog        eventlog.Log
	Version          int
}

// UserSpec is the admission-time identity of a joining player.
type UserSpec struct {
	UserID      int
	DisplayName string
}

// New constructs a fresh Active session for the given users, seated on
// grid, all starting at the grid's origin cell with health=3. World
// generation shape is out of core scope (spec §9); callers needing a
// different layout (custom starting health, position, or grid) build
// their own world.World and use NewFromWorld instead.
func New(joinCode string, users []UserSpec, grid world.Grid, cfg Config) Session {
	w := world.NewWorld(grid)
	origin := world.Coord{Q: 0, R: 0}

	for i := range users {
		pid := world.PlayerID(i + 1)
		w.PlayerCharacters[pid] = world.PC{
			PlayerID:     pid,
			Position:     origin,
			Health:       3,
			ActionPoints: cfg.StartingAP,
		}
	}

	return NewFromWorld(joinCode, users, w, cfg)
}

// NewFromWorld constructs a fresh Active session reusing a caller-built
// world.World verbatim instead of New's origin/health=3 defaults. w must
// already carry a world.PC entry for every user, keyed by
// world.PlayerID(i+1) in users order -- the same keying New itself uses.
func NewFromWorld(joinCode string, users []UserSpec, w world.World, cfg Config) Session {
	players := make(map[world.PlayerID]Player, len(users))
	for i, u := range users {
		pid := world.PlayerID(i + 1)
		players[pid] = Player{ID: pid, UserID: u.UserID, DisplayName: u.DisplayName}
	}

	ids := make([]world.PlayerID, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}

	return Session{
		ID:                uuid.New(),
		JoinCode:          joinCode,
		Status:            StatusActive,
		Round:             1,
		Players:           players,
		World:             w,
		RegisteredActions: make(map[world.PlayerID][]RegisteredAction),
		EventsLog:         eventlog.New(ids),
		Version:           CurrentSchemaVersion,
	}
}

func (s Session) playerIDForUser(userID int) (world.PlayerID, bool) {
	for id, p := range s.Players {
		if p.UserID == userID {
			return id, true
		}
	}
	return 0, false
}

// GetPlayerStatus reports alive/dead/unknown for userID.
func GetPlayerStatus(s Session, userID int) PlayerStatus {
	pid, ok := s.playerIDForUser(userID)
	if !ok {
		return PlayerUnknown
	}
	if s.World.Alive(pid) {
		return PlayerAlive
	}
	return PlayerDead
}

func (s Session) hasAction(pid world.PlayerID, kind ActionKind) bool {
	for _, a := range s.RegisteredActions[pid] {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func (s Session) apCost(kind ActionKind, cfg Config) int {
	if kind == ActionMove {
		return cfg.MoveCost
	}
	return cfg.AttackCost
}

func (s Session) apSpent(pid world.PlayerID, cfg Config) int {
	spent := 0
	for _, a := range s.RegisteredActions[pid] {
		spent += s.apCost(a.Kind, cfg)
	}
	return spent
}

// clone returns a shallow-field copy with fresh top-level maps so mutation
// helpers below never alias the caller's Session.
func (s Session) clone() Session {
	next := s
	next.Players = make(map[world.PlayerID]Player, len(s.Players))
	for id, p := range s.Players {
		next.Players[id] = p
	}
	next.RegisteredActions = make(map[world.PlayerID][]RegisteredAction, len(s.RegisteredActions))
	for id, actions := range s.RegisteredActions {
		cp := make([]RegisteredAction, len(actions))
		copy(cp, actions)
		next.RegisteredActions[id] = cp
	}
	return next
}

// RegisterMove validates and queues a move action for the round.
func RegisterMove(s Session, userID int, v world.Vector, cfg Config) (Session, error) {
	pid, err := validateActingPlayer(s, userID)
	if err != nil {
		return s, err
	}
	if s.hasAction(pid, ActionMove) {
		return s, apperr.New(apperr.Forbidden, apperr.DetailAlreadyRegistered)
	}
	pc := s.World.PlayerCharacters[pid]
	if pc.ActionPoints-s.apSpent(pid, cfg) < cfg.MoveCost {
		return s, apperr.New(apperr.Forbidden, apperr.DetailInsufficientActionPoint)
	}

	next := s.clone()
	next.RegisteredActions[pid] = append(next.RegisteredActions[pid], RegisteredAction{
		Kind: ActionMove, PlayerID: pid, Vector: v,
	})
	return next, nil
}

// RegisterAttack validates and queues an attack action for the round.
func RegisterAttack(s Session, userID int, targetID world.PlayerID, cfg Config) (Session, error) {
	pid, err := validateActingPlayer(s, userID)
	if err != nil {
		return s, err
	}
	targetPC, ok := s.World.PlayerCharacters[targetID]
	if !ok {
		return s, apperr.New(apperr.Forbidden, apperr.DetailTargetDead)
	}
	if s.hasAction(pid, ActionAttack) {
		return s, apperr.New(apperr.Forbidden, apperr.DetailAlreadyRegistered)
	}
	actingPC := s.World.PlayerCharacters[pid]
	if actingPC.Position != targetPC.Position {
		return s, apperr.New(apperr.Forbidden, apperr.DetailTargetNotInSameHex)
	}
	if actingPC.ActionPoints-s.apSpent(pid, cfg) < cfg.AttackCost {
		return s, apperr.New(apperr.Forbidden, apperr.DetailInsufficientActionPoint)
	}

	next := s.clone()
	next.RegisteredActions[pid] = append(next.RegisteredActions[pid], RegisteredAction{
		Kind: ActionAttack, PlayerID: pid, TargetID: targetID,
	})
	return next, nil
}

func validateActingPlayer(s Session, userID int) (world.PlayerID, error) {
	if s.Status == StatusConcluded {
		return 0, apperr.New(apperr.StateMismatch, apperr.DetailSessionConcluded)
	}
	pid, ok := s.playerIDForUser(userID)
	if !ok {
		return 0, apperr.New(apperr.NotFound, apperr.DetailNotAPlayer)
	}
	if !s.World.Alive(pid) {
		return 0, apperr.New(apperr.Forbidden, apperr.DetailPCDead)
	}
	return pid, nil
}
