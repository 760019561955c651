// Package resolver implements round resolution: the deterministic, pure
// function that consumes a session's registered actions and produces the
// next round's session, world, and event log. See spec §4.3.
package resolver

import (
	"sort"
	"time"

	"github.com/hexsession/core/internal/eventlog"
	"github.com/hexsession/core/internal/session"
	"github.com/hexsession/core/internal/world"
)

// Resolve is the pure function (session, round_end_time) -> session'.
// cfg supplies the AP regen/cap used by phase 5.
func Resolve(s session.Session, roundEndTime time.Time, cfg session.Config) session.Session {
	round := s.Round
	w := s.World
	log := s.EventsLog

	moves, attacks := partitionActions(s.RegisteredActions)

	// Phase 2: resolve attacks (simultaneous semantics, ascending player_id).
	for _, a := range attacks {
		w = w.Clone()
		target := w.PlayerCharacters[a.TargetID]
		target.Health--
		w.PlayerCharacters[a.TargetID] = target

		actingPC, actingAlive := w.PlayerCharacters[a.PlayerID]
		if !actingAlive {
			continue
		}
		visiblePlayers := world.PlayerIDsAt(w, actingPC.Position)
		visible := eventlog.VisibleToSet(visiblePlayers...)
		log, _ = eventlog.Append(log, eventlog.Event{
			Round:    round,
			Type:     eventlog.EventPCAttackedPC,
			PlayerID: a.PlayerID,
			TargetID: a.TargetID,
		}, visible)
	}

	// Phase 3: resolve moves (simultaneous semantics over pre-move snapshot).
	preWorld := w.Clone()
	type moveOutcome struct {
		playerID world.PlayerID
		from, to world.Coord
	}
	var outcomes []moveOutcome
	for _, m := range moves {
		// Kill resolution is phase 4, after moves: a PC attacked to <=0
		// health this round is still present in PlayerCharacters here.
		pc := preWorld.PlayerCharacters[m.PlayerID]
		to := world.ApplyVector(pc.Position, m.Vector)
		w = world.MovePC(w, m.PlayerID, to)
		outcomes = append(outcomes, moveOutcome{playerID: m.PlayerID, from: pc.Position, to: to})
	}
	postWorld := w

	// Append all PCLeftHex first (ascending source player_id), then all
	// PCEnteredHex (ascending source player_id) -- event ids place every
	// "left" before every "entered" within the round.
	for _, o := range outcomes {
		leftWitnesses := diffPlayerSets(
			world.PlayerIDsAt(preWorld, o.from),
			world.PlayerIDsAt(postWorld, o.to),
		)
		if len(leftWitnesses) == 0 {
			continue
		}
		log, _ = eventlog.Append(log, eventlog.Event{
			Round: round, Type: eventlog.EventPCLeftHex,
			PlayerID: o.playerID, From: o.from, To: o.to,
		}, eventlog.VisibleToSet(leftWitnesses...))
	}
	for _, o := range outcomes {
		enterWitnesses := world.PlayerIDsAt(postWorld, o.to)
		log, _ = eventlog.Append(log, eventlog.Event{
			Round: round, Type: eventlog.EventPCEnteredHex,
			PlayerID: o.playerID, From: o.from, To: o.to,
		}, eventlog.VisibleToSet(enterWitnesses...))
	}

	// Phase 4: kill resolution.
	for id, pc := range w.PlayerCharacters {
		if pc.Health <= 0 {
			if w.DeadCharacters == nil {
				w.DeadCharacters = make(map[world.PlayerID]world.PC)
			}
			w.DeadCharacters[id] = pc
			delete(w.PlayerCharacters, id)
		}
	}

	// Phase 5: AP regen, capped.
	for id, pc := range w.PlayerCharacters {
		pc.ActionPoints = minInt(pc.ActionPoints+cfg.APRegenPerRound, cfg.APCap)
		w.PlayerCharacters[id] = pc
	}

	next := s
	next.World = w
	next.EventsLog = log
	// Phase 6: clear registered actions.
	next.RegisteredActions = make(map[world.PlayerID][]session.RegisteredAction)
	// Phase 7: advance round and deadline.
	next.Round = round + 1
	endTime := roundEndTime.Truncate(time.Second)
	next.RoundEndTime = &endTime
	// Phase 8: game-over check.
	if w.AliveCount() < 2 {
		next.Status = session.StatusConcluded
	} else {
		next.Status = session.StatusActive
	}

	return next
}

// partitionActions splits the round's registered actions into moves and
// attacks, each in ascending player_id order (deterministic tie-break).
func partitionActions(byPlayer map[world.PlayerID][]session.RegisteredAction) (moves, attacks []session.RegisteredAction) {
	ids := make([]world.PlayerID, 0, len(byPlayer))
	for id := range byPlayer {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		for _, a := range byPlayer[id] {
			switch a.Kind {
			case session.ActionMove:
				moves = append(moves, a)
			case session.ActionAttack:
				attacks = append(attacks, a)
			}
		}
	}
	return moves, attacks
}

// diffPlayerSets returns the members of a not present in b, preserving a's
// ascending order.
func diffPlayerSets(a, b []world.PlayerID) []world.PlayerID {
	inB := make(map[world.PlayerID]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	var out []world.PlayerID
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
