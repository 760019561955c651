// Package durable is the Durable Summary Store (DSS): the authoritative
// on-disk persistence of session snapshots and their user/join-code
// indexes, backed by gorm.io/gorm over Postgres.
//
// snapshot.go implements the stable, schema-versioned wire encoding for a
// session.Session: Encode/Decode round-trip through a canonical JSON shape
// where structured map keys (Coord) are stringified "q,r", tagged unions
// carry an explicit "kind" discriminator, and any top-level field
// this version of the code doesn't recognize is preserved verbatim so a
// decode-then-encode round trip never silently drops data written by a
// newer node.
package durable

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/eventlog"
	"github.com/hexsession/core/internal/migrate"
	"github.com/hexsession/core/internal/session"
	"github.com/hexsession/core/internal/world"
)

const timeLayout = "2006-01-02T15:04:05Z07:00" // ISO-8601 UTC, second precision

func encodeCoord(c world.Coord) string { return fmt.Sprintf("%d,%d", c.Q, c.R) }

func decodeCoord(s string) (world.Coord, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return world.Coord{}, apperr.New(apperr.BadSchema, fmt.Sprintf("malformed coord %q", s))
	}
	q, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	r, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return world.Coord{}, apperr.New(apperr.BadSchema, fmt.Sprintf("malformed coord %q", s))
	}
	return world.Coord{Q: q, R: r}, nil
}

type wireHex struct {
	Q int64 `json:"q"`
	R int64 `json:"r"`
}

type wirePC struct {
	PlayerID     int64  `json:"player_id"`
	Position     string `json:"position"`
	Health       int64  `json:"health"`
	ActionPoints int64  `json:"action_points"`
}

type wireWorld struct {
	Grid             map[string]wireHex `json:"grid"`
	PlayerCharacters map[string]wirePC  `json:"player_characters"`
	DeadCharacters   map[string]wirePC  `json:"dead_characters"`
}

type wirePlayer struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type wireAction struct {
	Kind     string  `json:"kind"`
	PlayerID int64   `json:"player_id"`
	Vector   *wireHex `json:"vector,omitempty"`
	TargetID int64   `json:"target_id,omitempty"`
}

type wireEvent struct {
	ID       int64  `json:"id"`
	Round    int64  `json:"round"`
	Kind     string `json:"kind"`
	PlayerID int64  `json:"player_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	TargetID int64  `json:"target_id,omitempty"`
}

type wireEventLog struct {
	Events               map[string]wireEvent `json:"events"`
	EventsVisibleByPlayer map[string][]int64  `json:"events_visible_by_player"`
}

type wireSession struct {
	SessionID         string                  `json:"session_id"`
	JoinCode          string                  `json:"join_code"`
	Status            string                  `json:"status"`
	Round             int64                   `json:"round"`
	RoundEndTime      *string                 `json:"round_end_time"`
	Players           map[string]wirePlayer   `json:"players"`
	World             wireWorld               `json:"world"`
	RegisteredActions map[string][]wireAction `json:"registered_actions"`
	EventsLog         wireEventLog            `json:"events_log"`
	Version           int64                   `json:"version"`
}

var topLevelKeys = []string{
	"session_id", "join_code", "status", "round", "round_end_time",
	"players", "world", "registered_actions", "events_log", "version",
}

func toWire(s session.Session) wireSession {
	w := wireSession{
		SessionID: s.ID.String(),
		JoinCode:  s.JoinCode,
		Status:    string(s.Status),
		Round:     int64(s.Round),
		Version:   int64(s.Version),
	}
	if s.RoundEndTime != nil {
		formatted := s.RoundEndTime.UTC().Format(timeLayout)
		w.RoundEndTime = &formatted
	}

	w.Players = make(map[string]wirePlayer, len(s.Players))
	for id, p := range s.Players {
		w.Players[strconv.Itoa(int(id))] = wirePlayer{ID: int64(p.ID), UserID: int64(p.UserID), DisplayName: p.DisplayName}
	}

	w.World.Grid = make(map[string]wireHex, len(s.World.Grid))
	for c := range s.World.Grid {
		w.World.Grid[encodeCoord(c)] = wireHex{Q: int64(c.Q), R: int64(c.R)}
	}
	w.World.PlayerCharacters = encodePCs(s.World.PlayerCharacters)
	w.World.DeadCharacters = encodePCs(s.World.DeadCharacters)

	w.RegisteredActions = make(map[string][]wireAction, len(s.RegisteredActions))
	for id, actions := range s.RegisteredActions {
		wireActions := make([]wireAction, 0, len(actions))
		for _, a := range actions {
			wa := wireAction{Kind: string(a.Kind), PlayerID: int64(a.PlayerID)}
			switch a.Kind {
			case session.ActionMove:
				wa.Vector = &wireHex{Q: int64(a.Vector.Q), R: int64(a.Vector.R)}
			case session.ActionAttack:
				wa.TargetID = int64(a.TargetID)
			}
			wireActions = append(wireActions, wa)
		}
		w.RegisteredActions[strconv.Itoa(int(id))] = wireActions
	}

	w.EventsLog.Events = make(map[string]wireEvent, len(s.EventsLog.Events))
	for id, e := range s.EventsLog.Events {
		w.EventsLog.Events[strconv.Itoa(id)] = wireEvent{
			ID: int64(e.ID), Round: int64(e.Round), Kind: string(e.Type),
			PlayerID: int64(e.PlayerID), From: encodeCoord(e.From), To: encodeCoord(e.To),
			TargetID: int64(e.TargetID),
		}
	}
	w.EventsLog.EventsVisibleByPlayer = make(map[string][]int64, len(s.EventsLog.EventsVisibleByPlayer))
	for p, ids := range s.EventsLog.EventsVisibleByPlayer {
		converted := make([]int64, len(ids))
		for i, id := range ids {
			converted[i] = int64(id)
		}
		w.EventsLog.EventsVisibleByPlayer[strconv.Itoa(int(p))] = converted
	}

	return w
}

func encodePCs(pcs map[world.PlayerID]world.PC) map[string]wirePC {
	out := make(map[string]wirePC, len(pcs))
	for id, pc := range pcs {
		out[strconv.Itoa(int(id))] = wirePC{
			PlayerID: int64(pc.PlayerID), Position: encodeCoord(pc.Position),
			Health: int64(pc.Health), ActionPoints: int64(pc.ActionPoints),
		}
	}
	return out
}

func fromWire(w wireSession) (session.Session, error) {
	id, err := uuid.Parse(w.SessionID)
	if err != nil {
		return session.Session{}, apperr.Wrap(apperr.BadSchema, "invalid session_id", err)
	}

	status := session.Status(w.Status)
	if status != session.StatusActive && status != session.StatusConcluded {
		return session.Session{}, apperr.New(apperr.BadSchema, "unknown status "+w.Status)
	}

	var roundEndTime *time.Time
	if w.RoundEndTime != nil {
		t, err := time.Parse(timeLayout, *w.RoundEndTime)
		if err != nil {
			return session.Session{}, apperr.Wrap(apperr.BadSchema, "invalid round_end_time", err)
		}
		roundEndTime = &t
	}

	grid := make(world.Grid, len(w.World.Grid))
	for key, h := range w.World.Grid {
		c, err := decodeCoord(key)
		if err != nil {
			return session.Session{}, err
		}
		grid[c] = world.Hex{Coord: world.Coord{Q: int(h.Q), R: int(h.R)}}
	}

	players := make(map[world.PlayerID]session.Player, len(w.Players))
	for key, p := range w.Players {
		pid, err := strconv.Atoi(key)
		if err != nil {
			return session.Session{}, apperr.Wrap(apperr.BadSchema, "invalid player id key", err)
		}
		players[world.PlayerID(pid)] = session.Player{ID: world.PlayerID(p.ID), UserID: int(p.UserID), DisplayName: p.DisplayName}
	}

	liveWorld := world.World{Grid: grid}
	liveWorld.PlayerCharacters, err = decodePCs(w.World.PlayerCharacters)
	if err != nil {
		return session.Session{}, err
	}
	liveWorld.DeadCharacters, err = decodePCs(w.World.DeadCharacters)
	if err != nil {
		return session.Session{}, err
	}

	registered := make(map[world.PlayerID][]session.RegisteredAction, len(w.RegisteredActions))
	for key, actions := range w.RegisteredActions {
		pid, err := strconv.Atoi(key)
		if err != nil {
			return session.Session{}, apperr.Wrap(apperr.BadSchema, "invalid registered_actions key", err)
		}
		converted := make([]session.RegisteredAction, 0, len(actions))
		for _, a := range actions {
			ra := session.RegisteredAction{PlayerID: world.PlayerID(a.PlayerID)}
			switch session.ActionKind(a.Kind) {
			case session.ActionMove:
				ra.Kind = session.ActionMove
				if a.Vector != nil {
					ra.Vector = world.Vector{Q: int(a.Vector.Q), R: int(a.Vector.R)}
				}
			case session.ActionAttack:
				ra.Kind = session.ActionAttack
				ra.TargetID = world.PlayerID(a.TargetID)
			default:
				return session.Session{}, apperr.New(apperr.BadSchema, "unknown action kind "+a.Kind)
			}
			converted = append(converted, ra)
		}
		registered[world.PlayerID(pid)] = converted
	}

	log := eventlog.Log{
		Events:                make(map[int]eventlog.Event, len(w.EventsLog.Events)),
		EventsVisibleByPlayer: make(map[world.PlayerID][]int, len(w.EventsLog.EventsVisibleByPlayer)),
	}
	for key, e := range w.EventsLog.Events {
		eid, err := strconv.Atoi(key)
		if err != nil {
			return session.Session{}, apperr.Wrap(apperr.BadSchema, "invalid event id key", err)
		}
		kind := eventlog.EventType(e.Kind)
		switch kind {
		case eventlog.EventPCLeftHex, eventlog.EventPCEnteredHex, eventlog.EventPCAttackedPC:
		default:
			return session.Session{}, apperr.New(apperr.BadSchema, "unknown event kind "+e.Kind)
		}
		ev := eventlog.Event{ID: eid, Round: int(e.Round), Type: kind, PlayerID: world.PlayerID(e.PlayerID), TargetID: world.PlayerID(e.TargetID)}
		if e.From != "" {
			if ev.From, err = decodeCoord(e.From); err != nil {
				return session.Session{}, err
			}
		}
		if e.To != "" {
			if ev.To, err = decodeCoord(e.To); err != nil {
				return session.Session{}, err
			}
		}
		log.Events[eid] = ev
	}
	for key, ids := range w.EventsLog.EventsVisibleByPlayer {
		pid, err := strconv.Atoi(key)
		if err != nil {
			return session.Session{}, apperr.Wrap(apperr.BadSchema, "invalid visibility key", err)
		}
		converted := make([]int, len(ids))
		for i, id := range ids {
			converted[i] = int(id)
		}
		log.EventsVisibleByPlayer[world.PlayerID(pid)] = converted
	}

	return session.Session{
		ID: id, JoinCode: w.JoinCode, Status: status, Round: int(w.Round),
		RoundEndTime: roundEndTime, Players: players, World: liveWorld,
		RegisteredActions: registered, EventsLog: log, Version: int(w.Version),
	}, nil
}

func decodePCs(wirePCs map[string]wirePC) (map[world.PlayerID]world.PC, error) {
	out := make(map[world.PlayerID]world.PC, len(wirePCs))
	for key, pc := range wirePCs {
		pid, err := strconv.Atoi(key)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadSchema, "invalid pc id key", err)
		}
		pos, err := decodeCoord(pc.Position)
		if err != nil {
			return nil, err
		}
		out[world.PlayerID(pid)] = world.PC{
			PlayerID: world.PlayerID(pc.PlayerID), Position: pos,
			Health: int(pc.Health), ActionPoints: int(pc.ActionPoints),
		}
	}
	return out, nil
}

// Encode produces the stable wire bytes for s, merging back any unknown
// top-level fields previously captured by Decode so a decode-then-encode
// round trip is lossless for forward-compatible data.
func Encode(s session.Session, extra map[string]any) ([]byte, error) {
	wireBytes, err := json.Marshal(toWire(s))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode snapshot", err)
	}
	if len(extra) == 0 {
		return wireBytes, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(wireBytes, &merged); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode snapshot", err)
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode snapshot", err)
	}
	return out, nil
}

// Decode parses bytes as a session snapshot, migrates it to the current
// schema version via internal/migrate, and returns the live Session plus
// any top-level fields this code doesn't recognize (for round-trip
// preservation by a later Encode).
func Decode(data []byte) (session.Session, map[string]any, error) {
	var raw migrate.Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return session.Session{}, nil, apperr.Wrap(apperr.BadSchema, "decode snapshot", err)
	}

	migrated, err := migrate.Upgrade(raw)
	if err != nil {
		return session.Session{}, nil, err
	}

	b, err := json.Marshal(migrated)
	if err != nil {
		return session.Session{}, nil, apperr.Wrap(apperr.Internal, "re-marshal migrated snapshot", err)
	}
	var w wireSession
	if err := json.Unmarshal(b, &w); err != nil {
		return session.Session{}, nil, apperr.Wrap(apperr.BadSchema, "decode migrated snapshot", err)
	}

	s, err := fromWire(w)
	if err != nil {
		return session.Session{}, nil, err
	}

	extra := map[string]any{}
	for k, v := range migrated {
		known := false
		for _, tk := range topLevelKeys {
			if tk == k {
				known = true
				break
			}
		}
		if !known {
			extra[k] = v
		}
	}
	return s, extra, nil
}
