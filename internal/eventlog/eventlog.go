// Package eventlog is the append-only, per-player-visibility-filtered
// event log. Pure data plus pure functions; no I/O.
package eventlog

import "github.com/hexsession/core/internal/world"

// EventType discriminates the tagged union of events.
type EventType string

const (
	EventPCLeftHex     EventType = "PCLeftHex"
	EventPCEnteredHex  EventType = "PCEnteredHex"
	EventPCAttackedPC  EventType = "PCAttackedPC"
)

// Event is a single logged occurrence. Fields beyond ID/Round/Type vary by
// Type; unused fields for a given Type are zero.
type Event struct {
	ID       int
	Round    int
	Type     EventType
	PlayerID world.PlayerID

	// PCLeftHex / PCEnteredHex
	From world.Coord
	To   world.Coord

	// PCAttackedPC
	TargetID world.PlayerID
}

// Log is the append-only store plus the per-player visibility index.
type Log struct {
	Events               map[int]Event
	EventsVisibleByPlayer map[world.PlayerID][]int
}

// New initializes an empty log with a (possibly empty) visibility list for
// every given player.
func New(players []world.PlayerID) Log {
	l := Log{
		Events:                make(map[int]Event),
		EventsVisibleByPlayer: make(map[world.PlayerID][]int, len(players)),
	}
	for _, p := range players {
		l.EventsVisibleByPlayer[p] = []int{}
	}
	return l
}

// Clone returns a deep-enough copy safe to mutate independently.
func (l Log) Clone() Log {
	out := Log{
		Events:                make(map[int]Event, len(l.Events)),
		EventsVisibleByPlayer: make(map[world.PlayerID][]int, len(l.EventsVisibleByPlayer)),
	}
	for id, e := range l.Events {
		out.Events[id] = e
	}
	for p, ids := range l.EventsVisibleByPlayer {
		cp := make([]int, len(ids))
		copy(cp, ids)
		out.EventsVisibleByPlayer[p] = cp
	}
	return out
}

// Append assigns event the next dense id, records it, and prepends that id
// to every visible player's list (newest-first). If visibleTo is empty the
// event is dropped entirely: invisible events are never recorded. Returns
// the new log and the assigned id (-1 if the event was dropped).
func Append(l Log, event Event, visibleTo map[world.PlayerID]struct{}) (Log, int) {
	if len(visibleTo) == 0 {
		return l, -1
	}
	out := l.Clone()
	id := len(out.Events)
	event.ID = id
	out.Events[id] = event
	for p := range visibleTo {
		list := out.EventsVisibleByPlayer[p]
		out.EventsVisibleByPlayer[p] = append([]int{id}, list...)
	}
	return out, id
}

// VisibleToSet turns an ordered player-id slice into a set, the shape
// Append expects for its visibleTo argument.
func VisibleToSet(players ...world.PlayerID) map[world.PlayerID]struct{} {
	out := make(map[world.PlayerID]struct{}, len(players))
	for _, p := range players {
		out[p] = struct{}{}
	}
	return out
}
