// Package migrate is the Version Migrator (VM): a pure function mapping
// any prior on-disk session schema to the current one. It operates on the
// loosely-typed decoded-JSON representation (map[string]any) because
// older schema versions may be missing fields the current Go struct
// requires -- exactly the shape durable.Decode hands it before building a
// session.Session.
package migrate

import (
	"fmt"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/session"
)

// Raw is the JSON-object shape of a persisted session snapshot, as
// produced by json.Unmarshal into map[string]any.
type Raw = map[string]any

// step upgrades a snapshot from its current version to the next one. Steps
// must be pure and total: no I/O, no partial application.
type step func(Raw) Raw

// steps is keyed by the version a snapshot is upgraded FROM.
var steps = map[int]step{
	1: upgradeV1toV2,
	2: upgradeV2toV3,
	3: upgradeV3toV4,
}

// Upgrade repeatedly applies the registered step for raw's current version
// until it reaches session.CurrentSchemaVersion. Unknown or non-positive
// versions return an InvalidVersion error and the snapshot must not be
// used to start an SR.
func Upgrade(raw Raw) (Raw, error) {
	version, err := versionOf(raw)
	if err != nil {
		return nil, err
	}

	for version != session.CurrentSchemaVersion {
		if version > session.CurrentSchemaVersion || version <= 0 {
			return nil, apperr.New(apperr.InvalidVersion, fmt.Sprintf("unsupported snapshot version %d", version))
		}
		step, ok := steps[version]
		if !ok {
			return nil, apperr.New(apperr.InvalidVersion, fmt.Sprintf("no migration registered from version %d", version))
		}
		raw = step(raw)
		version++
		raw["version"] = version
	}
	return raw, nil
}

func versionOf(raw Raw) (int, error) {
	v, ok := raw["version"]
	if !ok {
		return 0, apperr.New(apperr.InvalidVersion, "snapshot has no version field")
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64: // json.Unmarshal into any decodes numbers as float64
		return int(n), nil
	default:
		return 0, apperr.New(apperr.InvalidVersion, fmt.Sprintf("snapshot version field has unexpected type %T", v))
	}
}

// upgradeV1toV2 adds an empty events_log.
func upgradeV1toV2(raw Raw) Raw {
	raw["events_log"] = Raw{
		"events":                   Raw{},
		"events_visible_by_player": Raw{},
	}
	return raw
}

// upgradeV2toV3 populates events_visible_by_player with an empty list for
// every player already present on the snapshot.
func upgradeV2toV3(raw Raw) Raw {
	log, _ := raw["events_log"].(Raw)
	if log == nil {
		log = Raw{}
	}
	visible, _ := log["events_visible_by_player"].(Raw)
	if visible == nil {
		visible = Raw{}
	}
	if players, ok := raw["players"].(Raw); ok {
		for playerID := range players {
			if _, exists := visible[playerID]; !exists {
				visible[playerID] = []any{}
			}
		}
	}
	log["events_visible_by_player"] = visible
	raw["events_log"] = log
	return raw
}

// upgradeV3toV4 backfills round on historical move events (PCLeftHex /
// PCEnteredHex, the kinds that existed before this step) to round-1: the
// field was introduced for attacks first and movement events were missing
// it.
func upgradeV3toV4(raw Raw) Raw {
	log, _ := raw["events_log"].(Raw)
	if log == nil {
		return raw
	}
	events, _ := log["events"].(Raw)
	for id, v := range events {
		ev, ok := v.(Raw)
		if !ok {
			continue
		}
		kind, _ := ev["kind"].(string)
		if kind != "PCLeftHex" && kind != "PCEnteredHex" {
			continue
		}
		if _, hasRound := ev["round"]; hasRound {
			continue
		}
		currentRound, _ := raw["round"].(float64)
		ev["round"] = currentRound - 1
		events[id] = ev
	}
	log["events"] = events
	raw["events_log"] = log
	return raw
}
