// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"fmt"
	"slices"
)

// Level selects the error-correction strength of a symbol. Higher levels
// trade payload capacity for redundancy.
type Level int

// Error-correction levels, from least to most redundant.
const (
	LevelL Level = iota
	LevelM
	LevelQ
	LevelH
)

func (l Level) String() string {
	switch l {
	case LevelL:
		return "L"
	case LevelM:
		return "M"
	case LevelQ:
		return "Q"
	case LevelH:
		return "H"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// CapacityEntry maps one (version, level) pair to the maximum payload bytes a
// single symbol can carry at those parameters.
type CapacityEntry struct {
	Version    int
	Level      Level
	MaxPayload int
}

// CapacityTable is an immutable lookup from (version, level) to maximum symbol
// payload bytes. It is constructed once per configuration from the codec's
// geometry and shared read-only by every component that needs it.
type CapacityTable struct {
	entries []CapacityEntry
}

// NewCapacityTable builds a table from the given entries. Entries with
// non-positive capacity are rejected.
func NewCapacityTable(entries []CapacityEntry) (CapacityTable, error) {
	for _, e := range entries {
		if e.MaxPayload <= 0 {
			return CapacityTable{}, fmt.Errorf("%w: capacity for version %d level %s is %d", ErrConfiguration, e.Version, e.Level, e.MaxPayload)
		}
	}

	return CapacityTable{entries: slices.Clone(entries)}, nil
}

// Capacity returns the maximum symbol payload bytes for (version, level).
func (t CapacityTable) Capacity(version int, level Level) (int, bool) {
	for _, e := range t.entries {
		if e.Version == version && e.Level == level {
			return e.MaxPayload, true
		}
	}

	return 0, false
}

// MaxVersion returns the version with the largest capacity at the given level
// among versions whose symbol payload passes the keep predicate (nil keeps all).
// It returns false when no version qualifies.
func (t CapacityTable) MaxVersion(level Level, keep func(version int) bool) (int, bool) {
	best, bestCap := 0, -1

	for _, e := range t.entries {
		if e.Level != level {
			continue
		}

		if keep != nil && !keep(e.Version) {
			continue
		}

		if e.MaxPayload > bestCap {
			best, bestCap = e.Version, e.MaxPayload
		}
	}

	return best, bestCap >= 0
}
