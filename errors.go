// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when the pipeline is constructed or invoked
	// with an invalid combination of options.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCapacityExceeded is returned when a chunk payload does not fit the
	// symbol capacity of the active (version, level) pair.
	//
	// The planner never produces such chunks, the check exists so that a
	// planner bug can't silently corrupt data.
	ErrCapacityExceeded = errors.New("chunk payload exceeds symbol capacity")

	// ErrPacking is returned when a batch of symbols cannot be laid out
	// within the fixed canvas bounds.
	ErrPacking = errors.New("batch does not fit canvas")

	// ErrClosed is returned on writes to a closed frame writer.
	ErrClosed = errors.New("closed")
)

// ReassemblyError describes why decoded chunks could not be folded back into
// the original byte stream. It is produced only after all frames have been
// aggregated, so transient per-frame detection shortfalls escalate to an error
// only when specific sequence indices turn out to be unrecoverable.
type ReassemblyError struct {
	// Totals holds the distinct total-count values observed, if more than one.
	Totals []uint32
	// Missing holds sequence indices never observed.
	Missing []uint32
	// Ambiguous holds sequence indices observed more than once with differing payloads.
	Ambiguous []uint32
}

func (e *ReassemblyError) Error() string {
	switch {
	case len(e.Totals) > 1:
		return fmt.Sprintf("reassembly: inconsistent total count %v", e.Totals)
	case len(e.Ambiguous) > 0:
		return fmt.Sprintf("reassembly: ambiguous duplicate %v", e.Ambiguous)
	default:
		return fmt.Sprintf("reassembly: missing %v", e.Missing)
	}
}
