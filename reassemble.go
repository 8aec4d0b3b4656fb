// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"bytes"
	"slices"
)

// Reassemble merges decoded chunks, in any order and with benign duplicates
// collapsed, into the original byte stream.
//
// It fails with *ReassemblyError when the chunks disagree on the total count,
// when any sequence index in [0, total) is missing, or when one index was
// observed with differing payloads. Aggregation always runs to completion
// first, so the error names every unrecoverable index at once.
func Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, &ReassemblyError{Missing: []uint32{0}}
	}

	var totals []uint32

	for _, c := range chunks {
		if !slices.Contains(totals, c.Total) {
			totals = append(totals, c.Total)
		}
	}

	if len(totals) > 1 {
		slices.Sort(totals)

		return nil, &ReassemblyError{Totals: totals}
	}

	total := totals[0]

	var ambiguous []uint32

	byIndex := make(map[uint32][]byte, total)

	for _, c := range chunks {
		prev, seen := byIndex[c.Index]
		if !seen {
			byIndex[c.Index] = c.Payload

			continue
		}

		if !bytes.Equal(prev, c.Payload) && !slices.Contains(ambiguous, c.Index) {
			ambiguous = append(ambiguous, c.Index)
		}
	}

	if len(ambiguous) > 0 {
		slices.Sort(ambiguous)

		return nil, &ReassemblyError{Ambiguous: ambiguous}
	}

	var missing []uint32

	size := 0

	for i := range total {
		payload, ok := byIndex[i]
		if !ok {
			missing = append(missing, i)

			continue
		}

		size += len(payload)
	}

	if len(missing) > 0 {
		return nil, &ReassemblyError{Missing: missing}
	}

	out := make([]byte, 0, size)

	for i := range total {
		out = append(out, byIndex[i]...)
	}

	return out, nil
}
