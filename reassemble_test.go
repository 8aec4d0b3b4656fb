// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TordLoefgren/go-vidcode"
)

func chunkOf(index, total uint32, payload string) vidcode.Chunk {
	return vidcode.Chunk{Index: index, Total: total, Payload: []byte(payload)}
}

func TestReassemble(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		chunks []vidcode.Chunk

		expected          string
		expectedMissing   []uint32
		expectedAmbiguous []uint32
		expectedTotals    []uint32
	}{
		{
			name: "in order",

			chunks: []vidcode.Chunk{
				chunkOf(0, 3, "foo"),
				chunkOf(1, 3, "bar"),
				chunkOf(2, 3, "ba"),
			},

			expected: "foobarba",
		},
		{
			name: "out of order",

			chunks: []vidcode.Chunk{
				chunkOf(2, 3, "ba"),
				chunkOf(0, 3, "foo"),
				chunkOf(1, 3, "bar"),
			},

			expected: "foobarba",
		},
		{
			name: "benign duplicate",

			chunks: []vidcode.Chunk{
				chunkOf(0, 2, "foo"),
				chunkOf(1, 2, "bar"),
				chunkOf(1, 2, "bar"),
			},

			expected: "foobar",
		},
		{
			name: "empty message marker",

			chunks: []vidcode.Chunk{
				chunkOf(0, 1, ""),
			},

			expected: "",
		},
		{
			name: "one missing",

			chunks: []vidcode.Chunk{
				chunkOf(0, 3, "foo"),
				chunkOf(2, 3, "ba"),
			},

			expectedMissing: []uint32{1},
		},
		{
			name: "several missing",

			chunks: []vidcode.Chunk{
				chunkOf(1, 4, "bar"),
			},

			expectedMissing: []uint32{0, 2, 3},
		},
		{
			name: "ambiguous duplicate",

			chunks: []vidcode.Chunk{
				chunkOf(0, 2, "foo"),
				chunkOf(1, 2, "bar"),
				chunkOf(1, 2, "baz"),
			},

			expectedAmbiguous: []uint32{1},
		},
		{
			name: "inconsistent total count",

			chunks: []vidcode.Chunk{
				chunkOf(0, 2, "foo"),
				chunkOf(1, 3, "bar"),
			},

			expectedTotals: []uint32{2, 3},
		},
		{
			name: "no chunks at all",

			expectedMissing: []uint32{0},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			req := require.New(t)

			data, err := vidcode.Reassemble(test.chunks)

			if test.expectedMissing == nil && test.expectedAmbiguous == nil && test.expectedTotals == nil {
				req.NoError(err)
				req.Equal(test.expected, string(data))

				return
			}

			var reasmErr *vidcode.ReassemblyError

			req.ErrorAs(err, &reasmErr)
			req.Equal(test.expectedMissing, reasmErr.Missing)
			req.Equal(test.expectedAmbiguous, reasmErr.Ambiguous)
			req.Equal(test.expectedTotals, reasmErr.Totals)
		})
	}
}
