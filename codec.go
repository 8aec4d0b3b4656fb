// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"image"

	"github.com/siderolabs/gen/optional"
)

// Codec rasterizes chunk payloads into visual symbols and recovers them from
// frame rasters. Implementations must be safe for concurrent use by multiple
// goroutines and deterministic: identical payload and parameters produce an
// identical raster.
type Codec interface {
	// Entries enumerates the (version, level) capacity geometry the codec
	// supports, used to construct the capacity table.
	Entries() []CapacityEntry

	// Encode renders payload as a symbol raster, quiet zone included.
	// It fails when the payload exceeds the capacity of (version, level).
	Encode(payload []byte, version int, level Level) (*image.Gray, error)

	// SymbolSize reports the raster dimensions Encode produces for a version.
	SymbolSize(version int) image.Point

	// Detect scans a frame raster and returns the regions that plausibly
	// contain one symbol each. Finding nothing is not an error.
	Detect(frame *image.Gray) []image.Rectangle

	// Decode recovers the payload from one detected region. Absence of a
	// valid symbol is a normal outcome given imperfect detection and is
	// reported as an empty optional, never as an error.
	Decode(frame *image.Gray, region image.Rectangle) optional.Optional[[]byte]
}

// FrameWriter persists frames one at a time, in order, allowing frames to be
// written as they are produced rather than buffered first.
type FrameWriter interface {
	WriteFrame(frame *image.Gray) error
	Close() error
}

// FrameReader yields frames one at a time, in order, returning io.EOF once
// the sequence is exhausted.
type FrameReader interface {
	ReadFrame() (*image.Gray, error)
	Close() error
}

// Container abstracts the video container backend used to persist and reload
// frame sequences.
type Container interface {
	Create(path string, canvas image.Point, framesPerSecond int) (FrameWriter, error)
	Open(path string) (FrameReader, error)
}
