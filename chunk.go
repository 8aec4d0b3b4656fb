// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"encoding/binary"
	"fmt"
)

// HeaderOverhead is the number of bytes the chunk header occupies inside the
// symbol payload: a 4-byte sequence index followed by a 4-byte total count,
// both big-endian. There is no side channel at decode time, the header travels
// with the data it describes.
const HeaderOverhead = 8

// Chunk is one ordered partition of the input byte stream.
//
// Within one message the sequence index is unique and in [0, Total), and the
// payload length never exceeds the symbol capacity minus HeaderOverhead.
type Chunk struct {
	Payload []byte
	Index   uint32
	Total   uint32
}

// MarshalBinary prepends the header to the payload, producing the bytes that
// get rasterized into a symbol.
func (c Chunk) MarshalBinary() []byte {
	buf := make([]byte, HeaderOverhead+len(c.Payload))
	binary.BigEndian.PutUint32(buf[0:4], c.Index)
	binary.BigEndian.PutUint32(buf[4:8], c.Total)
	copy(buf[HeaderOverhead:], c.Payload)

	return buf
}

// UnmarshalChunk parses the header back out of a decoded symbol payload.
func UnmarshalChunk(data []byte) (Chunk, error) {
	if len(data) < HeaderOverhead {
		return Chunk{}, fmt.Errorf("chunk too short: %d bytes", len(data))
	}

	return Chunk{
		Index:   binary.BigEndian.Uint32(data[0:4]),
		Total:   binary.BigEndian.Uint32(data[4:8]),
		Payload: data[HeaderOverhead:],
	}, nil
}

// ChunkSeq is an ordered, finite, one-shot sequence of chunks produced by the
// planner. It is pull-based and cannot be iterated twice; payloads alias the
// original input and must not be mutated.
type ChunkSeq struct {
	data      []byte
	chunkSize int
	next      uint32
	total     uint32
}

// Plan partitions data into chunks of at most chunkSize payload bytes, each
// carrying its sequence header. Empty input still produces a single chunk of
// length 0 with a total count of 1, so that an empty message is explicitly
// representable on the wire.
func Plan(data []byte, chunkSize int) (*ChunkSeq, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk payload size %d", ErrConfiguration, chunkSize)
	}

	total := uint32((len(data) + chunkSize - 1) / chunkSize)
	if total == 0 {
		total = 1
	}

	return &ChunkSeq{
		data:      data,
		chunkSize: chunkSize,
		total:     total,
	}, nil
}

// Total returns the number of chunks the sequence yields.
func (s *ChunkSeq) Total() uint32 {
	return s.total
}

// Next returns the next chunk in order, or false once the sequence is drained.
func (s *ChunkSeq) Next() (Chunk, bool) {
	if s.next >= s.total {
		return Chunk{}, false
	}

	lo := int(s.next) * s.chunkSize
	hi := min(lo+s.chunkSize, len(s.data))

	c := Chunk{
		Index:   s.next,
		Total:   s.total,
		Payload: s.data[lo:hi],
	}

	s.next++

	return c, true
}

// NextBatch returns up to n chunks, preserving order. It returns nil once the
// sequence is drained.
func (s *ChunkSeq) NextBatch(n int) []Chunk {
	var batch []Chunk

	for len(batch) < n {
		c, ok := s.Next()
		if !ok {
			break
		}

		batch = append(batch, c)
	}

	return batch
}
