// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package rscodec renders payloads as square module-grid symbols protected by
// Reed-Solomon parity, and recovers them from frame rasters.
package rscodec

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/klauspost/reedsolomon"
	"github.com/siderolabs/gen/optional"

	"github.com/TordLoefgren/go-vidcode"
)

// Symbol geometry. A version-v symbol is a (24 + 8v)-module square: a
// 1-module black border ring used as the detection anchor around an interior
// bit grid, surrounded by a 2-module white quiet zone. The interior bitstream
// is magic, version, level, payload length, payload, zero padding, then
// Reed-Solomon parity over eight data shards.
const (
	MinVersion = 1
	MaxVersion = 8

	magic        = 0x56
	headerBytes  = 5
	quietModules = 2
	dataShards   = 8
	darkMax      = 127
)

func side(version int) int {
	return 24 + 8*version
}

func parityShards(level vidcode.Level) int {
	switch level {
	case vidcode.LevelL:
		return 2
	case vidcode.LevelM:
		return 4
	case vidcode.LevelQ:
		return 6
	case vidcode.LevelH:
		return 8
	default:
		return -1
	}
}

type geometry struct {
	side      int
	shardSize int
	parity    int
	dataBytes int
	capacity  int
}

func geometryFor(version int, level vidcode.Level) (geometry, bool) {
	parity := parityShards(level)
	if version < MinVersion || version > MaxVersion || parity < 0 {
		return geometry{}, false
	}

	s := side(version)
	interior := s - 2
	interiorBytes := interior * interior / 8
	shardSize := interiorBytes / (dataShards + parity)
	dataBytes := dataShards * shardSize

	return geometry{
		side:      s,
		shardSize: shardSize,
		parity:    parity,
		dataBytes: dataBytes,
		capacity:  dataBytes - headerBytes,
	}, true
}

var _ vidcode.Codec = (*Codec)(nil)

// Codec implements vidcode.Codec. It is safe for concurrent use: the
// Reed-Solomon encoders are constructed once and are goroutine-safe, and all
// other state is immutable after New.
type Codec struct {
	rs  map[vidcode.Level]reedsolomon.Encoder
	pps int
}

// New creates a Codec rendering each module as a pixelsPerModule-sized square.
func New(pixelsPerModule int) (*Codec, error) {
	if pixelsPerModule <= 0 {
		return nil, fmt.Errorf("%w: pixels per module should be positive: %d", vidcode.ErrConfiguration, pixelsPerModule)
	}

	rs := make(map[vidcode.Level]reedsolomon.Encoder, 4)

	for _, level := range []vidcode.Level{vidcode.LevelL, vidcode.LevelM, vidcode.LevelQ, vidcode.LevelH} {
		enc, err := reedsolomon.New(dataShards, parityShards(level))
		if err != nil {
			return nil, err
		}

		rs[level] = enc
	}

	return &Codec{pps: pixelsPerModule, rs: rs}, nil
}

// Entries implements vidcode.Codec.
func (c *Codec) Entries() []vidcode.CapacityEntry {
	var entries []vidcode.CapacityEntry

	for v := MinVersion; v <= MaxVersion; v++ {
		for _, level := range []vidcode.Level{vidcode.LevelL, vidcode.LevelM, vidcode.LevelQ, vidcode.LevelH} {
			geo, _ := geometryFor(v, level)

			entries = append(entries, vidcode.CapacityEntry{
				Version:    v,
				Level:      level,
				MaxPayload: geo.capacity,
			})
		}
	}

	return entries
}

// SymbolSize implements vidcode.Codec.
func (c *Codec) SymbolSize(version int) image.Point {
	px := (side(version) + 2*quietModules) * c.pps

	return image.Pt(px, px)
}

// Encode implements vidcode.Codec.
func (c *Codec) Encode(payload []byte, version int, level vidcode.Level) (*image.Gray, error) {
	geo, ok := geometryFor(version, level)
	if !ok {
		return nil, fmt.Errorf("%w: no geometry for version %d level %s", vidcode.ErrConfiguration, version, level)
	}

	if len(payload) > geo.capacity {
		return nil, fmt.Errorf("%w: %d bytes into a version %d level %s symbol holding %d", vidcode.ErrCapacityExceeded, len(payload), version, level, geo.capacity)
	}

	buf := make([]byte, geo.dataBytes+geo.parity*geo.shardSize)
	buf[0] = magic
	buf[1] = byte(version)
	buf[2] = byte(level)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(payload)))
	copy(buf[headerBytes:], payload)

	shards := splitShards(buf, geo)

	if err := c.rs[level].Encode(shards); err != nil {
		return nil, err
	}

	return c.render(buf, geo), nil
}

func splitShards(buf []byte, geo geometry) [][]byte {
	shards := make([][]byte, dataShards+geo.parity)

	for i := range shards {
		shards[i] = buf[i*geo.shardSize : (i+1)*geo.shardSize]
	}

	return shards
}

func (c *Codec) render(buf []byte, geo geometry) *image.Gray {
	total := geo.side + 2*quietModules
	img := image.NewGray(image.Rect(0, 0, total*c.pps, total*c.pps))

	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	setModule := func(col, row int) {
		x0 := (quietModules + col) * c.pps
		y0 := (quietModules + row) * c.pps

		for y := y0; y < y0+c.pps; y++ {
			for x := x0; x < x0+c.pps; x++ {
				img.Pix[y*img.Stride+x] = 0x00
			}
		}
	}

	for i := range geo.side {
		setModule(i, 0)
		setModule(i, geo.side-1)
		setModule(0, i)
		setModule(geo.side-1, i)
	}

	interior := geo.side - 2

	for bit := range len(buf) * 8 {
		if buf[bit/8]&(0x80>>(bit%8)) == 0 {
			continue
		}

		setModule(1+bit%interior, 1+bit/interior)
	}

	return img
}

// Detect implements vidcode.Codec. It scans the frame row-major for the
// top edge of a symbol's border ring: a dark horizontal run of a valid
// symbol width with light pixels above, confirmed by an intact ring.
// The scan order makes detection deterministic.
//
//nolint:gocognit
func (c *Codec) Detect(frame *image.Gray) []image.Rectangle {
	bounds := frame.Bounds()
	minRun := side(MinVersion) * c.pps

	var regions []image.Rectangle

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; {
			if !dark(frame, x, y) {
				x++

				continue
			}

			x0 := x
			for x < bounds.Max.X && dark(frame, x, y) {
				x++
			}

			w := x - x0
			if w < minRun || w%c.pps != 0 {
				continue
			}

			s := w / c.pps
			if s > side(MaxVersion) || (s-24)%8 != 0 {
				continue
			}

			// only the topmost ring row has light pixels above it
			if y > bounds.Min.Y && dark(frame, x0, y-1) {
				continue
			}

			rect := image.Rect(x0, y, x0+w, y+w)
			if !rect.In(bounds) || overlaps(regions, rect) {
				continue
			}

			if c.ringIntact(frame, rect, s) {
				regions = append(regions, rect)
			}
		}
	}

	return regions
}

func overlaps(regions []image.Rectangle, rect image.Rectangle) bool {
	for _, r := range regions {
		if r.Overlaps(rect) {
			return true
		}
	}

	return false
}

func (c *Codec) ringIntact(frame *image.Gray, rect image.Rectangle, side int) bool {
	at := func(col, row int) bool {
		return dark(frame, rect.Min.X+col*c.pps+c.pps/2, rect.Min.Y+row*c.pps+c.pps/2)
	}

	for i := range side {
		if !at(i, 0) || !at(i, side-1) || !at(0, i) || !at(side-1, i) {
			return false
		}
	}

	return true
}

// Decode implements vidcode.Codec. Absence of a valid symbol in the region
// is a normal outcome and is reported as an empty optional.
func (c *Codec) Decode(frame *image.Gray, region image.Rectangle) optional.Optional[[]byte] {
	none := optional.None[[]byte]()

	if !region.In(frame.Bounds()) || region.Dx() != region.Dy() || region.Dx()%c.pps != 0 {
		return none
	}

	s := region.Dx() / c.pps

	version := (s - 24) / 8
	if (s-24)%8 != 0 || version < MinVersion || version > MaxVersion {
		return none
	}

	interior := s - 2
	buf := make([]byte, interior*interior/8)

	for bit := range len(buf) * 8 {
		col, row := 1+bit%interior, 1+bit/interior

		if dark(frame, region.Min.X+col*c.pps+c.pps/2, region.Min.Y+row*c.pps+c.pps/2) {
			buf[bit/8] |= 0x80 >> (bit % 8)
		}
	}

	if buf[0] != magic || int(buf[1]) != version {
		return none
	}

	level := vidcode.Level(buf[2])

	geo, ok := geometryFor(version, level)
	if !ok {
		return none
	}

	shards := splitShards(buf[:geo.dataBytes+geo.parity*geo.shardSize], geo)

	if verified, err := c.rs[level].Verify(shards); err != nil || !verified {
		return none
	}

	length := int(binary.BigEndian.Uint16(buf[3:5]))
	if length > geo.capacity {
		return none
	}

	return optional.Some(buf[headerBytes : headerBytes+length])
}

func dark(frame *image.Gray, x, y int) bool {
	if !(image.Pt(x, y).In(frame.Bounds())) {
		return false
	}

	return frame.GrayAt(x, y).Y <= darkMax
}
