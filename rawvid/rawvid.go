// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package rawvid is a lossless video container for grayscale frame rasters:
// a fixed header followed by length-prefixed zstd-compressed frames.
package rawvid

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/TordLoefgren/go-vidcode"
)

// File layout: magic, format version, canvas width, height, frame rate, frame
// count (patched on close), then per frame a 4-byte big-endian compressed
// length and the zstd-compressed raw pixels.
const (
	magic = "RVID"

	formatVersion = 1

	headerSize       = 4 + 1 + 2 + 2 + 2 + 4
	frameCountOffset = 4 + 1 + 2 + 2 + 2

	// cap on a single compressed frame record, guards against corrupt headers
	maxFrameRecord = 64 << 20
)

var _ vidcode.Container = (*Container)(nil)

// Container implements vidcode.Container backed by plain files.
type Container struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a Container.
func New(opts ...zstd.EOption) (*Container, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, err
	}

	return &Container{enc: enc, dec: dec}, nil
}

// Create implements vidcode.Container. Frames are written as they are
// produced; nothing is buffered beyond the frame being compressed.
func (c *Container) Create(path string, canvas image.Point, framesPerSecond int) (vidcode.FrameWriter, error) {
	if canvas.X <= 0 || canvas.Y <= 0 || canvas.X > 0xffff || canvas.Y > 0xffff {
		return nil, fmt.Errorf("%w: canvas %v out of range", vidcode.ErrConfiguration, canvas)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	header[4] = formatVersion
	binary.BigEndian.PutUint16(header[5:7], uint16(canvas.X))
	binary.BigEndian.PutUint16(header[7:9], uint16(canvas.Y))
	binary.BigEndian.PutUint16(header[9:11], uint16(framesPerSecond))
	// frame count stays zero until Close

	if _, err := f.Write(header); err != nil {
		f.Close() //nolint:errcheck

		return nil, err
	}

	return &Writer{c: c, f: f, canvas: canvas}, nil
}

// Writer writes frames incrementally. It is not safe for concurrent use.
type Writer struct {
	c      *Container
	f      *os.File
	canvas image.Point
	frames uint32
	closed atomic.Bool
}

// WriteFrame implements vidcode.FrameWriter.
func (w *Writer) WriteFrame(frame *image.Gray) error {
	if w.closed.Load() {
		return vidcode.ErrClosed
	}

	size := frame.Bounds().Size()
	if size != w.canvas {
		return fmt.Errorf("frame size %v does not match canvas %v", size, w.canvas)
	}

	compressed := w.c.enc.EncodeAll(framePixels(frame), nil)

	var prefix [4]byte

	binary.BigEndian.PutUint32(prefix[:], uint32(len(compressed)))

	if _, err := w.f.Write(prefix[:]); err != nil {
		return err
	}

	if _, err := w.f.Write(compressed); err != nil {
		return err
	}

	w.frames++

	return nil
}

// Close patches the frame count into the header and closes the file.
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	var count [4]byte

	binary.BigEndian.PutUint32(count[:], w.frames)

	if _, err := w.f.WriteAt(count[:], frameCountOffset); err != nil {
		w.f.Close() //nolint:errcheck

		return err
	}

	return w.f.Close()
}

// framePixels returns the tightly packed pixel rows of frame.
func framePixels(frame *image.Gray) []byte {
	size := frame.Bounds().Size()

	if frame.Stride == size.X {
		return frame.Pix[:size.X*size.Y]
	}

	pix := make([]byte, 0, size.X*size.Y)

	for y := range size.Y {
		row := frame.Pix[y*frame.Stride:]
		pix = append(pix, row[:size.X]...)
	}

	return pix
}

// Open implements vidcode.Container.
func (c *Container) Open(path string) (vidcode.FrameReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)

	if _, err := io.ReadFull(f, header); err != nil {
		f.Close() //nolint:errcheck

		return nil, fmt.Errorf("reading container header: %w", err)
	}

	if string(header[:4]) != magic || header[4] != formatVersion {
		f.Close() //nolint:errcheck

		return nil, fmt.Errorf("not a rawvid file: %q version %d", header[:4], header[4])
	}

	return &Reader{
		c: c,
		f: f,
		canvas: image.Pt(
			int(binary.BigEndian.Uint16(header[5:7])),
			int(binary.BigEndian.Uint16(header[7:9])),
		),
		framesPerSecond: int(binary.BigEndian.Uint16(header[9:11])),
		remaining:       binary.BigEndian.Uint32(header[frameCountOffset:]),
	}, nil
}

// Reader yields frames in order. It is not safe for concurrent use.
type Reader struct {
	c               *Container
	f               *os.File
	canvas          image.Point
	framesPerSecond int
	remaining       uint32
}

// Canvas returns the frame dimensions of the container.
func (r *Reader) Canvas() image.Point {
	return r.canvas
}

// FramesPerSecond returns the container's frame rate.
func (r *Reader) FramesPerSecond() int {
	return r.framesPerSecond
}

// ReadFrame implements vidcode.FrameReader, returning io.EOF once the
// sequence is exhausted.
func (r *Reader) ReadFrame() (*image.Gray, error) {
	if r.remaining == 0 {
		return nil, io.EOF
	}

	var prefix [4]byte

	if _, err := io.ReadFull(r.f, prefix[:]); err != nil {
		return nil, fmt.Errorf("reading frame record: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameRecord {
		return nil, fmt.Errorf("frame record of %d bytes exceeds limit", length)
	}

	compressed := make([]byte, length)

	if _, err := io.ReadFull(r.f, compressed); err != nil {
		return nil, fmt.Errorf("reading frame record: %w", err)
	}

	pix, err := r.c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing frame: %w", err)
	}

	if len(pix) != r.canvas.X*r.canvas.Y {
		return nil, fmt.Errorf("frame holds %d pixels, canvas %v needs %d", len(pix), r.canvas, r.canvas.X*r.canvas.Y)
	}

	r.remaining--

	return &image.Gray{
		Pix:    pix,
		Stride: r.canvas.X,
		Rect:   image.Rect(0, 0, r.canvas.X, r.canvas.Y),
	}, nil
}

// Close implements vidcode.FrameReader.
func (r *Reader) Close() error {
	return r.f.Close()
}
