// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vidcode encodes arbitrary binary blobs into videos of visual
// symbols and reconstructs the original bytes from such videos.
package vidcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/siderolabs/gen/xslices"
	"go.uber.org/zap"
)

// Result is the outcome of one round-trip validation run.
type Result struct {
	// Value is the reconstructed byte stream, set only on success.
	Value []byte

	// Err describes the first failure of any pipeline stage, or the
	// byte-level mismatch between input and reconstruction.
	Err error

	// Session identifies the run in log output.
	Session string

	// Valid reports whether the reconstructed bytes matched the input exactly.
	Valid bool
}

// Pipeline is the symmetric encode/decode engine. It is safe for concurrent
// use by multiple goroutines; each operation runs its own worker pool.
type Pipeline struct {
	opt   Options
	table CapacityTable

	version   int
	chunkSize int
}

// New creates a Pipeline with the specified options. A codec and a container
// backend are required; everything else has defaults.
func New(opts ...Option) (*Pipeline, error) {
	opt := defaultOptions()

	for _, o := range opts {
		if err := o(&opt); err != nil {
			return nil, err
		}
	}

	if opt.Codec == nil {
		return nil, fmt.Errorf("%w: codec is required", ErrConfiguration)
	}

	if opt.Container == nil {
		return nil, fmt.Errorf("%w: container is required", ErrConfiguration)
	}

	table, err := NewCapacityTable(opt.Codec.Entries())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		opt:   opt,
		table: table,
	}

	if err := p.resolveGeometry(); err != nil {
		return nil, err
	}

	return p, nil
}

// resolveGeometry pins down the symbol version and the planner's chunk
// payload size from the options and the capacity table.
func (p *Pipeline) resolveGeometry() error {
	version := p.opt.Version

	if version == VersionAuto {
		keep := func(int) bool { return true }

		if p.opt.CanvasPolicy == CanvasFixed {
			keep = func(v int) bool {
				sz := p.opt.Codec.SymbolSize(v)

				return sz.X <= p.opt.FixedCanvas.X && sz.Y <= p.opt.FixedCanvas.Y
			}
		}

		v, ok := p.table.MaxVersion(p.opt.Level, keep)
		if !ok {
			return fmt.Errorf("%w: no symbol version fits canvas %v at level %s", ErrConfiguration, p.opt.FixedCanvas, p.opt.Level)
		}

		version = v
	}

	capacity, ok := p.table.Capacity(version, p.opt.Level)
	if !ok {
		return fmt.Errorf("%w: capacity table has no entry for version %d level %s", ErrConfiguration, version, p.opt.Level)
	}

	chunkSize := capacity - HeaderOverhead
	if p.opt.ChunkPayloadSize > 0 {
		chunkSize = min(chunkSize, p.opt.ChunkPayloadSize)
	}

	if chunkSize <= 0 {
		return fmt.Errorf("%w: version %d level %s leaves no payload capacity after the %d-byte header", ErrConfiguration, version, p.opt.Level, HeaderOverhead)
	}

	p.version = version
	p.chunkSize = chunkSize

	return nil
}

// Version returns the resolved symbol version.
func (p *Pipeline) Version() int {
	return p.version
}

// ChunkPayloadSize returns the resolved per-chunk payload size in bytes.
func (p *Pipeline) ChunkPayloadSize() int {
	return p.chunkSize
}

// Encode writes data as a symbol video at path.
func (p *Pipeline) Encode(ctx context.Context, data []byte, path string) error {
	return p.encode(ctx, p.opt.Logger, data, path)
}

// Decode reconstructs the byte stream from the symbol video at path.
func (p *Pipeline) Decode(ctx context.Context, path string) ([]byte, error) {
	return p.decode(ctx, p.opt.Logger, path)
}

// Roundtrip encodes data to path, immediately decodes it back, and compares
// the reconstruction byte-for-byte. All component failures are caught at this
// boundary and surfaced in the Result, never as an error to the caller.
func (p *Pipeline) Roundtrip(ctx context.Context, data []byte, path string) Result {
	session := uuid.NewString()
	logger := p.opt.Logger.With(zap.String("session", session))

	if err := p.encode(ctx, logger, data, path); err != nil {
		logger.Error("encode failed", zap.Error(err))

		return Result{Session: session, Err: err}
	}

	value, err := p.decode(ctx, logger, path)
	if err != nil {
		logger.Error("decode failed", zap.Error(err))

		return Result{Session: session, Err: err}
	}

	if !bytes.Equal(value, data) {
		err = fmt.Errorf("roundtrip mismatch: reconstructed %d bytes, want %d", len(value), len(data))

		logger.Error("validation failed", zap.Error(err))

		return Result{Session: session, Err: err}
	}

	logger.Info("roundtrip ok", zap.Int("bytes", len(data)))

	return Result{Session: session, Value: value, Valid: true}
}

//nolint:gocognit
func (p *Pipeline) encode(ctx context.Context, logger *zap.Logger, data []byte, path string) error {
	seq, err := Plan(data, p.chunkSize)
	if err != nil {
		return err
	}

	window := int(seq.Total())
	if p.opt.Mode == Lazy {
		// align windows to batch boundaries
		w := p.opt.Workers * p.opt.Prefetch
		window = (w + p.opt.CodesPerFrame - 1) / p.opt.CodesPerFrame * p.opt.CodesPerFrame
	}

	logger.Debug("encode planned",
		zap.Uint32("chunks", seq.Total()),
		zap.Int("chunk_payload_size", p.chunkSize),
		zap.Int("version", p.version),
		zap.Stringer("level", p.opt.Level),
	)

	var (
		writer FrameWriter
		canvas image.Point
		frames int
	)

	defer func() {
		if writer != nil {
			writer.Close() //nolint:errcheck
		}
	}()

	for {
		chunks := seq.NextBatch(window)
		if len(chunks) == 0 {
			break
		}

		rasters, err := mapOrdered(ctx, p.opt.Workers, chunks, func(_ context.Context, c Chunk) (*image.Gray, error) {
			return p.encodeChunk(c)
		})
		if err != nil {
			return err
		}

		for lo := 0; lo < len(rasters); lo += p.opt.CodesPerFrame {
			batch := rasters[lo:min(lo+p.opt.CodesPerFrame, len(rasters))]

			layout, err := p.packBatch(batch)
			if err != nil {
				return err
			}

			if writer == nil {
				// the first batch fixes the video canvas
				canvas = layout.Canvas

				writer, err = p.opt.Container.Create(path, canvas, p.opt.FramesPerSecond)
				if err != nil {
					return err
				}
			} else if layout.Canvas.X > canvas.X || layout.Canvas.Y > canvas.Y {
				return fmt.Errorf("%w: batch canvas %v exceeds video canvas %v", ErrPacking, layout.Canvas, canvas)
			}

			if err := writer.WriteFrame(renderFrame(canvas, batch, layout.Placements)); err != nil {
				return err
			}

			frames++
		}
	}

	w := writer
	writer = nil

	if err := w.Close(); err != nil {
		return err
	}

	logger.Debug("encode done", zap.Int("frames", frames), zap.Int("canvas_width", canvas.X), zap.Int("canvas_height", canvas.Y))

	return nil
}

// encodeChunk rasterizes one chunk. The capacity re-check duplicates the
// planner's invariant: a planner bug must fail loudly here instead of
// truncating data inside the codec.
func (p *Pipeline) encodeChunk(c Chunk) (*image.Gray, error) {
	if len(c.Payload) > p.chunkSize {
		return nil, fmt.Errorf("%w: chunk %d carries %d bytes, capacity is %d", ErrCapacityExceeded, c.Index, len(c.Payload), p.chunkSize)
	}

	return p.opt.Codec.Encode(c.MarshalBinary(), p.version, p.opt.Level)
}

// packBatch lays out one batch of rasters per the canvas policy. Packing runs
// synchronously: it needs the whole batch before placing anything.
func (p *Pipeline) packBatch(batch []*image.Gray) (Layout, error) {
	sizes := xslices.Map(batch, func(r *image.Gray) image.Point {
		return r.Bounds().Size()
	})

	if p.opt.CanvasPolicy == CanvasFixed {
		return Pack(sizes, p.opt.FixedCanvas)
	}

	return PackDynamic(sizes)
}

func renderFrame(canvas image.Point, rasters []*image.Gray, placements []Placement) *image.Gray {
	frame := image.NewGray(image.Rect(0, 0, canvas.X, canvas.Y))

	for i := range frame.Pix {
		frame.Pix[i] = 0xff
	}

	for _, pl := range placements {
		draw.Draw(frame, pl.Rectangle, rasters[pl.ID], rasters[pl.ID].Bounds().Min, draw.Src)
	}

	return frame
}

//nolint:gocognit
func (p *Pipeline) decode(ctx context.Context, logger *zap.Logger, path string) ([]byte, error) {
	reader, err := p.opt.Container.Open(path)
	if err != nil {
		return nil, err
	}

	defer reader.Close() //nolint:errcheck

	window := math.MaxInt
	if p.opt.Mode == Lazy {
		window = p.opt.Workers * p.opt.Prefetch
	}

	var (
		mu        sync.Mutex
		chunks    []Chunk
		shortfall int
		frames    int
	)

	for {
		batch, err := readWindow(reader, window)
		if err != nil {
			return nil, err
		}

		if len(batch) == 0 {
			break
		}

		frames += len(batch)

		err = forEach(ctx, p.opt.Workers, batch, func(_ context.Context, frame *image.Gray) error {
			decoded, miss := p.decodeFrame(frame)

			if miss > 0 {
				// not fatal yet: reassembly decides whether the lost
				// regions were recoverable elsewhere
				logger.Debug("detection shortfall", zap.Int("regions_lost", miss))
			}

			mu.Lock()
			chunks = append(chunks, decoded...)
			shortfall += miss
			mu.Unlock()

			return nil
		})
		if err != nil {
			return nil, err
		}

		if len(batch) < window {
			break
		}
	}

	if shortfall > 0 {
		logger.Warn("accumulated detection shortfall", zap.Int("regions_lost", shortfall), zap.Int("frames", frames))
	}

	logger.Debug("decode aggregated", zap.Int("frames", frames), zap.Int("chunks", len(chunks)))

	return Reassemble(chunks)
}

// decodeFrame detects and decodes every symbol region in one frame. It
// reports the number of regions that yielded nothing; absence is expected
// with imperfect detection and never an error.
func (p *Pipeline) decodeFrame(frame *image.Gray) ([]Chunk, int) {
	regions := p.opt.Codec.Detect(frame)

	var (
		decoded []Chunk
		miss    int
	)

	for _, region := range regions {
		payload, ok := p.opt.Codec.Decode(frame, region).Get()
		if !ok {
			miss++

			continue
		}

		c, err := UnmarshalChunk(payload)
		if err != nil {
			miss++

			continue
		}

		decoded = append(decoded, c)
	}

	return decoded, miss
}

func readWindow(reader FrameReader, n int) ([]*image.Gray, error) {
	var frames []*image.Gray

	for len(frames) < n {
		frame, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		frames = append(frames, frame)
	}

	return frames, nil
}
