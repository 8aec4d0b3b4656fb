// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"fmt"
	"image"
	"runtime"

	"go.uber.org/zap"
)

// Mode selects how pipeline stages evaluate their inputs.
type Mode int

const (
	// Eager materializes the whole stage output before the next stage begins.
	Eager Mode = iota

	// Lazy streams items through the worker pool in bounded windows of
	// (workers x prefetch), bounding peak memory for large inputs.
	Lazy
)

// VersionAuto asks the pipeline to pick the largest symbol version that fits
// the canvas constraint at the configured level.
const VersionAuto = 0

// Options defines settings for Pipeline.
type Options struct {
	Codec     Codec
	Container Container

	Logger *zap.Logger

	FixedCanvas image.Point

	Version          int
	Level            Level
	CodesPerFrame    int
	FramesPerSecond  int
	CanvasPolicy     CanvasPolicy
	Mode             Mode
	Workers          int
	Prefetch         int
	ChunkPayloadSize int
}

// defaultOptions returns default initial values.
func defaultOptions() Options {
	return Options{
		Version:         VersionAuto,
		Level:           LevelM,
		CodesPerFrame:   1,
		FramesPerSecond: 24,
		CanvasPolicy:    CanvasDynamic,
		Mode:            Eager,
		Workers:         runtime.GOMAXPROCS(0),
		Prefetch:        4,
		Logger:          zap.NewNop(),
	}
}

// Option allows setting Pipeline options.
type Option func(*Options) error

// WithCodec sets the symbol rasterization backend. Required.
func WithCodec(codec Codec) Option {
	return func(opt *Options) error {
		if codec == nil {
			return fmt.Errorf("%w: codec must not be nil", ErrConfiguration)
		}

		opt.Codec = codec

		return nil
	}
}

// WithContainer sets the video container backend. Required.
func WithContainer(container Container) Option {
	return func(opt *Options) error {
		if container == nil {
			return fmt.Errorf("%w: container must not be nil", ErrConfiguration)
		}

		opt.Container = container

		return nil
	}
}

// WithVersion fixes the symbol version, or selects the largest fitting one
// when set to VersionAuto.
func WithVersion(version int) Option {
	return func(opt *Options) error {
		if version < 0 {
			return fmt.Errorf("%w: version should be non-negative: %d", ErrConfiguration, version)
		}

		opt.Version = version

		return nil
	}
}

// WithLevel sets the symbol error-correction level.
func WithLevel(level Level) Option {
	return func(opt *Options) error {
		if level < LevelL || level > LevelH {
			return fmt.Errorf("%w: unknown level %d", ErrConfiguration, int(level))
		}

		opt.Level = level

		return nil
	}
}

// WithCodesPerFrame sets how many symbols share one frame canvas.
func WithCodesPerFrame(n int) Option {
	return func(opt *Options) error {
		if n <= 0 {
			return fmt.Errorf("%w: codes per frame should be positive: %d", ErrConfiguration, n)
		}

		opt.CodesPerFrame = n

		return nil
	}
}

// WithFramesPerSecond sets the video frame rate.
func WithFramesPerSecond(fps int) Option {
	return func(opt *Options) error {
		if fps <= 0 {
			return fmt.Errorf("%w: frame rate should be positive: %d", ErrConfiguration, fps)
		}

		opt.FramesPerSecond = fps

		return nil
	}
}

// WithFixedCanvas switches to the fixed canvas policy with the given bounds.
// A batch that cannot be packed into the bounds fails with ErrPacking.
func WithFixedCanvas(width, height int) Option {
	return func(opt *Options) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("%w: canvas bounds should be positive: %dx%d", ErrConfiguration, width, height)
		}

		opt.CanvasPolicy = CanvasFixed
		opt.FixedCanvas = image.Pt(width, height)

		return nil
	}
}

// WithDynamicCanvas switches to the dynamic canvas policy: each batch's canvas
// grows to the minimal bound that fits its symbols.
func WithDynamicCanvas() Option {
	return func(opt *Options) error {
		opt.CanvasPolicy = CanvasDynamic
		opt.FixedCanvas = image.Point{}

		return nil
	}
}

// WithMode sets the evaluation mode.
func WithMode(mode Mode) Option {
	return func(opt *Options) error {
		if mode != Eager && mode != Lazy {
			return fmt.Errorf("%w: unknown evaluation mode %d", ErrConfiguration, int(mode))
		}

		opt.Mode = mode

		return nil
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(opt *Options) error {
		if n <= 0 {
			return fmt.Errorf("%w: pool size should be positive: %d", ErrConfiguration, n)
		}

		opt.Workers = n

		return nil
	}
}

// WithPrefetch sets the per-worker prefetch factor. In lazy mode at most
// (workers x prefetch) chunks or frames are in flight at once.
func WithPrefetch(n int) Option {
	return func(opt *Options) error {
		if n <= 0 {
			return fmt.Errorf("%w: prefetch factor should be positive: %d", ErrConfiguration, n)
		}

		opt.Prefetch = n

		return nil
	}
}

// WithChunkPayloadSize clamps the planner's per-chunk payload below the symbol
// capacity. Zero (the default) uses the full capacity.
func WithChunkPayloadSize(n int) Option {
	return func(opt *Options) error {
		if n < 0 {
			return fmt.Errorf("%w: chunk payload size should be non-negative: %d", ErrConfiguration, n)
		}

		opt.ChunkPayloadSize = n

		return nil
	}
}

// WithLogger sets logger for Pipeline.
func WithLogger(logger *zap.Logger) Option {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}
