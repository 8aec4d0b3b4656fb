// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode_test

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/siderolabs/gen/xtesting/must"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/TordLoefgren/go-vidcode"
	"github.com/TordLoefgren/go-vidcode/rawvid"
	"github.com/TordLoefgren/go-vidcode/rscodec"
)

// testOptions pins version 5 at level M with a 300-byte chunk payload, the
// geometry the concrete scenarios below are written against.
func testOptions(t *testing.T, extra ...vidcode.Option) []vidcode.Option {
	t.Helper()

	options := []vidcode.Option{
		vidcode.WithCodec(must.Value(rscodec.New(2))(t)),
		vidcode.WithContainer(must.Value(rawvid.New())(t)),
		vidcode.WithLogger(zaptest.NewLogger(t)),
		vidcode.WithVersion(5),
		vidcode.WithLevel(vidcode.LevelM),
		vidcode.WithChunkPayloadSize(300),
		vidcode.WithWorkers(4),
	}

	return append(options, extra...)
}

func TestRoundtrip(t *testing.T) {
	t.Parallel()

	for _, mode := range []vidcode.Mode{vidcode.Eager, vidcode.Lazy} {
		modeName := "eager"
		if mode == vidcode.Lazy {
			modeName = "lazy"
		}

		for _, test := range []struct {
			name string

			dataLen       int
			codesPerFrame int
		}{
			{name: "empty", dataLen: 0, codesPerFrame: 1},
			{name: "single byte", dataLen: 1, codesPerFrame: 1},
			{name: "exact chunk boundary", dataLen: 600, codesPerFrame: 2},
			{name: "one over boundary", dataLen: 601, codesPerFrame: 2},
			{name: "one under boundary", dataLen: 599, codesPerFrame: 2},
			{name: "spec scenario 2", dataLen: 500, codesPerFrame: 2},
			{name: "spec scenario 3", dataLen: 10000, codesPerFrame: 4},
		} {
			t.Run(fmt.Sprintf("%s %s", modeName, test.name), func(t *testing.T) {
				t.Parallel()

				req := require.New(t)

				pipeline, err := vidcode.New(testOptions(t,
					vidcode.WithMode(mode),
					vidcode.WithCodesPerFrame(test.codesPerFrame),
					vidcode.WithPrefetch(2),
				)...)
				req.NoError(err)

				data := testPattern(test.dataLen)
				path := filepath.Join(t.TempDir(), "out.rvid")

				result := pipeline.Roundtrip(t.Context(), data, path)
				req.NoError(result.Err)
				req.True(result.Valid)
				req.NotEmpty(result.Session)
				req.Equal(data, append([]byte{}, result.Value...))
			})
		}
	}
}

func countFrames(t *testing.T, path string) int {
	t.Helper()

	container := must.Value(rawvid.New())(t)

	reader := must.Value(container.Open(path))(t)
	defer reader.Close() //nolint:errcheck

	frames := 0

	for {
		_, err := reader.ReadFrame()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)

		frames++
	}

	return frames
}

func TestEncodeFrameCounts(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		dataLen       int
		codesPerFrame int

		expectedFrames int
	}{
		{
			// scenario 1: empty input still yields one chunk and one frame
			name: "empty",

			dataLen:       0,
			codesPerFrame: 1,

			expectedFrames: 1,
		},
		{
			// scenario 2: 500 bytes at 300/chunk with 2 codes per frame
			name: "two chunks one frame",

			dataLen:       500,
			codesPerFrame: 2,

			expectedFrames: 1,
		},
		{
			// scenario 3: 34 chunks at 4 codes per frame is ceil(34/4) frames
			name: "ten thousand bytes",

			dataLen:       10000,
			codesPerFrame: 4,

			expectedFrames: 9,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			req := require.New(t)

			pipeline, err := vidcode.New(testOptions(t, vidcode.WithCodesPerFrame(test.codesPerFrame))...)
			req.NoError(err)

			path := filepath.Join(t.TempDir(), "out.rvid")

			req.NoError(pipeline.Encode(t.Context(), testPattern(test.dataLen), path))
			req.Equal(test.expectedFrames, countFrames(t, path))
		})
	}
}

func TestEncodeDeterminism(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	pipeline, err := vidcode.New(testOptions(t, vidcode.WithCodesPerFrame(3))...)
	req.NoError(err)

	data := testPattern(2500)
	dir := t.TempDir()

	first := filepath.Join(dir, "first.rvid")
	second := filepath.Join(dir, "second.rvid")

	req.NoError(pipeline.Encode(t.Context(), data, first))
	req.NoError(pipeline.Encode(t.Context(), data, second))

	firstBytes := must.Value(os.ReadFile(first))(t)
	secondBytes := must.Value(os.ReadFile(second))(t)

	req.Equal(firstBytes, secondBytes)
}

// TestMissingFrameReported blanks one frame out of the video and verifies the
// reassembly error names exactly the sequence indices that frame carried.
func TestMissingFrameReported(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	pipeline, err := vidcode.New(testOptions(t)...)
	req.NoError(err)

	// four chunks, one per frame
	data := testPattern(1000)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.rvid")

	req.NoError(pipeline.Encode(t.Context(), data, path))
	req.Equal(4, countFrames(t, path))

	blanked := filepath.Join(dir, "blanked.rvid")
	blankFrame(t, path, blanked, 2)

	_, err = pipeline.Decode(t.Context(), blanked)

	var reasmErr *vidcode.ReassemblyError

	req.ErrorAs(err, &reasmErr)
	req.Equal([]uint32{2}, reasmErr.Missing)
}

// blankFrame copies a rawvid file, replacing frame blankIdx with all-white.
func blankFrame(t *testing.T, src, dst string, blankIdx int) {
	t.Helper()

	req := require.New(t)

	container := must.Value(rawvid.New())(t)

	reader := must.Value(container.Open(src))(t).(*rawvid.Reader)
	defer reader.Close() //nolint:errcheck

	canvas := reader.Canvas()

	writer := must.Value(container.Create(dst, canvas, reader.FramesPerSecond()))(t)

	for i := 0; ; i++ {
		frame, err := reader.ReadFrame()
		if err == io.EOF {
			break
		}

		req.NoError(err)

		if i == blankIdx {
			frame = image.NewGray(image.Rect(0, 0, canvas.X, canvas.Y))
			for j := range frame.Pix {
				frame.Pix[j] = 0xff
			}
		}

		req.NoError(writer.WriteFrame(frame))
	}

	req.NoError(writer.Close())
}

func TestRoundtripReportsPackingFailure(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	codec := must.Value(rscodec.New(2))(t)

	// the canvas fits exactly one version 5 symbol, the batch wants two
	bound := codec.SymbolSize(5).X

	pipeline, err := vidcode.New(
		vidcode.WithCodec(codec),
		vidcode.WithContainer(must.Value(rawvid.New())(t)),
		vidcode.WithLogger(zaptest.NewLogger(t)),
		vidcode.WithVersion(5),
		vidcode.WithChunkPayloadSize(300),
		vidcode.WithCodesPerFrame(2),
		vidcode.WithFixedCanvas(bound, bound),
	)
	req.NoError(err)

	result := pipeline.Roundtrip(t.Context(), testPattern(500), filepath.Join(t.TempDir(), "out.rvid"))
	req.False(result.Valid)
	req.ErrorIs(result.Err, vidcode.ErrPacking)
	req.Nil(result.Value)
}

func TestDecodeMissingFile(t *testing.T) {
	t.Parallel()

	pipeline, err := vidcode.New(testOptions(t)...)
	require.NoError(t, err)

	_, err = pipeline.Decode(t.Context(), filepath.Join(t.TempDir(), "void.rvid"))
	require.Error(t, err)
}

func TestEncodeCancelled(t *testing.T) {
	t.Parallel()

	pipeline, err := vidcode.New(testOptions(t)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err = pipeline.Encode(ctx, testPattern(5000), filepath.Join(t.TempDir(), "out.rvid"))
	require.ErrorIs(t, err, context.Canceled)
}

// throttledContainer simulates a slow sink, forcing lazy-mode backpressure
// onto the encode path.
type throttledContainer struct {
	inner   vidcode.Container
	limiter *rate.Limiter
}

func (c *throttledContainer) Create(path string, canvas image.Point, fps int) (vidcode.FrameWriter, error) {
	writer, err := c.inner.Create(path, canvas, fps)
	if err != nil {
		return nil, err
	}

	return &throttledWriter{inner: writer, limiter: c.limiter}, nil
}

func (c *throttledContainer) Open(path string) (vidcode.FrameReader, error) {
	return c.inner.Open(path)
}

type throttledWriter struct {
	inner   vidcode.FrameWriter
	limiter *rate.Limiter
}

func (w *throttledWriter) WriteFrame(frame *image.Gray) error {
	if err := w.limiter.Wait(context.Background()); err != nil {
		return err
	}

	return w.inner.WriteFrame(frame)
}

func (w *throttledWriter) Close() error {
	return w.inner.Close()
}

func TestLazyRoundtripWithSlowSink(t *testing.T) {
	t.Parallel()

	req := require.New(t)

	container := &throttledContainer{
		inner:   must.Value(rawvid.New())(t),
		limiter: rate.NewLimiter(rate.Limit(500), 1),
	}

	pipeline, err := vidcode.New(
		vidcode.WithCodec(must.Value(rscodec.New(2))(t)),
		vidcode.WithContainer(container),
		vidcode.WithLogger(zaptest.NewLogger(t)),
		vidcode.WithVersion(5),
		vidcode.WithChunkPayloadSize(300),
		vidcode.WithCodesPerFrame(2),
		vidcode.WithMode(vidcode.Lazy),
		vidcode.WithWorkers(2),
		vidcode.WithPrefetch(2),
	)
	req.NoError(err)

	data := testPattern(5000)

	result := pipeline.Roundtrip(t.Context(), data, filepath.Join(t.TempDir(), "out.rvid"))
	req.True(result.Valid)
	req.Equal(data, result.Value)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
