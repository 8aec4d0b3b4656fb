// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"fmt"
	"image"
	"math"
)

// CanvasPolicy selects how the frame canvas is sized.
type CanvasPolicy int

const (
	// CanvasDynamic grows the canvas to the minimal bound that fits each
	// batch. Dynamic packing cannot fail.
	CanvasDynamic CanvasPolicy = iota

	// CanvasFixed packs into caller-provided bounds and fails with ErrPacking
	// when a batch does not fit.
	CanvasFixed
)

// Placement positions one symbol raster within a frame canvas. ID is the
// symbol's index within its batch, in submission order.
type Placement struct {
	image.Rectangle

	ID int
}

// Layout is a non-overlapping arrangement of one batch's symbols on a canvas.
// Placements are kept in submission order.
type Layout struct {
	Placements []Placement
	Canvas     image.Point
}

type shelf struct {
	y, height, x int
}

// Pack computes a shelf best-fit layout for the given item sizes within the
// given bounds. Items are processed in submission order and a tie between
// shelves is broken towards the earliest one, so identical inputs always
// produce identical layouts.
func Pack(sizes []image.Point, bounds image.Point) (Layout, error) {
	layout, _, err := packShelves(sizes, bounds.X, bounds.Y)
	if err != nil {
		return Layout{}, err
	}

	layout.Canvas = bounds

	return layout, nil
}

// PackDynamic computes a shelf best-fit layout on a canvas grown to the
// minimal bound that fits all items: the canvas width is the larger of the
// widest item and the side of a square holding the total item area, the
// height is whatever the shelves then occupy. Both dimensions are rounded up
// to even pixel counts for the video encoder's sake.
func PackDynamic(sizes []image.Point) (Layout, error) {
	var (
		maxW int
		area int
	)

	for _, sz := range sizes {
		maxW = max(maxW, sz.X)
		area += sz.X * sz.Y
	}

	width := max(maxW, int(math.Ceil(math.Sqrt(float64(area)))))

	layout, height, err := packShelves(sizes, width, math.MaxInt)
	if err != nil {
		// unreachable: an unbounded-height canvas fits everything
		return Layout{}, err
	}

	layout.Canvas = image.Pt(evenUp(width), evenUp(height))

	return layout, nil
}

func packShelves(sizes []image.Point, width, height int) (Layout, int, error) {
	layout := Layout{Placements: make([]Placement, 0, len(sizes))}

	var (
		shelves []shelf
		nextY   int
	)

	for i, sz := range sizes {
		if sz.X <= 0 || sz.Y <= 0 {
			return Layout{}, 0, fmt.Errorf("%w: item %d has size %dx%d", ErrPacking, i, sz.X, sz.Y)
		}

		best, bestLeft := -1, math.MaxInt

		for j, sh := range shelves {
			if sz.Y <= sh.height && sh.x+sz.X <= width {
				if left := sh.height - sz.Y; left < bestLeft {
					best, bestLeft = j, left
				}
			}
		}

		if best == -1 {
			if sz.X > width || nextY+sz.Y > height {
				return Layout{}, 0, fmt.Errorf("%w: item %d (%dx%d) at shelf offset %d within %dx%d", ErrPacking, i, sz.X, sz.Y, nextY, width, height)
			}

			shelves = append(shelves, shelf{y: nextY, height: sz.Y})
			nextY += sz.Y
			best = len(shelves) - 1
		}

		sh := &shelves[best]

		layout.Placements = append(layout.Placements, Placement{
			ID:        i,
			Rectangle: image.Rect(sh.x, sh.y, sh.x+sz.X, sh.y+sz.Y),
		})

		sh.x += sz.X
	}

	return layout, nextY, nil
}

func evenUp(v int) int {
	return v + v%2
}
