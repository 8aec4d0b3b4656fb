// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vidcode

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// mapOrdered runs fn over every item with at most workers goroutines and
// returns the results in submission order. The first error cancels the
// remaining tasks and is returned after all running tasks finish, so no
// partial result is ever observed downstream.
func mapOrdered[In, Out any](ctx context.Context, workers int, in []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(in))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range in {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			v, err := fn(ctx, item)
			if err != nil {
				return err
			}

			out[i] = v

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// forEach runs fn over every item with at most workers goroutines, discarding
// any ordering. fn is responsible for synchronizing its own side effects.
func forEach[In any](ctx context.Context, workers int, in []In, fn func(context.Context, In) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range in {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return fn(ctx, item)
		})
	}

	return g.Wait()
}
