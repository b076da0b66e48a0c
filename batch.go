package txman

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Sequence runs ops one after another inside a single transaction and
// returns their results in operation order. The first failure stops the
// sequence and rolls the whole transaction back; later operations never
// run.
func Sequence[T any](ctx context.Context, m *Manager, ops []func(context.Context) (T, error), opts *Options) ([]T, error) {
	results := make([]T, 0, len(ops))
	err := m.Run(ctx, func(ctx context.Context) error {
		// A retry re-runs the whole sequence; earlier attempts must not
		// leak partial results.
		results = results[:0]
		for _, op := range ops {
			v, err := op(ctx)
			if err != nil {
				return err
			}
			results = append(results, v)
		}
		return nil
	}, opts)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Parallel dispatches all ops concurrently inside one shared
// transaction and waits for every result. Every op observes the same
// transaction record through its context. The underlying handle is
// shared, not duplicated, so the driver must tolerate concurrent use of
// a single transaction for the ops to issue statements concurrently.
func Parallel[T any](ctx context.Context, m *Manager, ops []func(context.Context) (T, error), opts *Options) ([]T, error) {
	results := make([]T, len(ops))
	err := m.Run(ctx, func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		for i, op := range ops {
			i, op := i, op
			g.Go(func() error {
				v, err := op(ctx)
				if err != nil {
					return err
				}
				results[i] = v
				return nil
			})
		}
		return g.Wait()
	}, opts)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Conditional evaluates pred and only enters a transaction when it
// reports true. When the predicate is false the operation never runs,
// no transaction is opened, and Conditional returns the zero value with
// executed == false. A skipped operation is not an error.
func Conditional[T any](ctx context.Context, m *Manager, pred func(context.Context) (bool, error), op func(context.Context) (T, error), opts *Options) (result T, executed bool, err error) {
	ok, err := pred(ctx)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	v, err := RunValue(ctx, m, op, opts)
	return v, true, err
}
