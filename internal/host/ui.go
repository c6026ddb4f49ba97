package host

import (
	"context"
)

// UI schedules work on the single UI-affine thread. Window creation and tray
// mutation must only happen inside a posted function.
type UI interface {
	Post(fn func())
}

// Call runs fn on the UI thread and waits for its result. If ctx ends first
// Call returns ctx.Err(); fn may still run later, and its result is discarded.
func Call[T any](ctx context.Context, ui UI, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	ui.Post(func() {
		v, err := fn()
		done <- result{val: v, err: err}
	})

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Do is Call for functions without a result value.
func Do(ctx context.Context, ui UI, fn func() error) error {
	_, err := Call(ctx, ui, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
