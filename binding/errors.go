package binding

import (
	"context"
	"errors"
	"fmt"
)

// Cancellation causes. They wrap context.Canceled so a request canceled for
// any of them is recognised as a clean cancellation.
var (
	ErrSuperseded = fmt.Errorf("binding: superseded by a newer submit: %w", context.Canceled)
	ErrAborted    = fmt.Errorf("binding: aborted: %w", context.Canceled)
	ErrDisposed   = fmt.Errorf("binding: disposed: %w", context.Canceled)
)

// ErrNoData is the exception for a 2xx response without errors that has no
// data object.
var ErrNoData = errors.New("binding: response has no data")

// canceled reports whether ctx ended through cancellation rather than a
// deadline, whatever cause the canceler gave.
func canceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
