package protocol

import (
	"context"
	"errors"
	"os"
	"time"
)

// aLongTimeAgo is a non-zero time far in the past, used to unblock I/O.
var aLongTimeAgo = time.Unix(1, 0)

// InterruptOnDone arranges for setDeadline to be called with a past time once
// ctx is done, unblocking a pending read or write. The returned stop function
// detaches the watcher and must be called when the I/O completes.
func InterruptOnDone(ctx context.Context, setDeadline func(time.Time) error) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() {
		_ = setDeadline(aLongTimeAgo)
	})
}

// ContextError returns ctx.Err() when err was caused by a deadline forced by
// InterruptOnDone, and err otherwise.
func ContextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ctxErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}
