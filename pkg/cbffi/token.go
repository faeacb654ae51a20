package cbffi

import "context"

// CancelToken is an out-of-band cancellation flag. C callers cannot cancel
// through the void-returning Progress callback, so they create a token, pass
// its handle to long-running calls and trip it from any thread.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newCancelToken() *CancelToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel trips the token. Calls observing it stop at their next checkpoint.
func (t *CancelToken) Cancel() { t.cancel() }

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool { return t.ctx.Err() != nil }

// Close releases the token's context when its handle is released. Calls
// still bound to the token are cancelled.
func (t *CancelToken) Close() error {
	t.cancel()
	return nil
}

// bind derives a context that ends when either parent or the token ends.
func (t *CancelToken) bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if t.ctx.Err() != nil {
		// AfterFunc would cancel asynchronously.
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(t.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
