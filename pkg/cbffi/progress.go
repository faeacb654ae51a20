package cbffi

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Progress receives counters from a running boundary call. Notify runs
// synchronously on the callee's goroutine and must return quickly; returning
// false asks the callee to stop at its next checkpoint.
type Progress interface {
	Notify(n int64) bool
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(n int64) bool

// Notify calls f(n).
func (f ProgressFunc) Notify(n int64) bool { return f(n) }

// Reporter is the callee's side of the progress channel for one call. It
// guarantees that delivered values never decrease, limits how often the sink
// is invoked, and turns cancellation into ErrCancelled at checkpoints.
//
// A Reporter belongs to a single call and is not safe for concurrent use.
// Cancellation is cooperative: a callee that never reports or checkpoints can
// run unbounded.
type Reporter struct {
	ctx      context.Context
	sink     Progress
	clock    clock.Clock
	interval time.Duration

	high      int64 // highest value seen
	delivered int64 // highest value handed to sink
	sent      bool
	lastAt    time.Time
	stopped   bool
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithReporterClock replaces the wall clock used for throttling.
func WithReporterClock(c clock.Clock) ReporterOption {
	return func(r *Reporter) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithReportInterval delivers at most one report per d. Zero delivers every
// report.
func WithReportInterval(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReporter returns a Reporter delivering to sink. A nil sink disables
// delivery but cancellation through ctx still works.
func NewReporter(ctx context.Context, sink Progress, opts ...ReporterOption) *Reporter {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Reporter{ctx: ctx, sink: sink, clock: clock.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report records progress n and delivers it when the throttle allows. Values
// lower than an earlier report are raised to the earlier value.
func (r *Reporter) Report(n int64) error {
	if err := r.Checkpoint(); err != nil {
		return err
	}
	if n < r.high {
		n = r.high
	}
	r.high = n
	if r.sink == nil {
		return nil
	}
	now := r.clock.Now()
	if r.sent && r.interval > 0 && now.Sub(r.lastAt) < r.interval {
		return nil
	}
	return r.deliver(n, now)
}

// Checkpoint reports ErrCancelled once the call's context is done or the sink
// has asked to stop.
func (r *Reporter) Checkpoint() error {
	if r.stopped {
		return Errorf(Cancelled, "cancelled by progress callback")
	}
	if err := r.ctx.Err(); err != nil {
		return Errorf(Cancelled, "call cancelled", err)
	}
	return nil
}

// Flush delivers the latest value held back by the throttle. Hosts call it
// before building the envelope so the final count always reaches the caller.
func (r *Reporter) Flush() error {
	if r.sink != nil && !r.stopped && r.high > r.delivered {
		if err := r.deliver(r.high, r.clock.Now()); err != nil {
			return err
		}
	}
	return r.Checkpoint()
}

// Last returns the highest value delivered to the sink.
func (r *Reporter) Last() int64 { return r.delivered }

func (r *Reporter) deliver(n int64, now time.Time) error {
	r.delivered = n
	r.sent = true
	r.lastAt = now
	if !r.sink.Notify(n) {
		r.stopped = true
		return Errorf(Cancelled, "cancelled by progress callback")
	}
	return nil
}
