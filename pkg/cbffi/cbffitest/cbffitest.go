package cbffitest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/logging"
)

// testWriter forwards handler output to t.Log.
type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// NewHost opens a host with debug logging routed to t.Log. mutate may adjust
// the configuration before the host is opened. The host is closed when the
// test ends.
func NewHost(t testing.TB, mutate func(*cbffi.Config), opts ...cbffi.Option) *cbffi.Host {
	t.Helper()
	cfg := cbffi.DefaultConfig()
	cfg.LogLevel = "debug"
	if mutate != nil {
		mutate(&cfg)
	}
	handler := slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug})
	opts = append([]cbffi.Option{cbffi.WithLogger(logging.New(slog.New(handler)))}, opts...)

	h, err := cbffi.Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := h.Close(); err != nil && !errors.Is(err, cbffi.ErrHostClosed) {
			t.Errorf("close host: %v", err)
		}
	})
	return h
}

// Run invokes fn on h with a background context.
func Run(h *cbffi.Host, name string, fn cbffi.CallFunc, opts ...cbffi.CallOption) cbffi.Envelope {
	return h.Invoke(context.Background(), name, fn, opts...)
}

// RequireOK fails the test unless env is a valid success, and returns its
// payload.
func RequireOK(t testing.TB, env cbffi.Envelope) []byte {
	t.Helper()
	require.True(t, env.Valid(), "envelope is malformed")
	require.True(t, env.OK(), "call failed: %s", env.Message())
	return env.Payload()
}

// RequireCode fails the test unless env is a valid failure with code.
func RequireCode(t testing.TB, env cbffi.Envelope, code cbffi.Code) {
	t.Helper()
	require.True(t, env.Valid(), "envelope is malformed")
	require.False(t, env.OK(), "call succeeded, want %s", code)
	require.Equal(t, code, env.Code(), "error: %s", env.Message())
	require.Empty(t, env.Payload())
	require.Equal(t, cbffi.NoHandle, env.Handle())
}

// Recorder is a progress sink that remembers every value it receives.
type Recorder struct {
	mu      sync.Mutex
	values  []int64
	stopAt  int
	stopped bool
}

// NewRecorder returns a sink that never cancels.
func NewRecorder() *Recorder { return &Recorder{} }

// CancelAfter returns a sink that asks the call to stop on its n-th report.
func CancelAfter(n int) *Recorder { return &Recorder{stopAt: n} }

func (r *Recorder) Notify(n int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, n)
	if r.stopAt > 0 && len(r.values) >= r.stopAt {
		r.stopped = true
		return false
	}
	return true
}

// Values returns a copy of the values received so far.
func (r *Recorder) Values() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.values...)
}

// Last returns the most recent value, or -1 if nothing was reported.
func (r *Recorder) Last() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return -1
	}
	return r.values[len(r.values)-1]
}

// Stopped reports whether the recorder has asked for cancellation.
func (r *Recorder) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// RequireMonotonic fails the test if any value is lower than its predecessor.
func (r *Recorder) RequireMonotonic(t testing.TB) {
	t.Helper()
	vals := r.Values()
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			t.Fatalf("progress went backwards at %d: %d after %d", i, vals[i], vals[i-1])
		}
	}
}
