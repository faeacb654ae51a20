package cbffi

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi/logging"
)

type resource struct {
	mu     sync.Mutex
	closed int
}

func (r *resource) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *resource) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func newTestHost(t *testing.T, mutate func(*Config), opts ...Option) (*Host, *bytes.Buffer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	if mutate != nil {
		mutate(&cfg)
	}
	var buf bytes.Buffer
	ring := logging.NewRing(64)
	handler := ring.Wrap(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append([]Option{WithLogger(logging.New(slog.New(handler)))}, opts...)
	h, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, &buf
}

func TestInvokeSuccess(t *testing.T) {
	h, _ := newTestHost(t, nil)

	env := h.Invoke(context.Background(), "echo", func(c *Call) (any, error) {
		assert.NotEmpty(t, c.ID())
		assert.Equal(t, "echo", c.Name())
		return []byte("pong"), nil
	})
	require.True(t, env.Valid())
	require.True(t, env.OK())
	assert.Equal(t, []byte("pong"), env.Payload())
	assert.Equal(t, NoHandle, env.Handle())
}

func TestInvokeCallIDsDiffer(t *testing.T) {
	h, _ := newTestHost(t, nil)
	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		h.Invoke(context.Background(), "id", func(c *Call) (any, error) {
			ids[c.ID()] = true
			return nil, nil
		})
	}
	assert.Len(t, ids, 5)
}

func TestInvokeRegistersHandle(t *testing.T) {
	h, _ := newTestHost(t, nil)
	res := &resource{}

	env := h.Invoke(context.Background(), "open", func(c *Call) (any, error) {
		_, err := c.Register(res)
		return nil, err
	})
	require.True(t, env.OK())
	require.True(t, env.Handle().Valid())
	assert.Empty(t, env.Payload())

	got, err := Resolve[*resource](h.Handles(), env.Handle())
	require.NoError(t, err)
	assert.Same(t, res, got)

	require.NoError(t, h.Release(env.Handle()))
	assert.Equal(t, 1, res.closeCount())

	err = h.Release(env.Handle())
	assert.Equal(t, NotFound, CodeOf(err))
	assert.Equal(t, 1, res.closeCount())
}

func TestInvokeSecondRegisterFails(t *testing.T) {
	h, _ := newTestHost(t, nil)
	first, second := &resource{}, &resource{}

	env := h.Invoke(context.Background(), "greedy", func(c *Call) (any, error) {
		if _, err := c.Register(first); err != nil {
			return nil, err
		}
		_, err := c.Register(second)
		return nil, err
	})
	require.True(t, env.Valid())
	assert.Equal(t, Internal, env.Code())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 0, h.Handles().Len())
}

func TestInvokeFailureReleasesHandle(t *testing.T) {
	h, _ := newTestHost(t, nil)
	res := &resource{}

	env := h.Invoke(context.Background(), "broken", func(c *Call) (any, error) {
		if _, err := c.Register(res); err != nil {
			return nil, err
		}
		return nil, Errorf(InvalidArgument, "bad input")
	})
	require.True(t, env.Valid())
	assert.Equal(t, InvalidArgument, env.Code())
	assert.Equal(t, NoHandle, env.Handle())
	assert.Empty(t, env.Payload())
	assert.Equal(t, 0, h.Handles().Len())
	assert.Equal(t, 1, res.closeCount())
	assert.Contains(t, env.Message(), `"op":"broken"`)
}

func TestInvokeReturnExistingHandleSurvivesFailure(t *testing.T) {
	h, _ := newTestHost(t, nil)
	res := &resource{}
	handle, err := h.Handles().Register(res)
	require.NoError(t, err)

	env := h.Invoke(context.Background(), "refer", func(c *Call) (any, error) {
		if err := c.Return(handle); err != nil {
			return nil, err
		}
		return nil, errors.New("late failure")
	})
	assert.Equal(t, Internal, env.Code())

	_, err = h.Handles().Resolve(handle)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.closeCount())
}

func TestInvokePanicBecomesInternal(t *testing.T) {
	h, buf := newTestHost(t, nil)
	res := &resource{}

	var env Envelope
	require.NotPanics(t, func() {
		env = h.Invoke(context.Background(), "panicky", func(c *Call) (any, error) {
			if _, err := c.Register(res); err != nil {
				return nil, err
			}
			panic("kaboom")
		})
	})
	require.True(t, env.Valid())
	assert.Equal(t, Internal, env.Code())
	assert.Contains(t, env.Message(), "kaboom")
	assert.Equal(t, 0, h.Handles().Len())
	assert.Equal(t, 1, res.closeCount())
	assert.Contains(t, buf.String(), "call panicked")
}

func TestInvokeCancelOnFirstReport(t *testing.T) {
	h, _ := newTestHost(t, nil)
	calls := 0
	sink := ProgressFunc(func(int64) bool {
		calls++
		return false
	})

	reached := false
	env := h.Invoke(context.Background(), "work", func(c *Call) (any, error) {
		for i := int64(1); i <= 10; i++ {
			if err := c.Progress().Report(i); err != nil {
				return nil, err
			}
			reached = true
		}
		return []byte("done"), nil
	}, WithProgress(sink))

	require.True(t, env.Valid())
	assert.Equal(t, Cancelled, env.Code())
	assert.Empty(t, env.Payload())
	assert.Equal(t, 1, calls)
	assert.False(t, reached)
}

func TestInvokeCancelDuringFlush(t *testing.T) {
	mock := clock.NewMock()
	h, _ := newTestHost(t, func(c *Config) { c.ProgressInterval = time.Second }, WithClock(mock))

	var seen []int64
	sink := ProgressFunc(func(n int64) bool {
		seen = append(seen, n)
		return n < 5
	})
	env := h.Invoke(context.Background(), "throttled", func(c *Call) (any, error) {
		for i := int64(1); i <= 5; i++ {
			if err := c.Progress().Report(i); err != nil {
				return nil, err
			}
		}
		return []byte("done"), nil
	}, WithProgress(sink))

	assert.Equal(t, []int64{1, 5}, seen)
	assert.Equal(t, Cancelled, env.Code())
}

func TestInvokeFlushDeliversFinalValue(t *testing.T) {
	mock := clock.NewMock()
	h, _ := newTestHost(t, func(c *Config) { c.ProgressInterval = time.Minute }, WithClock(mock))

	var seen []int64
	env := h.Invoke(context.Background(), "throttled", func(c *Call) (any, error) {
		for i := int64(1); i <= 100; i++ {
			if err := c.Progress().Report(i); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, WithProgress(ProgressFunc(func(n int64) bool {
		seen = append(seen, n)
		return true
	})))

	require.True(t, env.OK())
	assert.Equal(t, []int64{1, 100}, seen)
}

func TestInvokeCancelToken(t *testing.T) {
	h, _ := newTestHost(t, nil)
	token, err := h.NewCancelToken()
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan Envelope, 1)
	go func() {
		done <- h.Invoke(context.Background(), "spin", func(c *Call) (any, error) {
			close(started)
			for i := int64(0); ; i++ {
				if err := c.Progress().Report(i); err != nil {
					return nil, err
				}
				time.Sleep(time.Millisecond)
			}
		}, WithCancelToken(token))
	}()

	<-started
	require.NoError(t, h.Cancel(token))

	select {
	case env := <-done:
		require.True(t, env.Valid())
		assert.Equal(t, Cancelled, env.Code())
	case <-time.After(5 * time.Second):
		t.Fatal("call did not observe cancellation")
	}

	require.NoError(t, h.Release(token))
	assert.Equal(t, NotFound, CodeOf(h.Cancel(token)))
}

func TestInvokeUnknownCancelToken(t *testing.T) {
	h, _ := newTestHost(t, nil)
	ran := false
	env := h.Invoke(context.Background(), "never", func(c *Call) (any, error) {
		ran = true
		return nil, nil
	}, WithCancelToken(42))
	assert.Equal(t, NotFound, env.Code())
	assert.False(t, ran)

	other, err := h.Handles().Register("not a token")
	require.NoError(t, err)
	env = h.Invoke(context.Background(), "never", func(c *Call) (any, error) {
		ran = true
		return nil, nil
	}, WithCancelToken(other))
	assert.Equal(t, InvalidArgument, env.Code())
	assert.False(t, ran)
}

func TestInvokeContextCancelled(t *testing.T) {
	h, _ := newTestHost(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := h.Invoke(ctx, "late", func(c *Call) (any, error) {
		return []byte("ignored"), c.Progress().Checkpoint()
	})
	assert.Equal(t, Cancelled, env.Code())
}

func TestInvokeOversizeResult(t *testing.T) {
	h, _ := newTestHost(t, func(c *Config) { c.MaxPayload = 8 })
	res := &resource{}
	env := h.Invoke(context.Background(), "big", func(c *Call) (any, error) {
		if _, err := c.Register(res); err != nil {
			return nil, err
		}
		return bytes.Repeat([]byte{1}, 9), nil
	})
	assert.Equal(t, ResourceExhausted, env.Code())
	assert.Equal(t, NoHandle, env.Handle())
	assert.Equal(t, 1, res.closeCount())
}

func TestHostClose(t *testing.T) {
	h, _ := newTestHost(t, nil)
	res := &resource{}
	_, err := h.Handles().Register(res)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Equal(t, 1, res.closeCount())
	assert.ErrorIs(t, h.Close(), ErrHostClosed)

	env := h.Invoke(context.Background(), "after", func(c *Call) (any, error) { return nil, nil })
	assert.ErrorIs(t, env.Err(), ErrHostClosed)
}

func TestHostSnapshot(t *testing.T) {
	h, _ := newTestHost(t, nil)
	_, err := h.Handles().Register(&resource{})
	require.NoError(t, err)
	_, err = h.NewCancelToken()
	require.NoError(t, err)

	data, err := h.Snapshot()
	require.NoError(t, err)

	var snap TableSnapshot
	require.NoError(t, yaml.Unmarshal(data, &snap))
	assert.Equal(t, 2, snap.Live)
	require.Len(t, snap.Handles, 2)
	assert.Equal(t, "*cbffi.resource", snap.Handles[0].Type)
	assert.Equal(t, "*cbffi.CancelToken", snap.Handles[1].Type)
}

func TestHostLogLevelAndRecentLog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentLogSize = 8
	h, err := Open(cfg)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, slog.LevelInfo, h.LogLevel())
	require.NoError(t, h.SetLogLevel("debug"))
	assert.Equal(t, slog.LevelDebug, h.LogLevel())
	assert.Equal(t, InvalidArgument, CodeOf(h.SetLogLevel("loud")))

	h.Invoke(context.Background(), "traced", func(c *Call) (any, error) { return nil, nil })

	lines := h.RecentLog(10)
	require.NotEmpty(t, lines)
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "call start")
	assert.Contains(t, joined, "call=traced")
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Codec = "xml"
	_, err := Open(cfg)
	assert.Equal(t, InvalidArgument, CodeOf(err))
}
