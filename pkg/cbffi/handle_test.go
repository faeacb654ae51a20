package cbffi

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	mu     *sync.Mutex
	order  *[]string
	name   string
	closeE error
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	*c.order = append(*c.order, c.name)
	c.mu.Unlock()
	return c.closeE
}

func TestHandleTableRegisterResolveRelease(t *testing.T) {
	tbl := NewHandleTable()

	h, err := tbl.Register("alpha")
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h)

	v, err := tbl.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, "alpha", v)

	got, err := tbl.Release(h)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)

	_, err = tbl.Resolve(h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, NotFound, CodeOf(err))
}

func TestHandleTableNeverReusesHandles(t *testing.T) {
	tbl := NewHandleTable()

	h1, err := tbl.Register(1)
	require.NoError(t, err)
	_, err = tbl.Release(h1)
	require.NoError(t, err)

	h2, err := tbl.Register(2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Greater(t, int64(h2), int64(h1))
}

func TestHandleTableDoubleRelease(t *testing.T) {
	tbl := NewHandleTable()
	h, err := tbl.Register(struct{}{})
	require.NoError(t, err)

	_, err = tbl.Release(h)
	require.NoError(t, err)

	_, err = tbl.Release(h)
	require.Error(t, err)
	assert.Equal(t, NotFound, CodeOf(err))
	assert.Equal(t, 0, tbl.Len())
}

func TestHandleTableInvalidInputs(t *testing.T) {
	tbl := NewHandleTable()

	_, err := tbl.Register(nil)
	assert.Equal(t, InvalidArgument, CodeOf(err))

	for _, h := range []Handle{NoHandle, -1, -42} {
		_, err := tbl.Resolve(h)
		assert.Equal(t, InvalidArgument, CodeOf(err), "resolve %d", h)
		_, err = tbl.Release(h)
		assert.Equal(t, InvalidArgument, CodeOf(err), "release %d", h)
	}

	_, err = tbl.Resolve(99)
	assert.Equal(t, NotFound, CodeOf(err))
}

func TestHandleTableExhaustion(t *testing.T) {
	tbl := NewHandleTable(WithHandleLimit(3))

	for i := 1; i <= 3; i++ {
		h, err := tbl.Register(i)
		require.NoError(t, err)
		assert.Equal(t, Handle(i), h)
	}

	h, err := tbl.Register(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.Equal(t, NoHandle, h)

	// Releasing does not give handles back.
	_, err = tbl.Release(1)
	require.NoError(t, err)
	_, err = tbl.Register(5)
	assert.Equal(t, ResourceExhausted, CodeOf(err))

	// Existing handles still resolve.
	v, err := tbl.Resolve(2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestHandleTableExhaustionAtMaxHandle(t *testing.T) {
	tbl := NewHandleTable()
	tbl.last = MaxHandle - 1

	h, err := tbl.Register("last")
	require.NoError(t, err)
	assert.Equal(t, MaxHandle, h)

	h, err = tbl.Register("overflow")
	assert.Equal(t, ResourceExhausted, CodeOf(err))
	assert.Equal(t, NoHandle, h)
}

func TestHandleTableConcurrentRegisterUnique(t *testing.T) {
	tbl := NewHandleTable()

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	results := make(chan Handle, workers*perWorker)
	errCh := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h, err := tbl.Register(w*perWorker + i)
				if err != nil {
					errCh <- err
					return
				}
				if _, err := tbl.Resolve(h); err != nil {
					errCh <- err
					return
				}
				results <- h
			}
		}(w)
	}
	wg.Wait()
	close(results)
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent register: %v", err)
	}

	seen := make(map[Handle]bool, workers*perWorker)
	for h := range results {
		require.True(t, h.Valid())
		require.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, tbl.Len())
}

func TestHandleTableConcurrentRegisterRelease(t *testing.T) {
	tbl := NewHandleTable()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h, err := tbl.Register(i)
				if err != nil {
					t.Errorf("register: %v", err)
					return
				}
				if _, err := tbl.Release(h); err != nil {
					t.Errorf("release %d: %v", h, err)
					return
				}
				if _, err := tbl.Resolve(h); CodeOf(err) != NotFound {
					t.Errorf("resolve released %d: %v", h, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tbl.Len())
}

func TestResolveTyped(t *testing.T) {
	tbl := NewHandleTable()
	h, err := tbl.Register("text")
	require.NoError(t, err)

	s, err := Resolve[string](tbl, h)
	require.NoError(t, err)
	assert.Equal(t, "text", s)

	_, err = Resolve[int](tbl, h)
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, CodeOf(err))

	_, err = Resolve[string](tbl, h+1)
	assert.Equal(t, NotFound, CodeOf(err))
}

func TestHandleTableSnapshotSorted(t *testing.T) {
	tbl := NewHandleTable()
	for _, v := range []any{"a", 2, 3.0} {
		_, err := tbl.Register(v)
		require.NoError(t, err)
	}
	_, err := tbl.Release(2)
	require.NoError(t, err)

	snap := tbl.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Handle(1), snap[0].Handle)
	assert.Equal(t, "string", snap[0].Type)
	assert.Equal(t, Handle(3), snap[1].Handle)
	assert.Equal(t, "float64", snap[1].Type)
}

func TestHandleTableCloseTearsDown(t *testing.T) {
	var mu sync.Mutex
	var order []string
	boom := errors.New("boom")

	tbl := NewHandleTable()
	_, err := tbl.Register(&closeRecorder{mu: &mu, order: &order, name: "first"})
	require.NoError(t, err)
	_, err = tbl.Register("not a closer")
	require.NoError(t, err)
	_, err = tbl.Register(&closeRecorder{mu: &mu, order: &order, name: "second", closeE: boom})
	require.NoError(t, err)

	err = tbl.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 0, tbl.Len())

	_, err = tbl.Register("late")
	assert.ErrorIs(t, err, ErrTableClosed)

	assert.NoError(t, tbl.Close())
	assert.Len(t, order, 2)
}
