package cbffi

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi/logging"
)

// Handle is an opaque reference to a resource living on this side of the
// boundary. Values <= 0 mean "no handle".
type Handle int64

const (
	// NoHandle is the sentinel carried by envelopes that reference nothing.
	NoHandle Handle = 0
	// MaxHandle is the largest handle the table will ever issue.
	MaxHandle Handle = math.MaxInt64
)

// Valid reports whether h can refer to a resource.
func (h Handle) Valid() bool { return h > 0 }

type entry struct {
	value   any
	created time.Time
}

// HandleInfo describes one live handle.
type HandleInfo struct {
	Handle  Handle    `yaml:"handle" json:"handle"`
	Type    string    `yaml:"type" json:"type"`
	Created time.Time `yaml:"created" json:"created"`
}

// HandleTable maps handles to live resources. Handles come from a counter that
// only moves forward, so an id is never reissued, even after release.
//
// Register and Release take the write lock; Resolve takes the read lock and
// may run concurrently with other resolves.
type HandleTable struct {
	mu     sync.RWMutex
	last   Handle
	limit  Handle
	live   map[Handle]entry
	closed bool
	log    logging.Logger
	now    func() time.Time
}

// TableOption configures a HandleTable.
type TableOption func(*HandleTable)

// WithHandleLimit caps the handle space. Once the counter reaches limit every
// further Register fails with ResourceExhausted. Values <= 0 keep MaxHandle.
func WithHandleLimit(limit Handle) TableOption {
	return func(t *HandleTable) {
		if limit > 0 {
			t.limit = limit
		}
	}
}

// WithTableLogger sets the logger used for teardown diagnostics.
func WithTableLogger(l logging.Logger) TableOption {
	return func(t *HandleTable) {
		if l != nil {
			t.log = l
		}
	}
}

func withTableClock(now func() time.Time) TableOption {
	return func(t *HandleTable) { t.now = now }
}

// NewHandleTable returns an empty table.
func NewHandleTable(opts ...TableOption) *HandleTable {
	t := &HandleTable{
		limit: MaxHandle,
		live:  make(map[Handle]entry),
		log:   logging.New(nil),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register stores resource and returns a fresh handle for it.
func (t *HandleTable) Register(resource any) (Handle, error) {
	if resource == nil {
		return NoHandle, Errorf(InvalidArgument, "cannot register a nil resource")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return NoHandle, ErrTableClosed
	}
	if t.last >= t.limit {
		return NoHandle, Errorf(ResourceExhausted, "handle space exhausted after %d", t.last)
	}
	t.last++
	t.live[t.last] = entry{value: resource, created: t.now()}
	return t.last, nil
}

// Resolve returns the resource registered under h.
func (t *HandleTable) Resolve(h Handle) (any, error) {
	if !h.Valid() {
		return nil, Errorf(InvalidArgument, "handle %d is not a valid handle", h)
	}
	t.mu.RLock()
	e, ok := t.live[h]
	t.mu.RUnlock()
	if !ok {
		return nil, Errorf(NotFound, "handle %d not found", h)
	}
	return e.value, nil
}

// Resolve is the typed form of HandleTable.Resolve. A resource of another type
// is reported as InvalidArgument.
func Resolve[T any](t *HandleTable, h Handle) (T, error) {
	var zero T
	v, err := t.Resolve(h)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, Errorf(InvalidArgument, "handle %d refers to %T, not %T", h, v, zero)
	}
	return out, nil
}

// Release removes h and hands the resource back to the caller, who becomes
// responsible for tearing it down. Releasing twice reports NotFound.
func (t *HandleTable) Release(h Handle) (any, error) {
	if !h.Valid() {
		return nil, Errorf(InvalidArgument, "handle %d is not a valid handle", h)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.live[h]
	if !ok {
		return nil, Errorf(NotFound, "handle %d not found", h)
	}
	delete(t.live, h)
	return e.value, nil
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

// Snapshot lists the live handles ordered by handle.
func (t *HandleTable) Snapshot() []HandleInfo {
	t.mu.RLock()
	out := make([]HandleInfo, 0, len(t.live))
	for h, e := range t.live {
		out = append(out, HandleInfo{Handle: h, Type: fmt.Sprintf("%T", e.value), Created: e.created})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Close drains the table and closes every resource implementing io.Closer.
// Later calls to Register fail with ErrTableClosed. Close is safe to call more
// than once; only the first call tears anything down.
func (t *HandleTable) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	drained := t.live
	t.live = make(map[Handle]entry)
	t.mu.Unlock()

	handles := make([]Handle, 0, len(drained))
	for h := range drained {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var err error
	for _, h := range handles {
		if cerr := teardown(drained[h].value); cerr != nil {
			t.log.Warn(context.Background(), "resource teardown failed", "handle", int64(h), "error", cerr)
			err = multierr.Append(err, fmt.Errorf("handle %d: %w", h, cerr))
		}
	}
	return err
}

func teardown(v any) error {
	if c, ok := v.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
