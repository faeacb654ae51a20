package cbffi

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi/logging"
)

// Host is the explicitly constructed boundary context. It owns the handle
// table, the marshaler and the logging pipeline; every boundary call runs
// through Invoke.
type Host struct {
	cfg     Config
	handles *HandleTable
	marshal *Marshaler
	clock   clock.Clock
	log     logging.Logger
	level   *slog.LevelVar
	ring    *logging.Ring
	closed  atomic.Bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sends host diagnostics to l instead of the built-in stderr
// handler. The recent-log ring then only sees what l forwards to it, so
// RecentLog returns nothing unless l was built on Ring.Wrap.
func WithLogger(l logging.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// WithClock replaces the wall clock used for progress throttling and handle
// timestamps.
func WithClock(c clock.Clock) Option {
	return func(h *Host) {
		if c != nil {
			h.clock = c
		}
	}
}

// Open validates cfg and prepares a host.
func Open(cfg Config, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	lvl, _ := logging.ParseLevel(cfg.LogLevel)

	h := &Host{
		cfg:     cfg,
		marshal: NewMarshaler(codec, cfg.MaxPayload),
		clock:   clock.New(),
		level:   new(slog.LevelVar),
		ring:    logging.NewRing(cfg.RecentLogSize),
	}
	h.level.Set(lvl)
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: h.level})
		h.log = logging.New(slog.New(h.ring.Wrap(base)))
	}
	h.handles = NewHandleTable(
		WithHandleLimit(Handle(cfg.HandleLimit)),
		WithTableLogger(h.log),
		withTableClock(h.clock.Now),
	)
	return h, nil
}

// Close tears down every live handle. A second Close returns ErrHostClosed.
func (h *Host) Close() error {
	if h == nil {
		return nil
	}
	if !h.closed.CompareAndSwap(false, true) {
		return ErrHostClosed
	}
	err := h.handles.Close()
	h.log.Info(context.Background(), "host closed")
	return err
}

// Config returns the configuration the host was opened with.
func (h *Host) Config() Config { return h.cfg }
// Handles returns the host's handle table.
func (h *Host) Handles() *HandleTable { return h.handles }
// Marshaler returns the marshaler used for call results.
func (h *Host) Marshaler() *Marshaler { return h.marshal }
// Logger returns the host logger.
func (h *Host) Logger() logging.Logger { return h.log }
// Clock returns the clock used for throttling and timestamps.
func (h *Host) Clock() clock.Clock { return h.clock }
// LogLevel returns the current level of the built-in handler.
func (h *Host) LogLevel() slog.Level { return h.level.Level() }
// RecentLog returns up to n of the most recent log lines, oldest first.
func (h *Host) RecentLog(n int) []string { return h.ring.Recent(n) }

// SetLogLevel changes the level of the built-in handler at runtime.
func (h *Host) SetLogLevel(name string) error {
	lvl, err := logging.ParseLevel(name)
	if err != nil {
		return Errorf(InvalidArgument, "set log level", err)
	}
	h.level.Set(lvl)
	return nil
}

// CallFunc is the body of a boundary call. Its result is encoded by the
// host's marshaler.
type CallFunc func(c *Call) (any, error)

type callOptions struct {
	progress Progress
	token    Handle
}

// CallOption configures a single Invoke.
type CallOption func(*callOptions)

// WithProgress routes the call's progress reports to p. A nil p disables
// reporting.
func WithProgress(p Progress) CallOption {
	return func(o *callOptions) { o.progress = p }
}

// WithCancelToken binds the call to a token created by NewCancelToken. Handles
// <= 0 mean no token.
func WithCancelToken(token Handle) CallOption {
	return func(o *callOptions) { o.token = token }
}

// Invoke runs fn as the boundary call name and always returns a well-formed
// envelope: panics become Internal failures, and a handle registered by a
// failing call is released before the failure is returned.
func (h *Host) Invoke(ctx context.Context, name string, fn CallFunc, opts ...CallOption) (env Envelope) {
	if ctx == nil {
		ctx = context.Background()
	}
	if h == nil || h.closed.Load() {
		return failureOp(name, ErrHostClosed)
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.token.Valid() {
		tok, err := Resolve[*CancelToken](h.handles, o.token)
		if err != nil {
			return failureOp(name, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = tok.bind(ctx)
		defer cancel()
	}

	c := &Call{
		id:   uuid.NewString(),
		name: name,
		ctx:  ctx,
		host: h,
		log:  h.log.With("call", name),
	}
	c.log = c.log.With("call_id", c.id)
	c.progress = NewReporter(ctx, o.progress,
		WithReporterClock(h.clock),
		WithReportInterval(h.cfg.ProgressInterval),
	)

	start := h.clock.Now()
	c.log.Debug(ctx, "call start")

	defer func() {
		if r := recover(); r != nil {
			c.log.Error(ctx, "call panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			c.discard()
			env = failureOp(name, Errorf(Internal, "panic: %s", fmt.Sprint(r)))
		}
	}()

	v, err := fn(c)
	if err == nil {
		err = c.progress.Flush()
	}
	if err != nil {
		c.discard()
		env = failureOp(name, err)
		c.log.Debug(ctx, "call failed", "code", env.Code().String(), "error", err, "elapsed", h.clock.Since(start))
		return env
	}

	env = h.marshal.Envelope(v, c.handle, nil)
	if !env.OK() {
		c.discard()
		env = failureOp(name, env.Err())
		c.log.Warn(ctx, "call result could not be encoded", "error", env.Err())
		return env
	}
	c.log.Debug(ctx, "call end",
		"payload_len", len(env.Payload()),
		"handle", int64(env.Handle()),
		"elapsed", h.clock.Since(start),
	)
	return env
}

// Release removes h from the table and closes the resource if it implements
// io.Closer.
func (h *Host) Release(handle Handle) error {
	v, err := h.handles.Release(handle)
	if err != nil {
		return err
	}
	if cerr := teardown(v); cerr != nil {
		return Errorf(Internal, "close resource for handle %d", handle, cerr)
	}
	return nil
}

// NewCancelToken registers a fresh cancellation token.
func (h *Host) NewCancelToken() (Handle, error) {
	return h.handles.Register(newCancelToken())
}

// Cancel trips the token registered under token.
func (h *Host) Cancel(token Handle) error {
	tok, err := Resolve[*CancelToken](h.handles, token)
	if err != nil {
		return err
	}
	tok.Cancel()
	return nil
}

// TableSnapshot describes the live handles.
type TableSnapshot struct {
	Taken   time.Time    `yaml:"taken"`
	Live    int          `yaml:"live"`
	Handles []HandleInfo `yaml:"handles"`
}

// Snapshot renders the handle table as YAML.
func (h *Host) Snapshot() ([]byte, error) {
	infos := h.handles.Snapshot()
	data, err := yaml.Marshal(TableSnapshot{Taken: h.clock.Now().UTC(), Live: len(infos), Handles: infos})
	if err != nil {
		return nil, Errorf(Internal, "encode snapshot", err)
	}
	return data, nil
}

// Call is the callee's view of one boundary call.
type Call struct {
	id       string
	name     string
	ctx      context.Context
	host     *Host
	log      logging.Logger
	progress *Reporter

	handle  Handle
	created bool // handle was registered by this call
}

// ID returns the call's unique id, also logged as call_id.
func (c *Call) ID() string { return c.id }
// Name returns the boundary call name given to Invoke.
func (c *Call) Name() string { return c.name }
// Context ends when the caller cancels or a bound token is tripped.
func (c *Call) Context() context.Context { return c.ctx }
// Host returns the host running the call.
func (c *Call) Host() *Host { return c.host }
// Logger returns a logger tagged with the call name and id.
func (c *Call) Logger() logging.Logger { return c.log }
// Progress returns the call's progress reporter.
func (c *Call) Progress() *Reporter { return c.progress }
// Marshaler returns the host marshaler, for decoding structured inputs.
func (c *Call) Marshaler() *Marshaler { return c.host.marshal }

// Register stores resource in the host's table and makes its handle the
// envelope handle. A call returns at most one handle.
func (c *Call) Register(resource any) (Handle, error) {
	if c.handle.Valid() {
		return NoHandle, Errorf(Internal, "call %s already returns handle %d", c.name, c.handle)
	}
	h, err := c.host.handles.Register(resource)
	if err != nil {
		return NoHandle, err
	}
	c.handle = h
	c.created = true
	return h, nil
}

// Return makes an existing handle the envelope handle without transferring
// anything.
func (c *Call) Return(h Handle) error {
	if c.handle.Valid() {
		return Errorf(Internal, "call %s already returns handle %d", c.name, c.handle)
	}
	if _, err := c.host.handles.Resolve(h); err != nil {
		return err
	}
	c.handle = h
	return nil
}

// Resolve looks up a handle passed in by the caller.
func (c *Call) Resolve(h Handle) (any, error) {
	return c.host.handles.Resolve(h)
}

// CallResolve is the typed form of Call.Resolve.
func CallResolve[T any](c *Call, h Handle) (T, error) {
	return Resolve[T](c.host.handles, h)
}

// discard drops a handle registered during a call that is about to fail.
func (c *Call) discard() {
	if !c.created || !c.handle.Valid() {
		c.handle = NoHandle
		return
	}
	if err := c.host.Release(c.handle); err != nil {
		c.log.Warn(c.ctx, "discarding handle of failed call", "handle", int64(c.handle), "error", err)
	}
	c.handle = NoHandle
	c.created = false
}
