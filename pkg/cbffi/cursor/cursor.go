// Package cursor provides handle-based iteration over byte streams. A cursor
// is opened once, then drained chunk by chunk with Next; each chunk is a
// separate boundary call. An empty payload marks the end of the stream.
package cursor

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
)

// DefaultChunk is used when Open is given a non-positive chunk size.
const DefaultChunk = 64 << 10

// Cursor is a stream registered in the handle table.
type Cursor struct {
	mu     sync.Mutex
	src    io.Reader
	closer io.Closer
	chunk  int
	read   int64
	done   bool
	closed bool
}

// Open copies data and registers a cursor over the copy.
func Open(c *cbffi.Call, data []byte, chunk int) (cbffi.Handle, error) {
	return OpenReader(c, bytes.NewReader(bytes.Clone(data)), chunk)
}

// OpenReader registers a cursor over r. If r is an io.Closer it is closed with
// the cursor. On failure r is closed before returning.
func OpenReader(c *cbffi.Call, r io.Reader, chunk int) (cbffi.Handle, error) {
	cur, err := newCursor(c, r, chunk)
	if err != nil {
		closeQuietly(r)
		return cbffi.NoHandle, err
	}
	h, err := c.Register(cur)
	if err != nil {
		_ = cur.Close()
		return cbffi.NoHandle, err
	}
	c.Logger().Debug(c.Context(), "cursor opened", "handle", int64(h), "chunk", cur.chunk)
	return h, nil
}

func newCursor(c *cbffi.Call, r io.Reader, chunk int) (*Cursor, error) {
	if r == nil {
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "cursor source is nil")
	}
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	if limit := c.Marshaler().MaxPayload(); chunk > limit {
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "chunk size %d exceeds payload limit %d", chunk, limit)
	}
	cur := &Cursor{src: r, chunk: chunk}
	if cl, ok := r.(io.Closer); ok {
		cur.closer = cl
	}
	return cur, nil
}

// Next returns up to one chunk from the cursor behind h and reports the total
// number of bytes read so far. Once the stream is exhausted every call
// returns an empty payload. A chunk read by a call that is then cancelled is
// dropped.
func Next(c *cbffi.Call, h cbffi.Handle) ([]byte, error) {
	cur, err := cbffi.CallResolve[*Cursor](c, h)
	if err != nil {
		return nil, err
	}
	return cur.next(c.Progress())
}

func (cur *Cursor) next(p *cbffi.Reporter) ([]byte, error) {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.closed {
		return nil, cbffi.Errorf(cbffi.NotFound, "cursor has been closed")
	}
	if cur.done {
		return []byte{}, nil
	}
	if err := p.Checkpoint(); err != nil {
		return nil, err
	}

	buf := make([]byte, cur.bufferSize())
	n, err := io.ReadFull(cur.src, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		cur.done = true
	case err == nil && n < cur.chunk:
		// Short buffer sized from the remaining length.
		cur.done = true
	case err != nil:
		return nil, cbffi.AsError("", err)
	}
	cur.read += int64(n)
	if err := p.Report(cur.read); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// bufferSize is the chunk size, capped by the unread length when the source
// knows it.
func (cur *Cursor) bufferSize() int {
	if l, ok := cur.src.(interface{ Len() int }); ok {
		return min(cur.chunk, l.Len())
	}
	return cur.chunk
}

// Offset returns the number of bytes consumed from the source so far.
func (cur *Cursor) Offset() int64 {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	return cur.read
}

// Close releases the underlying source.
func (cur *Cursor) Close() error {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.closed {
		return nil
	}
	cur.closed = true
	cur.src = nil
	if cur.closer != nil {
		return cur.closer.Close()
	}
	return nil
}

func closeQuietly(r io.Reader) {
	if cl, ok := r.(io.Closer); ok {
		_ = cl.Close()
	}
}
