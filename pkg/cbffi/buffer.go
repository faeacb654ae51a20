package cbffi

import "unsafe"

// Buffer is a non-owning view over a contiguous byte region that crosses the
// boundary. It never copies and never frees: whoever produced the backing
// memory keeps ownership, and a Buffer must not be used after that memory is
// released. A zero-length Buffer is valid and may have a nil address.
type Buffer struct {
	ptr unsafe.Pointer
	n   int
}

// View wraps b without copying. The returned Buffer reports exactly b's data
// pointer and length.
func View(b []byte) Buffer {
	return Buffer{ptr: unsafe.Pointer(unsafe.SliceData(b)), n: len(b)}
}

// FromPointer wraps memory owned by the other side of the boundary.
func FromPointer(p unsafe.Pointer, n int) (Buffer, error) {
	if n < 0 {
		return Buffer{}, Errorf(InvalidArgument, "buffer length %d is negative", n)
	}
	if p == nil && n > 0 {
		return Buffer{}, Errorf(InvalidArgument, "nil buffer with length %d", n)
	}
	return Buffer{ptr: p, n: n}, nil
}

// Pointer returns the base address of the view.
func (b Buffer) Pointer() unsafe.Pointer { return b.ptr }

// Addr returns the base address as an integer, for logging and comparisons.
func (b Buffer) Addr() uintptr { return uintptr(b.ptr) }

// Len returns the number of bytes in the view.
func (b Buffer) Len() int { return b.n }

// IsEmpty reports whether the view has no bytes.
func (b Buffer) IsEmpty() bool { return b.n == 0 }

// Bytes aliases the viewed memory as a slice. The slice is only valid while
// the producer keeps the backing memory alive. Empty views return nil.
func (b Buffer) Bytes() []byte {
	if b.n == 0 || b.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), b.n)
}

// Clone copies the viewed bytes into Go-owned memory so they can be retained
// after the call returns.
func (b Buffer) Clone() []byte {
	if b.n == 0 {
		return []byte{}
	}
	out := make([]byte, b.n)
	copy(out, b.Bytes())
	return out
}
