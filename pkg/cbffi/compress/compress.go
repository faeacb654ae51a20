// Package compress offers zstd and gzip as boundary calls. Encoding and
// decoding report progress; decoded output is bounded by the host's payload
// limit, and large streams can be drained through a cursor instead.
package compress

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/cursor"
)

// Format names a compression format.
type Format string

// Supported formats.
const (
	Zstd Format = "zstd"
	Gzip Format = "gzip"
)

// chunk is the unit of work between progress reports.
const chunk = 64 << 10

// ParseFormat resolves the names accepted at the boundary.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case Zstd, Gzip:
		return f, nil
	case "zst":
		return Zstd, nil
	case "gz":
		return Gzip, nil
	default:
		return "", cbffi.Errorf(cbffi.InvalidArgument, "unknown compression format %q", name)
	}
}

func (f Format) writer(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithZeroFrames(true))
	case Gzip:
		return gzip.NewWriter(w), nil
	default:
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "unknown compression format %q", string(f))
	}
}

// reader opens a decompressing stream. The returned reader reports malformed
// input as InvalidArgument and must be closed.
func (f Format) reader(r io.Reader) (io.ReadCloser, error) {
	switch f {
	case Zstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, corrupt(f, err)
		}
		return &stream{format: f, r: dec, close: func() error { dec.Close(); return nil }}, nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, corrupt(f, err)
		}
		return &stream{format: f, r: zr, close: zr.Close}, nil
	default:
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "unknown compression format %q", string(f))
	}
}

type stream struct {
	format Format
	r      io.Reader
	close  func() error
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = corrupt(s.format, err)
	}
	return n, err
}

func (s *stream) Close() error { return s.close() }

func corrupt(f Format, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return cbffi.Errorf(cbffi.InvalidArgument, "truncated %s stream", string(f))
	}
	return cbffi.Errorf(cbffi.InvalidArgument, "corrupt %s stream", string(f), err)
}

// Encode compresses data, reporting the number of input bytes consumed.
func Encode(c *cbffi.Call, f Format, data []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := f.writer(&out)
	if err != nil {
		return nil, err
	}
	p := c.Progress()
	var done int64
	for len(data) > 0 {
		n := min(len(data), chunk)
		if _, err := w.Write(data[:n]); err != nil {
			_ = w.Close()
			return nil, cbffi.Errorf(cbffi.Internal, "%s encode", string(f), err)
		}
		data = data[n:]
		done += int64(n)
		if err := p.Report(done); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, cbffi.Errorf(cbffi.Internal, "%s encode", string(f), err)
	}
	return out.Bytes(), nil
}

// Decode decompresses data, reporting the number of output bytes produced.
// Output larger than the host's payload limit fails with ResourceExhausted.
func Decode(c *cbffi.Call, f Format, data []byte) ([]byte, error) {
	r, err := f.reader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	limit := c.Marshaler().MaxPayload()
	p := c.Progress()
	var out bytes.Buffer
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if out.Len()+n > limit {
				return nil, cbffi.Errorf(cbffi.ResourceExhausted, "decompressed output exceeds limit of %d bytes", limit)
			}
			out.Write(buf[:n])
			if rerr := p.Report(int64(out.Len())); rerr != nil {
				return nil, rerr
			}
		}
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// OpenDecoder copies data and registers a cursor that yields the decompressed
// stream in chunks of the given size. Malformed input surfaces on Next.
func OpenDecoder(c *cbffi.Call, f Format, data []byte, chunkSize int) (cbffi.Handle, error) {
	r, err := f.reader(bytes.NewReader(bytes.Clone(data)))
	if err != nil {
		return cbffi.NoHandle, err
	}
	return cursor.OpenReader(c, r, chunkSize)
}
