// Package digest hashes caller buffers in chunks, reporting the number of
// bytes processed after each chunk so long inputs can be watched and
// cancelled.
package digest

import (
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
)

// Algorithm names a supported hash.
type Algorithm string

// Supported algorithms.
const (
	SHA256 Algorithm = "sha256"
	XXH64  Algorithm = "xxh64"
)

// ChunkSize is the number of bytes hashed between progress reports.
const ChunkSize = 64 << 10

// ParseAlgorithm resolves the names accepted at the boundary.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case SHA256, XXH64:
		return a, nil
	case "sha-256":
		return SHA256, nil
	case "xxhash", "xxhash64":
		return XXH64, nil
	default:
		return "", cbffi.Errorf(cbffi.InvalidArgument, "unknown digest algorithm %q", name)
	}
}

func (a Algorithm) new() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case XXH64:
		return xxhash.New(), nil
	default:
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "unknown digest algorithm %q", string(a))
	}
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case SHA256:
		return sha256.Size
	case XXH64:
		return 8
	default:
		return 0
	}
}

// Sum hashes data with algo. After every chunk it reports the running byte
// count; cancellation between chunks ends the call with Cancelled. xxh64
// digests are big-endian.
func Sum(c *cbffi.Call, algo Algorithm, data []byte) ([]byte, error) {
	h, err := algo.new()
	if err != nil {
		return nil, err
	}
	p := c.Progress()
	if err := p.Checkpoint(); err != nil {
		return nil, err
	}
	if _, err := write(h, p, data, 0); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// BatchRequest is the structured input of Batch, decoded with the host codec.
type BatchRequest struct {
	Algorithm string   `json:"algorithm"`
	Items     [][]byte `json:"items"`
}

// BatchResult holds one digest per request item, in order.
type BatchResult struct {
	Digests [][]byte `json:"digests"`
}

// Batch decodes a BatchRequest from input and hashes every item. Progress is
// the byte count across all items.
func Batch(c *cbffi.Call, input []byte) (BatchResult, error) {
	var req BatchRequest
	if err := c.Marshaler().Decode(input, &req); err != nil {
		return BatchResult{}, err
	}
	algo, err := ParseAlgorithm(req.Algorithm)
	if err != nil {
		return BatchResult{}, err
	}
	if len(req.Items) == 0 {
		return BatchResult{}, cbffi.Errorf(cbffi.InvalidArgument, "batch has no items")
	}
	p := c.Progress()
	if err := p.Checkpoint(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{Digests: make([][]byte, 0, len(req.Items))}
	var done int64
	for _, item := range req.Items {
		h, err := algo.new()
		if err != nil {
			return BatchResult{}, err
		}
		if done, err = write(h, p, item, done); err != nil {
			return BatchResult{}, err
		}
		out.Digests = append(out.Digests, h.Sum(nil))
	}
	return out, nil
}

func write(h hash.Hash, p *cbffi.Reporter, data []byte, done int64) (int64, error) {
	for len(data) > 0 {
		n := min(len(data), ChunkSize)
		_, _ = h.Write(data[:n])
		data = data[n:]
		done += int64(n)
		if err := p.Report(done); err != nil {
			return done, err
		}
	}
	return done, nil
}
