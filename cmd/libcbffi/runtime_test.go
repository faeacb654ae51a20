package main

import (
	"encoding/json"
	"testing"

	"github.com/minio/sha256-simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/cbffitest"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/digest"
)

func setup(t *testing.T, cfg string) {
	t.Helper()
	cbffitest.RequireOK(t, initHost([]byte(cfg)))
	t.Cleanup(func() { shutdownHost() })
}

func TestNotInitialized(t *testing.T) {
	cbffitest.RequireCode(t, keysNew(), cbffi.InvalidArgument)
	cbffitest.RequireCode(t, shutdownHost(), cbffi.InvalidArgument)

	env := snapshot()
	assert.Contains(t, env.Message(), `"op":"snapshot"`)
}

func TestInitTwiceAndBadConfig(t *testing.T) {
	cbffitest.RequireCode(t, initHost([]byte("codec: xml\n")), cbffi.InvalidArgument)

	setup(t, "")
	cbffitest.RequireCode(t, initHost(nil), cbffi.InvalidArgument)
}

func TestShutdownTearsDownHandles(t *testing.T) {
	cbffitest.RequireOK(t, initHost(nil))
	key := keysNew()
	cbffitest.RequireOK(t, key)

	cbffitest.RequireOK(t, shutdownHost())
	cbffitest.RequireCode(t, keysPublic(key.Handle()), cbffi.InvalidArgument)

	// A fresh host starts an empty table.
	setup(t, "")
	cbffitest.RequireCode(t, keysPublic(key.Handle()), cbffi.NotFound)
}

func TestVersion(t *testing.T) {
	var info cbffi.VersionInfo
	require.NoError(t, json.Unmarshal(cbffitest.RequireOK(t, version()), &info))
	assert.Equal(t, cbffi.ABIVersion, info.ABI)
}

func TestKeysRoundTrip(t *testing.T) {
	setup(t, "log_level: debug\n")

	key := keysNew()
	pub := cbffitest.RequireOK(t, key)
	h := key.Handle()
	require.True(t, h.Valid())

	d := sha256.Sum256([]byte("message"))
	sig := cbffitest.RequireOK(t, keysSign(h, d[:]))

	var v struct{ Valid bool }
	require.NoError(t, json.Unmarshal(cbffitest.RequireOK(t, keysVerify(pub, d[:], sig)), &v))
	assert.True(t, v.Valid)

	ssig := cbffitest.RequireOK(t, keysSignSchnorr(h, d[:]))
	require.NoError(t, json.Unmarshal(cbffitest.RequireOK(t, keysVerifySchnorr(pub, d[:], ssig)), &v))
	assert.True(t, v.Valid)

	cbffitest.RequireOK(t, release(h))
	cbffitest.RequireCode(t, release(h), cbffi.NotFound)
	cbffitest.RequireCode(t, keysSign(h, d[:]), cbffi.NotFound)
}

func TestDigestWithProgressAndToken(t *testing.T) {
	setup(t, "")

	rec := cbffitest.NewRecorder()
	out := cbffitest.RequireOK(t, digestSum("sha256", []byte("abc"), rec, cbffi.NoHandle))
	assert.Len(t, out, 32)
	assert.Equal(t, []int64{3}, rec.Values())

	tok := tokenNew()
	cbffitest.RequireOK(t, tok)
	cbffitest.RequireOK(t, tokenCancel(tok.Handle()))
	cbffitest.RequireCode(t, digestSum("xxh64", []byte("abc"), nil, tok.Handle()), cbffi.Cancelled)

	cbffitest.RequireCode(t, digestSum("md4", []byte("abc"), nil, cbffi.NoHandle), cbffi.InvalidArgument)
}

func TestDigestBatchDecodesRequest(t *testing.T) {
	setup(t, "codec: proto\n")

	req, err := cbffi.ProtoCodec{}.Marshal(digest.BatchRequest{Algorithm: "sha256", Items: [][]byte{[]byte("abc"), {}}})
	require.NoError(t, err)
	out := cbffitest.RequireOK(t, digestBatch(req, nil, cbffi.NoHandle))

	var res digest.BatchResult
	require.NoError(t, cbffi.ProtoCodec{}.Unmarshal(out, &res))
	require.Len(t, res.Digests, 2)
	want := sha256.Sum256([]byte("abc"))
	assert.Equal(t, want[:], res.Digests[0])

	cbffitest.RequireCode(t, digestBatch(nil, nil, cbffi.NoHandle), cbffi.InvalidArgument)
}

func TestCompressAndCursor(t *testing.T) {
	setup(t, "")
	data := []byte("hello hello hello hello hello hello")

	packed := cbffitest.RequireOK(t, compressEncode("zstd", data, nil, cbffi.NoHandle))
	assert.Equal(t, data, cbffitest.RequireOK(t, compressDecode("zstd", packed, nil, cbffi.NoHandle)))

	open := cursorOpenDecoder("zstd", packed, 8)
	cbffitest.RequireOK(t, open)
	var got []byte
	for {
		chunk := cbffitest.RequireOK(t, cursorNext(open.Handle()))
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}
	assert.Equal(t, data, got)

	plain := cursorOpen([]byte("abc"), 2)
	cbffitest.RequireOK(t, plain)
	assert.Equal(t, []byte("ab"), cbffitest.RequireOK(t, cursorNext(plain.Handle())))

	var snap cbffi.TableSnapshot
	require.NoError(t, yaml.Unmarshal(cbffitest.RequireOK(t, snapshot()), &snap))
	assert.Equal(t, 2, snap.Live)

	cbffitest.RequireOK(t, release(open.Handle()))
	cbffitest.RequireOK(t, release(plain.Handle()))
}

func TestLogControls(t *testing.T) {
	setup(t, "recent_log_size: 16\n")

	cbffitest.RequireOK(t, setLogLevel("debug"))
	cbffitest.RequireCode(t, setLogLevel("shout"), cbffi.InvalidArgument)
	keysNew()

	var lines []string
	require.NoError(t, json.Unmarshal(cbffitest.RequireOK(t, recentLog(5)), &lines))
	assert.NotEmpty(t, lines)
	assert.LessOrEqual(t, len(lines), 5)

	cbffitest.RequireCode(t, recentLog(-1), cbffi.InvalidArgument)
}

func TestZeroizeFlag(t *testing.T) {
	setup(t, "zeroize_on_release: true\n")
	assert.True(t, zeroizeOnRelease.Load())
}
