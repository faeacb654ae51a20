package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/compress"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/cursor"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/digest"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/keys"
)

// The C ABI has no context argument, so the shared library keeps one host per
// process. It is only swapped by init and shutdown; calls never hold the lock
// while running, so a progress callback may safely re-enter the library.
var (
	procMu sync.Mutex
	proc   *cbffi.Host

	zeroizeOnRelease atomic.Bool
)

var errNotInitialized = &cbffi.Error{Code: cbffi.InvalidArgument, Msg: "library not initialized; call cbffi_init first"}

func current() (*cbffi.Host, error) {
	procMu.Lock()
	defer procMu.Unlock()
	if proc == nil {
		return nil, errNotInitialized
	}
	return proc, nil
}

func fail(op string, err error) cbffi.Envelope {
	return cbffi.Failure(cbffi.AsError(op, err))
}

func initHost(yamlConfig []byte) cbffi.Envelope {
	cfg, err := cbffi.ParseConfig(yamlConfig)
	if err != nil {
		return fail("init", err)
	}
	procMu.Lock()
	defer procMu.Unlock()
	if proc != nil {
		return fail("init", cbffi.Errorf(cbffi.InvalidArgument, "library already initialized"))
	}
	h, err := cbffi.Open(cfg)
	if err != nil {
		return fail("init", err)
	}
	proc = h
	zeroizeOnRelease.Store(cfg.ZeroizeOnRelease)
	h.Logger().Info(context.Background(), "library initialized",
		"version", cbffi.WrapperVersion(),
		"abi", cbffi.ABIVersion,
		"codec", cfg.Codec,
	)
	return cbffi.Success(nil, cbffi.NoHandle)
}

func shutdownHost() cbffi.Envelope {
	procMu.Lock()
	h := proc
	proc = nil
	procMu.Unlock()
	if h == nil {
		return fail("shutdown", errNotInitialized)
	}
	if err := h.Close(); err != nil {
		return fail("shutdown", err)
	}
	return cbffi.Success(nil, cbffi.NoHandle)
}

func version() cbffi.Envelope {
	return cbffi.NewMarshaler(nil, 0).Envelope(cbffi.Info(), cbffi.NoHandle, nil)
}

// call runs fn on the process host. progress may be nil and token <= 0 means
// no cancellation token.
func call(name string, fn cbffi.CallFunc, progress cbffi.Progress, token cbffi.Handle) cbffi.Envelope {
	h, err := current()
	if err != nil {
		return fail(name, err)
	}
	var opts []cbffi.CallOption
	if progress != nil {
		opts = append(opts, cbffi.WithProgress(progress))
	}
	if token.Valid() {
		opts = append(opts, cbffi.WithCancelToken(token))
	}
	return h.Invoke(context.Background(), name, fn, opts...)
}

// releaseOrphan drops the handle of a successful call whose result could not
// be handed to the caller.
func releaseOrphan(handle cbffi.Handle) {
	if !handle.Valid() {
		return
	}
	h, err := current()
	if err != nil {
		return
	}
	if err := h.Release(handle); err != nil {
		h.Logger().Warn(context.Background(), "cannot release orphaned handle", "handle", int64(handle), "error", err)
	}
}

func release(handle cbffi.Handle) cbffi.Envelope {
	return call("release", func(c *cbffi.Call) (any, error) {
		return nil, c.Host().Release(handle)
	}, nil, cbffi.NoHandle)
}

func snapshot() cbffi.Envelope {
	return call("snapshot", func(c *cbffi.Call) (any, error) {
		return c.Host().Snapshot()
	}, nil, cbffi.NoHandle)
}

func setLogLevel(level string) cbffi.Envelope {
	return call("set_log_level", func(c *cbffi.Call) (any, error) {
		return nil, c.Host().SetLogLevel(level)
	}, nil, cbffi.NoHandle)
}

func recentLog(n int) cbffi.Envelope {
	return call("recent_log", func(c *cbffi.Call) (any, error) {
		if n < 0 {
			return nil, cbffi.Errorf(cbffi.InvalidArgument, "line count %d is negative", n)
		}
		return c.Host().RecentLog(n), nil
	}, nil, cbffi.NoHandle)
}

func tokenNew() cbffi.Envelope {
	return call("token_new", func(c *cbffi.Call) (any, error) {
		h, err := c.Host().NewCancelToken()
		if err != nil {
			return nil, err
		}
		return nil, c.Return(h)
	}, nil, cbffi.NoHandle)
}

func tokenCancel(token cbffi.Handle) cbffi.Envelope {
	return call("token_cancel", func(c *cbffi.Call) (any, error) {
		return nil, c.Host().Cancel(token)
	}, nil, cbffi.NoHandle)
}

func keysNew() cbffi.Envelope {
	return call("keys_new", func(c *cbffi.Call) (any, error) {
		return keys.New(c)
	}, nil, cbffi.NoHandle)
}

func keysImport(secret []byte) cbffi.Envelope {
	return call("keys_import", func(c *cbffi.Call) (any, error) {
		return keys.Import(c, secret)
	}, nil, cbffi.NoHandle)
}

func keysPublic(key cbffi.Handle) cbffi.Envelope {
	return call("keys_public", func(c *cbffi.Call) (any, error) {
		return keys.PublicKey(c, key)
	}, nil, cbffi.NoHandle)
}

func keysSign(key cbffi.Handle, d []byte) cbffi.Envelope {
	return call("keys_sign", func(c *cbffi.Call) (any, error) {
		return keys.SignECDSA(c, key, d)
	}, nil, cbffi.NoHandle)
}

func keysSignSchnorr(key cbffi.Handle, d []byte) cbffi.Envelope {
	return call("keys_sign_schnorr", func(c *cbffi.Call) (any, error) {
		return keys.SignSchnorr(c, key, d)
	}, nil, cbffi.NoHandle)
}

func keysVerify(pub, d, sig []byte) cbffi.Envelope {
	return call("keys_verify", func(*cbffi.Call) (any, error) {
		return keys.VerifyECDSA(pub, d, sig)
	}, nil, cbffi.NoHandle)
}

func keysVerifySchnorr(pub, d, sig []byte) cbffi.Envelope {
	return call("keys_verify_schnorr", func(*cbffi.Call) (any, error) {
		return keys.VerifySchnorr(pub, d, sig)
	}, nil, cbffi.NoHandle)
}

func digestSum(algo string, data []byte, progress cbffi.Progress, token cbffi.Handle) cbffi.Envelope {
	return call("digest", func(c *cbffi.Call) (any, error) {
		a, err := digest.ParseAlgorithm(algo)
		if err != nil {
			return nil, err
		}
		return digest.Sum(c, a, data)
	}, progress, token)
}

// digestBatch takes a codec-encoded digest.BatchRequest.
func digestBatch(request []byte, progress cbffi.Progress, token cbffi.Handle) cbffi.Envelope {
	return call("digest_batch", func(c *cbffi.Call) (any, error) {
		return digest.Batch(c, request)
	}, progress, token)
}

func compressEncode(format string, data []byte, progress cbffi.Progress, token cbffi.Handle) cbffi.Envelope {
	return call("compress", func(c *cbffi.Call) (any, error) {
		f, err := compress.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		return compress.Encode(c, f, data)
	}, progress, token)
}

func compressDecode(format string, data []byte, progress cbffi.Progress, token cbffi.Handle) cbffi.Envelope {
	return call("decompress", func(c *cbffi.Call) (any, error) {
		f, err := compress.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		return compress.Decode(c, f, data)
	}, progress, token)
}

func cursorOpen(data []byte, chunk int) cbffi.Envelope {
	return call("cursor_open", func(c *cbffi.Call) (any, error) {
		_, err := cursor.Open(c, data, chunk)
		return nil, err
	}, nil, cbffi.NoHandle)
}

func cursorOpenDecoder(format string, data []byte, chunk int) cbffi.Envelope {
	return call("cursor_open_decoder", func(c *cbffi.Call) (any, error) {
		f, err := compress.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		_, err = compress.OpenDecoder(c, f, data, chunk)
		return nil, err
	}, nil, cbffi.NoHandle)
}

func cursorNext(h cbffi.Handle) cbffi.Envelope {
	return call("cursor_next", func(c *cbffi.Call) (any, error) {
		return cursor.Next(c, h)
	}, nil, cbffi.NoHandle)
}
