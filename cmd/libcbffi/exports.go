//go:build cgo

package main

/*
#include <stdlib.h>
#include <string.h>
#include "cbffi.h"
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"unsafe"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
)

// cProgress forwards reports to a C callback. C callbacks return void, so they
// never cancel; C callers cancel through tokens instead.
type cProgress struct {
	fn C.Progress
}

func (p cProgress) Notify(n int64) bool {
	C.cbffi_call_progress(p.fn, C.longlong(n))
	return true
}

func progressOf(fn C.Progress) cbffi.Progress {
	if fn == nil {
		return nil
	}
	return cProgress{fn: fn}
}

// dataBytes aliases the caller's buffer for the duration of a call.
func dataBytes(d C.Data) ([]byte, error) {
	if uint64(d.len) > math.MaxInt {
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "buffer length %d overflows int", uint64(d.len))
	}
	b, err := cbffi.FromPointer(d.ptr, int(d.len))
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// allocate returns n bytes of C memory, or nil when malloc fails.
var allocate = func(n int) unsafe.Pointer {
	return C.cbffi_alloc(C.size_t(n))
}

func fallbackError() *C.char { return C.cbffi_fallback_error() }

func isFallbackError(s *C.char) bool { return C.cbffi_is_fallback_error(s) != 0 }

// cError copies msg into C memory. If that fails the static fallback string
// is returned instead.
func cError(msg string) *C.char {
	if msg == "" {
		msg = cbffi.FallbackMessage
	}
	p := allocate(len(msg) + 1)
	if p == nil {
		return fallbackError()
	}
	dst := unsafe.Slice((*byte)(p), len(msg)+1)
	copy(dst, msg)
	dst[len(msg)] = 0
	return (*C.char)(p)
}

func failure(env cbffi.Envelope) C.Result {
	return C.Result{err: cError(env.Message())}
}

// toResult copies env into C memory owned by the caller.
func toResult(env cbffi.Envelope) C.Result {
	if !env.Valid() {
		return failure(cbffi.Failure(cbffi.Errorf(cbffi.Internal, "malformed envelope")))
	}
	if !env.OK() {
		return failure(env)
	}
	payload := env.Payload()
	var ptr unsafe.Pointer
	if len(payload) > 0 {
		ptr = allocate(len(payload))
		if ptr == nil {
			releaseOrphan(env.Handle())
			return failure(cbffi.Failure(cbffi.Errorf(cbffi.ResourceExhausted, "cannot allocate %d bytes for result", len(payload))))
		}
		C.memcpy(ptr, unsafe.Pointer(&payload[0]), C.size_t(len(payload)))
	}
	return C.Result{ptr: ptr, len: C.size_t(len(payload)), hnd: C.longlong(env.Handle())}
}

// guard turns a panic escaping the export itself into an Internal result.
func guard(op string, res *C.Result) {
	if r := recover(); r != nil {
		if h, err := current(); err == nil {
			h.Logger().Error(context.Background(), "export panicked", "op", op, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		*res = failure(fail(op, cbffi.Errorf(cbffi.Internal, "panic: %s", fmt.Sprint(r))))
	}
}

//export cbffi_init
func cbffi_init(config C.Data) (res C.Result) {
	defer guard("init", &res)
	data, err := dataBytes(config)
	if err != nil {
		return toResult(fail("init", err))
	}
	return toResult(initHost(data))
}

//export cbffi_shutdown
func cbffi_shutdown() (res C.Result) {
	defer guard("shutdown", &res)
	return toResult(shutdownHost())
}

//export cbffi_version
func cbffi_version() (res C.Result) {
	defer guard("version", &res)
	return toResult(version())
}

// cbffi_free_result releases the memory of a Result. It must be called exactly
// once per Result; the static fallback error is never freed.
//
//export cbffi_free_result
func cbffi_free_result(r C.Result) {
	if r.ptr != nil {
		if zeroizeOnRelease.Load() {
			scrub(r)
		}
		C.free(r.ptr)
	}
	if r.err != nil && !isFallbackError(r.err) {
		C.free(unsafe.Pointer(r.err))
	}
}

// scrub zeroes the payload of r in place.
func scrub(r C.Result) {
	if r.ptr == nil || r.len == 0 || uint64(r.len) > math.MaxInt {
		return
	}
	cbffi.ZeroizeBytes(unsafe.Slice((*byte)(r.ptr), int(r.len)))
}

//export cbffi_release
func cbffi_release(h C.longlong) (res C.Result) {
	defer guard("release", &res)
	return toResult(release(cbffi.Handle(h)))
}

//export cbffi_snapshot
func cbffi_snapshot() (res C.Result) {
	defer guard("snapshot", &res)
	return toResult(snapshot())
}

//export cbffi_set_log_level
func cbffi_set_log_level(level *C.char) (res C.Result) {
	defer guard("set_log_level", &res)
	return toResult(setLogLevel(goString(level)))
}

//export cbffi_recent_log
func cbffi_recent_log(n C.int) (res C.Result) {
	defer guard("recent_log", &res)
	return toResult(recentLog(int(n)))
}

//export cbffi_token_new
func cbffi_token_new() (res C.Result) {
	defer guard("token_new", &res)
	return toResult(tokenNew())
}

// cbffi_token_cancel may be called from any thread while a call bound to the
// token is running.
//
//export cbffi_token_cancel
func cbffi_token_cancel(token C.longlong) (res C.Result) {
	defer guard("token_cancel", &res)
	return toResult(tokenCancel(cbffi.Handle(token)))
}

//export cbffi_keys_new
func cbffi_keys_new() (res C.Result) {
	defer guard("keys_new", &res)
	return toResult(keysNew())
}

//export cbffi_keys_import
func cbffi_keys_import(secret C.Data) (res C.Result) {
	defer guard("keys_import", &res)
	s, err := dataBytes(secret)
	if err != nil {
		return toResult(fail("keys_import", err))
	}
	return toResult(keysImport(s))
}

//export cbffi_keys_public
func cbffi_keys_public(key C.longlong) (res C.Result) {
	defer guard("keys_public", &res)
	return toResult(keysPublic(cbffi.Handle(key)))
}

//export cbffi_keys_sign
func cbffi_keys_sign(key C.longlong, digest C.Data) (res C.Result) {
	defer guard("keys_sign", &res)
	d, err := dataBytes(digest)
	if err != nil {
		return toResult(fail("keys_sign", err))
	}
	return toResult(keysSign(cbffi.Handle(key), d))
}

//export cbffi_keys_sign_schnorr
func cbffi_keys_sign_schnorr(key C.longlong, digest C.Data) (res C.Result) {
	defer guard("keys_sign_schnorr", &res)
	d, err := dataBytes(digest)
	if err != nil {
		return toResult(fail("keys_sign_schnorr", err))
	}
	return toResult(keysSignSchnorr(cbffi.Handle(key), d))
}

func verifyArgs(pub, digest, sig C.Data) (p, d, s []byte, err error) {
	if p, err = dataBytes(pub); err != nil {
		return
	}
	if d, err = dataBytes(digest); err != nil {
		return
	}
	s, err = dataBytes(sig)
	return
}

//export cbffi_keys_verify
func cbffi_keys_verify(pub, digest, sig C.Data) (res C.Result) {
	defer guard("keys_verify", &res)
	p, d, s, err := verifyArgs(pub, digest, sig)
	if err != nil {
		return toResult(fail("keys_verify", err))
	}
	return toResult(keysVerify(p, d, s))
}

//export cbffi_keys_verify_schnorr
func cbffi_keys_verify_schnorr(pub, digest, sig C.Data) (res C.Result) {
	defer guard("keys_verify_schnorr", &res)
	p, d, s, err := verifyArgs(pub, digest, sig)
	if err != nil {
		return toResult(fail("keys_verify_schnorr", err))
	}
	return toResult(keysVerifySchnorr(p, d, s))
}

//export cbffi_digest
func cbffi_digest(algo *C.char, data C.Data, progress C.Progress, token C.longlong) (res C.Result) {
	defer guard("digest", &res)
	b, err := dataBytes(data)
	if err != nil {
		return toResult(fail("digest", err))
	}
	return toResult(digestSum(goString(algo), b, progressOf(progress), cbffi.Handle(token)))
}

//export cbffi_digest_batch
func cbffi_digest_batch(request C.Data, progress C.Progress, token C.longlong) (res C.Result) {
	defer guard("digest_batch", &res)
	b, err := dataBytes(request)
	if err != nil {
		return toResult(fail("digest_batch", err))
	}
	return toResult(digestBatch(b, progressOf(progress), cbffi.Handle(token)))
}

//export cbffi_compress
func cbffi_compress(format *C.char, data C.Data, progress C.Progress, token C.longlong) (res C.Result) {
	defer guard("compress", &res)
	b, err := dataBytes(data)
	if err != nil {
		return toResult(fail("compress", err))
	}
	return toResult(compressEncode(goString(format), b, progressOf(progress), cbffi.Handle(token)))
}

//export cbffi_decompress
func cbffi_decompress(format *C.char, data C.Data, progress C.Progress, token C.longlong) (res C.Result) {
	defer guard("decompress", &res)
	b, err := dataBytes(data)
	if err != nil {
		return toResult(fail("decompress", err))
	}
	return toResult(compressDecode(goString(format), b, progressOf(progress), cbffi.Handle(token)))
}

//export cbffi_cursor_open
func cbffi_cursor_open(data C.Data, chunk C.int) (res C.Result) {
	defer guard("cursor_open", &res)
	b, err := dataBytes(data)
	if err != nil {
		return toResult(fail("cursor_open", err))
	}
	return toResult(cursorOpen(b, int(chunk)))
}

//export cbffi_cursor_open_decoder
func cbffi_cursor_open_decoder(format *C.char, data C.Data, chunk C.int) (res C.Result) {
	defer guard("cursor_open_decoder", &res)
	b, err := dataBytes(data)
	if err != nil {
		return toResult(fail("cursor_open_decoder", err))
	}
	return toResult(cursorOpenDecoder(goString(format), b, int(chunk)))
}

//export cbffi_cursor_next
func cbffi_cursor_next(h C.longlong) (res C.Result) {
	defer guard("cursor_next", &res)
	return toResult(cursorNext(cbffi.Handle(h)))
}
