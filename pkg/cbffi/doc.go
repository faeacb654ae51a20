// Package cbffi implements the Go side of a C call boundary: byte buffers
// going in, result envelopes coming out, opaque handles for long-lived
// resources and a progress channel with cooperative cancellation.
//
// The package has no cgo in it. The C edge lives in cmd/libcbffi, which is
// built with -buildmode=c-shared and converts Envelopes into the C Result
// struct. Everything here can be exercised from plain Go tests.
//
// # Boundary Calls
//
// A boundary call is a CallFunc run through Host.Invoke:
//
//	host, err := cbffi.Open(cbffi.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer host.Close()
//
//	env := host.Invoke(ctx, "digest", func(c *cbffi.Call) (any, error) {
//	    return digest.Sum(c, digest.SHA256, data)
//	}, cbffi.WithProgress(sink))
//	if !env.OK() {
//	    return env.Err()
//	}
//
// Invoke never panics and always returns a well-formed Envelope. On success
// the envelope carries payload bytes (possibly empty) and at most one handle.
// On failure it carries an *Error and nothing else.
//
// # Handles
//
// Resources that outlive a call are registered in the host's HandleTable and
// referenced by Handle values. Handles are never reused. A released handle
// reports NotFound forever after.
//
// # Ownership
//
// Buffer values never own memory. Payloads copied into C memory by
// cmd/libcbffi belong to the caller, who must pass each Result to
// cbffi_free_result exactly once. Double release is not detected.
//
// # Cancellation
//
// Callees check for cancellation at points of their choosing through
// Call.Progress(). A callee that never reports or checkpoints cannot be
// stopped.
package cbffi
