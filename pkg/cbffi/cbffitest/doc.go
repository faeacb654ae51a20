// Package cbffitest provides helpers for testing code that runs behind the
// boundary host.
//
// It offers a host constructor that logs into the test output, a recording
// progress sink that can cancel after a chosen number of reports, and small
// assertions over envelopes.
//
// # Usage
//
//	host := cbffitest.NewHost(t)
//	rec := cbffitest.NewRecorder()
//
//	env := host.Invoke(ctx, "digest", func(c *cbffi.Call) (any, error) {
//	    return digest.Sum(c, digest.SHA256, data)
//	}, cbffi.WithProgress(rec))
//
//	payload := cbffitest.RequireOK(t, env)
//	rec.RequireMonotonic(t)
//
// # Cancelling
//
// CancelAfter(n) builds a recorder whose n-th report returns false, which the
// host turns into a Cancelled envelope:
//
//	rec := cbffitest.CancelAfter(1)
//	env := host.Invoke(ctx, "digest", fn, cbffi.WithProgress(rec))
//	cbffitest.RequireCode(t, env, cbffi.Cancelled)
//
// Recorders are safe for concurrent use, but each host call delivers on a
// single goroutine.
package cbffitest
