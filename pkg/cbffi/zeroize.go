package cbffi

import "runtime"

// ZeroizeBytes overwrites buf with zeros and keeps the store from being
// eliminated as dead (golang/go#33325).
//
// Go may already have copied the data elsewhere, so this limits exposure
// rather than guaranteeing the bytes are gone. Key material held by the keys
// package and payload copies released through cbffi_free_result go through
// this function.
func ZeroizeBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}
