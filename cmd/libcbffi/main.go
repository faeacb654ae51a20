// Command libcbffi is the C edge of the boundary. Build it as a shared
// library:
//
//	go build -buildmode=c-shared -o libcbffi.so ./cmd/libcbffi
//
// The generated libcbffi.h declares every export; cbffi.h in this directory
// declares the Data, Result and Progress types they use.
//
// Every export returns a Result. On success err is NULL, ptr/len hold the
// payload (NULL/0 when empty) and hnd holds a handle or 0. On failure ptr is
// NULL, len and hnd are 0 and err is a NUL-terminated JSON object:
//
//	{"code":"NotFound","op":"keys_sign","msg":"handle 7 not found"}
//
// Pass every Result to cbffi_free_result exactly once. Release handles with
// cbffi_release.
//
// Progress callbacks run on the calling thread before the export returns.
// They cannot stop a call; use cbffi_token_new, pass the token to the call
// and trip it with cbffi_token_cancel from another thread. Callbacks must not
// call cbffi_shutdown.
package main

func main() {}
