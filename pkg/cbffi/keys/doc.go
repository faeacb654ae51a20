// Package keys exposes secp256k1 private keys as boundary resources.
//
// A key lives on the Go side of the boundary for its whole life. Callers
// receive a handle and the public key; the scalar never crosses back. Closing
// a key (which happens when its handle is released or the host shuts down)
// zeroes the scalar.
//
// ECDSA signatures are DER encoded. Schnorr signatures follow BIP340 and are
// 64 bytes. Every signing and verification call expects a 32-byte digest;
// hashing the message is the caller's job (see package digest).
package keys
