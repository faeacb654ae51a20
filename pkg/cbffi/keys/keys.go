package keys

import (
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi"
	"github.com/coinbase/cb-ffi-go/pkg/cbffi/logging"
)

const (
	// SecretSize is the length of a serialized private scalar.
	SecretSize = 32
	// DigestSize is the only digest length accepted for signing.
	DigestSize = 32
)

// Key is a secp256k1 private key held behind a handle.
type Key struct {
	mu   sync.Mutex
	priv *btcec.PrivateKey
}

// Close zeroes the scalar. Later signing attempts report NotFound.
func (k *Key) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv != nil {
		k.priv.Zero()
		k.priv = nil
	}
	return nil
}

func (k *Key) use(fn func(*btcec.PrivateKey) ([]byte, error)) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv == nil {
		return nil, cbffi.Errorf(cbffi.NotFound, "key has been released")
	}
	return fn(k.priv)
}

// PublicKeyInfo is the structured payload returned by PublicKey.
type PublicKeyInfo struct {
	Compressed []byte `json:"compressed"`
	XOnly      []byte `json:"x_only"`
}

// Verdict is the payload of the verification calls.
type Verdict struct {
	Valid bool `json:"valid"`
}

// New generates a key, registers it with the call and returns the compressed
// public key.
func New(c *cbffi.Call) ([]byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, cbffi.Errorf(cbffi.Internal, "generate key", err)
	}
	return register(c, priv)
}

// Import registers a key built from a 32-byte big-endian scalar. The scalar
// must be non-zero and below the group order.
func Import(c *cbffi.Call, secret []byte) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	var s btcec.ModNScalar
	overflow := s.SetByteSlice(secret)
	if overflow || s.IsZero() {
		s.Zero()
		return nil, cbffi.Errorf(cbffi.InvalidArgument, "secret is not a valid secp256k1 scalar")
	}
	s.Zero()

	priv, _ := btcec.PrivKeyFromBytes(secret)
	c.Logger().Debug(c.Context(), "importing key", logging.Redacted("secret"))
	return register(c, priv)
}

func register(c *cbffi.Call, priv *btcec.PrivateKey) ([]byte, error) {
	pub := priv.PubKey().SerializeCompressed()
	if _, err := c.Register(&Key{priv: priv}); err != nil {
		priv.Zero()
		return nil, err
	}
	return pub, nil
}

// PublicKey returns both encodings of the public key behind h.
func PublicKey(c *cbffi.Call, h cbffi.Handle) (PublicKeyInfo, error) {
	k, err := cbffi.CallResolve[*Key](c, h)
	if err != nil {
		return PublicKeyInfo{}, err
	}
	var out PublicKeyInfo
	_, err = k.use(func(priv *btcec.PrivateKey) ([]byte, error) {
		pub := priv.PubKey()
		out = PublicKeyInfo{
			Compressed: pub.SerializeCompressed(),
			XOnly:      schnorr.SerializePubKey(pub),
		}
		return nil, nil
	})
	return out, err
}

// SignECDSA signs digest with the key behind h and returns a DER signature.
func SignECDSA(c *cbffi.Call, h cbffi.Handle, digest []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	k, err := cbffi.CallResolve[*Key](c, h)
	if err != nil {
		return nil, err
	}
	return k.use(func(priv *btcec.PrivateKey) ([]byte, error) {
		return ecdsa.Sign(priv, digest).Serialize(), nil
	})
}

// SignSchnorr signs digest with the key behind h and returns a 64-byte BIP340
// signature.
func SignSchnorr(c *cbffi.Call, h cbffi.Handle, digest []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	k, err := cbffi.CallResolve[*Key](c, h)
	if err != nil {
		return nil, err
	}
	return k.use(func(priv *btcec.PrivateKey) ([]byte, error) {
		sig, err := schnorr.Sign(priv, digest)
		if err != nil {
			return nil, cbffi.Errorf(cbffi.Internal, "schnorr sign", err)
		}
		return sig.Serialize(), nil
	})
}

// VerifyECDSA checks a DER signature against a compressed or uncompressed
// public key. A well-formed signature that does not verify is a successful
// call with Valid false.
func VerifyECDSA(pub, digest, sig []byte) (Verdict, error) {
	if err := checkDigest(digest); err != nil {
		return Verdict{}, err
	}
	pk, err := btcec.ParsePubKey(pub)
	if err != nil {
		return Verdict{}, cbffi.Errorf(cbffi.InvalidArgument, "parse public key", err)
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return Verdict{}, cbffi.Errorf(cbffi.InvalidArgument, "parse DER signature", err)
	}
	return Verdict{Valid: s.Verify(digest, pk)}, nil
}

// VerifySchnorr checks a BIP340 signature. pub may be x-only (32 bytes) or
// SEC1 encoded.
func VerifySchnorr(pub, digest, sig []byte) (Verdict, error) {
	if err := checkDigest(digest); err != nil {
		return Verdict{}, err
	}
	var (
		pk  *btcec.PublicKey
		err error
	)
	if len(pub) == 32 {
		pk, err = schnorr.ParsePubKey(pub)
	} else {
		pk, err = btcec.ParsePubKey(pub)
	}
	if err != nil {
		return Verdict{}, cbffi.Errorf(cbffi.InvalidArgument, "parse public key", err)
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return Verdict{}, cbffi.Errorf(cbffi.InvalidArgument, "parse schnorr signature", err)
	}
	return Verdict{Valid: s.Verify(digest, pk)}, nil
}

func checkDigest(digest []byte) error {
	if len(digest) != DigestSize {
		return cbffi.Errorf(cbffi.InvalidArgument, "digest must be %d bytes, got %d", DigestSize, len(digest))
	}
	return nil
}
