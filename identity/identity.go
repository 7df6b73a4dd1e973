// Package identity wraps the long-lived signing key every participant
// (node, relay, index server) carries. Public keys double as the canonical
// node IDs and order lexicographically over their compressed encoding.
package identity

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// PublicKeySize is the length in bytes of a compressed public key, used
// throughout the wire formats as the canonical identity encoding.
const PublicKeySize = 33

// PublicKey is the canonical, comparable identity of a participant.
type PublicKey [PublicKeySize]byte

// Less totally orders public keys lexicographically over their bytes. The
// token channel's initial-state derivation and the channeler's
// initiator/listener role both depend on this ordering.
func (pk PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(pk[:], other[:]) < 0
}

func (pk PublicKey) String() string {
	return hexString(pk[:])
}

// Signer is the narrow capability object every loop signs through. It is
// safe for concurrent use: the identity service may be a remote black-box
// process, and every caller funnels through the same serialized channel.
type Signer interface {
	// PublicKey returns this node's long-lived public key.
	PublicKey() PublicKey

	// Sign returns a signature over an already-hashed buffer. Callers are
	// responsible for constructing the canonical pre-image; Signer never
	// hashes on their behalf.
	Sign(hash [32]byte) ([]byte, error)

	// Verify checks a signature produced by Sign against an arbitrary
	// public key, for validating remote signatures (MoveToken, ResetToken,
	// response, receipt, commit buffers).
	Verify(hash [32]byte, sig []byte, pub PublicKey) bool
}

// LocalSigner is a Signer backed by an in-process ECDSA private key. It
// exists for tests and for a standalone daemon that is its own identity
// service; a production deployment may instead dial a remote identity
// service implementing the same Signer interface.
type LocalSigner struct {
	mu   sync.Mutex
	priv *btcec.PrivateKey
	pub  PublicKey
}

// NewLocalSigner builds a LocalSigner from a raw 32-byte secret.
func NewLocalSigner(secret [32]byte) *LocalSigner {
	priv, pubKey := btcec.PrivKeyFromBytes(secret[:])
	s := &LocalSigner{priv: priv}
	copy(s.pub[:], pubKey.SerializeCompressed())
	return s
}

// GenerateLocalSigner creates a fresh random identity, used by tests that
// don't care about a fixed key.
func GenerateLocalSigner(rng io.Reader) (*LocalSigner, error) {
	var secret [32]byte
	if _, err := io.ReadFull(rng, secret[:]); err != nil {
		return nil, err
	}
	return NewLocalSigner(secret), nil
}

// PublicKey implements Signer.
func (s *LocalSigner) PublicKey() PublicKey {
	return s.pub
}

// Sign implements Signer. The identity signer must serialize internally
// per the concurrency model; btcec's Sign is already safe to call from
// multiple goroutines, but we still hold the lock to keep the API's
// "shared resource, single writer" contract explicit.
func (s *LocalSigner) Sign(hash [32]byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := ecdsa.Sign(s.priv, hash[:])
	return sig.Serialize(), nil
}

// Verify implements Signer.
func (s *LocalSigner) Verify(hash [32]byte, sigBytes []byte, pub PublicKey) bool {
	return Verify(hash, sigBytes, pub)
}

// Verify checks a DER-encoded ECDSA signature against a compressed public
// key without requiring a Signer instance, used by the token channel and
// mutual credit layers to check remote signatures.
func Verify(hash [32]byte, sigBytes []byte, pub PublicKey) bool {
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	pk, err := btcec.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pk)
}

// RNG is the cryptographically secure randomness capability object. It
// backs src_plain_lock, dest_plain_lock, request_id, payment_id, nonces,
// and ack_uid generation (§5 Shared resources).
type RNG interface {
	Read(p []byte) (int, error)
}

// SystemRNG is the default RNG, backed by crypto/rand.
var SystemRNG RNG = rand.Reader

// Rand32 draws 32 cryptographically secure random bytes from rng. A
// failure here is fatal per the error-handling design: RNG failure is
// listed alongside arithmetic overflow and persistence failure.
func Rand32(rng RNG) ([32]byte, error) {
	var out [32]byte
	_, err := io.ReadFull(toReader(rng), out[:])
	return out, err
}

// Rand16 draws 16 bytes, used for ack_uid.
func Rand16(rng RNG) ([16]byte, error) {
	var out [16]byte
	_, err := io.ReadFull(toReader(rng), out[:])
	return out, err
}

func toReader(rng RNG) io.Reader {
	if r, ok := rng.(io.Reader); ok {
		return r
	}
	return readerFunc(rng.Read)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

const hextable = "0123456789abcdef"

func hexString(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
