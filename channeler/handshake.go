package channeler

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

// handshakeDomain binds the signature over an ephemeral key to this
// protocol specifically, so a signature produced for any other purpose can
// never be replayed here.
var handshakeDomain = []byte("offst-channeler-handshake-v1")

func generateEphemeral(rng identity.RNG) (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(toIOReader(rng), priv[:]); err != nil {
		return priv, pub, err
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

func toIOReader(rng identity.RNG) io.Reader {
	if r, ok := rng.(io.Reader); ok {
		return r
	}
	return readerFunc(rng.Read)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// writeHandshakeMsg writes the one message shape both initiator and
// listener send: static identity key, ephemeral X25519 key, and a
// signature binding them together.
func writeHandshakeMsg(w io.Writer, staticPk identity.PublicKey, ephemeralPk [32]byte, sig []byte) error {
	var hdr [identity.PublicKeySize + 32 + 2]byte
	copy(hdr[:identity.PublicKeySize], staticPk[:])
	copy(hdr[identity.PublicKeySize:identity.PublicKeySize+32], ephemeralPk[:])
	binary.BigEndian.PutUint16(hdr[identity.PublicKeySize+32:], uint16(len(sig)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(sig)
	return err
}

func readHandshakeMsg(r io.Reader) (staticPk identity.PublicKey, ephemeralPk [32]byte, sig []byte, err error) {
	var hdr [identity.PublicKeySize + 32 + 2]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return
	}
	copy(staticPk[:], hdr[:identity.PublicKeySize])
	copy(ephemeralPk[:], hdr[identity.PublicKeySize:identity.PublicKeySize+32])
	sigLen := binary.BigEndian.Uint16(hdr[identity.PublicKeySize+32:])
	if sigLen > 256 {
		err = fmt.Errorf("channeler: handshake signature too large (%d bytes)", sigLen)
		return
	}
	sig = make([]byte, sigLen)
	_, err = io.ReadFull(r, sig)
	return
}

func ephemeralSignHash(ephemeralPk [32]byte) wire.Hash {
	h := sha256.New()
	h.Write(handshakeDomain)
	h.Write(ephemeralPk[:])
	var out wire.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// performHandshake runs the two-message ephemeral-ECDH handshake over conn
// and derives the pair of directional AEAD session keys. It approximates
// the shape of a Noise_XX-style authenticated key exchange — ephemeral ECDH
// plus a static-key signature over the ephemeral share — without pulling in
// lnd's brontide package, which is not part of this node's dependency
// surface; curve25519/hkdf/chacha20poly1305 are golang.org/x/crypto
// sub-packages already required for other purposes.
//
// The caller supplies initiator/listener role (decided by comparing public
// keys, §4.4) since that ordering determines which of the two derived
// directional keys this side sends with versus receives with. remotePk is
// discovered from the handshake itself, not supplied in advance, since a
// listener does not know who is dialing in until the first message arrives.
func performHandshake(conn net.Conn, signer identity.Signer, rng identity.RNG, initiator bool) (remotePk identity.PublicKey, sendKey, recvKey [32]byte, err error) {
	ephPriv, ephPub, err := generateEphemeral(rng)
	if err != nil {
		return remotePk, sendKey, recvKey, err
	}
	sig, err := signer.Sign(ephemeralSignHash(ephPub))
	if err != nil {
		return remotePk, sendKey, recvKey, err
	}

	send := func() error { return writeHandshakeMsg(conn, signer.PublicKey(), ephPub, sig) }
	recv := func() (identity.PublicKey, [32]byte, error) {
		pk, peerEphPub, rErr := func() (identity.PublicKey, [32]byte, error) {
			pk, peerEphPub, peerSig, rErr := readHandshakeMsg(conn)
			if rErr != nil {
				return pk, peerEphPub, rErr
			}
			if !identity.Verify(ephemeralSignHash(peerEphPub), peerSig, pk) {
				return pk, peerEphPub, fmt.Errorf("channeler: handshake signature invalid for %v", pk)
			}
			return pk, peerEphPub, nil
		}()
		return pk, peerEphPub, rErr
	}

	var peerEphPub [32]byte
	if initiator {
		if err = send(); err != nil {
			return
		}
		if remotePk, peerEphPub, err = recv(); err != nil {
			return
		}
	} else {
		if remotePk, peerEphPub, err = recv(); err != nil {
			return
		}
		if err = send(); err != nil {
			return
		}
	}

	sharedSecret, err := curve25519.X25519(ephPriv[:], peerEphPub[:])
	if err != nil {
		return remotePk, sendKey, recvKey, err
	}

	initToListen, err := deriveKey(sharedSecret, "offst channeler initiator->listener")
	if err != nil {
		return remotePk, sendKey, recvKey, err
	}
	listenToInit, err := deriveKey(sharedSecret, "offst channeler listener->initiator")
	if err != nil {
		return remotePk, sendKey, recvKey, err
	}
	if initiator {
		sendKey, recvKey = initToListen, listenToInit
	} else {
		sendKey, recvKey = listenToInit, initToListen
	}
	return remotePk, sendKey, recvKey, nil
}

func deriveKey(secret []byte, info string) ([32]byte, error) {
	var out [32]byte
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	_, err := io.ReadFull(reader, out[:])
	return out, err
}
