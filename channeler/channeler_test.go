package channeler

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

func newTestSigner(t *testing.T) *identity.LocalSigner {
	t.Helper()
	s, err := identity.GenerateLocalSigner(identity.SystemRNG)
	if err != nil {
		t.Fatalf("GenerateLocalSigner: %v", err)
	}
	return s
}

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	initConn, listenConn := net.Pipe()
	defer initConn.Close()
	defer listenConn.Close()

	initSigner := newTestSigner(t)
	listenSigner := newTestSigner(t)

	type result struct {
		remotePk        identity.PublicKey
		sendKey, recvKey [32]byte
		err             error
	}
	initCh := make(chan result, 1)
	listenCh := make(chan result, 1)

	go func() {
		pk, send, recv, err := performHandshake(initConn, initSigner, identity.SystemRNG, true)
		initCh <- result{pk, send, recv, err}
	}()
	go func() {
		pk, send, recv, err := performHandshake(listenConn, listenSigner, identity.SystemRNG, false)
		listenCh <- result{pk, send, recv, err}
	}()

	initRes := <-initCh
	listenRes := <-listenCh

	if initRes.err != nil {
		t.Fatalf("initiator handshake: %v", initRes.err)
	}
	if listenRes.err != nil {
		t.Fatalf("listener handshake: %v", listenRes.err)
	}
	if initRes.remotePk != listenSigner.PublicKey() {
		t.Fatalf("initiator learned wrong remote key")
	}
	if listenRes.remotePk != initSigner.PublicKey() {
		t.Fatalf("listener learned wrong remote key")
	}
	if initRes.sendKey != listenRes.recvKey {
		t.Fatalf("initiator send key does not match listener recv key")
	}
	if initRes.recvKey != listenRes.sendKey {
		t.Fatalf("initiator recv key does not match listener send key")
	}
}

func TestHandshakeRejectsForgedSignature(t *testing.T) {
	initConn, listenConn := net.Pipe()
	defer initConn.Close()
	defer listenConn.Close()

	initSigner := newTestSigner(t)
	impostorSigner := newTestSigner(t)

	errCh := make(chan error, 1)
	go func() {
		_, _, _, err := performHandshake(listenConn, newTestSigner(t), identity.SystemRNG, false)
		errCh <- err
	}()

	// Write a handshake message claiming initSigner's identity but signed
	// by a different key, simulating an attacker without initSigner's
	// private key trying to impersonate it.
	_, ephPub, err := generateEphemeral(identity.SystemRNG)
	if err != nil {
		t.Fatalf("generateEphemeral: %v", err)
	}
	forged, err := impostorSigner.Sign(ephemeralSignHash(ephPub))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := writeHandshakeMsg(initConn, initSigner.PublicKey(), ephPub, forged); err != nil {
		t.Fatalf("writeHandshakeMsg: %v", err)
	}

	err = <-errCh
	if err == nil {
		t.Fatalf("expected listener to reject a forged signature")
	}
}

func TestSessionRoundTripsFrames(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var key1, key2 [32]byte
	copy(key1[:], bytes.Repeat([]byte{0x11}, 32))
	copy(key2[:], bytes.Repeat([]byte{0x22}, 32))

	pkA := identity.PublicKey{}
	pkB := identity.PublicKey{}

	sessA, err := newSession(a, pkB, key1, key2)
	if err != nil {
		t.Fatalf("newSession A: %v", err)
	}
	sessB, err := newSession(b, pkA, key2, key1)
	if err != nil {
		t.Fatalf("newSession B: %v", err)
	}

	received := make(chan []byte, 1)
	sessA.start(func(payload []byte) {})
	sessB.start(func(payload []byte) { received <- payload })
	defer sessA.close()
	defer sessB.close()

	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, wire.FrameMoveToken, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	sessA.out.replace(buf.Bytes())

	select {
	case got := <-received:
		if !bytes.Equal(got, buf.Bytes()) {
			t.Fatalf("got %x, want %x", got, buf.Bytes())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
}

func TestOutboxOverwritesUnsentFrame(t *testing.T) {
	o := newOutbox()
	o.replace([]byte("first"))
	o.replace([]byte("second"))

	got := o.take()
	if string(got) != "second" {
		t.Fatalf("got %q, want %q (overwrite should discard the first frame)", got, "second")
	}
	if o.take() != nil {
		t.Fatalf("expected outbox to be empty after take")
	}
}
