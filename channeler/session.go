package channeler

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/offstlabs/offst/identity"
)

// maxRecordSize bounds a single encrypted record so a misbehaving or
// corrupted peer cannot make the reader allocate without limit.
const maxRecordSize = 1 << 20

// outbox is the per-friend overwrite channel (§4.4): it holds at most one
// unsent frame. Replacing a queued-but-unsent frame with a newer one is
// always correct here, since a MoveToken frame built later is built on top
// of whatever local state the earlier one also reflected - there is never
// a reason to deliver both. This stands in for peer.go's container/list
// outgoing queue, which assumes every queued message must eventually reach
// the wire; a token channel's outbound obligation does not work that way.
type outbox struct {
	mu      sync.Mutex
	pending []byte
	wake    chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) replace(frame []byte) {
	o.mu.Lock()
	o.pending = frame
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.pending
	o.pending = nil
	return f
}

// session is one friend's live encrypted connection. readLoop decrypts
// inbound records and hands the plaintext (itself a wire.WriteFrame-encoded
// blob built by funder's sendFrame) up to onFrame; writeLoop drains outbox
// into encrypted records. Grounded on peer.go's split readHandler/
// writeHandler goroutines, minus the ping/queue machinery that handles
// lnwire's many message kinds - a token channel only ever has one frame
// worth sending at a time.
type session struct {
	conn     net.Conn
	remotePk identity.PublicKey

	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD
	sendSeq  uint64
	recvSeq  uint64

	out  *outbox
	quit chan struct{}
	wg   sync.WaitGroup
}

func newSession(conn net.Conn, remotePk identity.PublicKey, sendKey, recvKey [32]byte) (*session, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, err
	}
	return &session{
		conn:     conn,
		remotePk: remotePk,
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
		out:      newOutbox(),
		quit:     make(chan struct{}),
	}, nil
}

func seqNonce(seq uint64) []byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], seq)
	return nonce[:]
}

func (s *session) writeRecord(plaintext []byte) error {
	ciphertext := s.sendAEAD.Seal(nil, seqNonce(s.sendSeq), plaintext, nil)
	s.sendSeq++

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(ciphertext)))
	if _, err := s.conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := s.conn.Write(ciphertext)
	return err
}

func (s *session) readRecord() ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(s.conn, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxRecordSize {
		return nil, fmt.Errorf("channeler: record too large (%d bytes)", n)
	}
	ciphertext := make([]byte, n)
	if _, err := io.ReadFull(s.conn, ciphertext); err != nil {
		return nil, err
	}
	plaintext, err := s.recvAEAD.Open(ciphertext[:0], seqNonce(s.recvSeq), ciphertext, nil)
	s.recvSeq++
	if err != nil {
		return nil, fmt.Errorf("channeler: record authentication failed from %v: %w", s.remotePk, err)
	}
	return plaintext, nil
}

// readLoop blocks on the connection until it closes or fails, handing every
// authenticated frame to onFrame. Runs on its own goroutine.
func (s *session) readLoop(onFrame func(payload []byte)) {
	for {
		payload, err := s.readRecord()
		if err != nil {
			return
		}
		onFrame(payload)
	}
}

// writeLoop drains outbox into the connection whenever it is woken, until
// quit closes.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.out.wake:
			if frame := s.out.take(); frame != nil {
				if err := s.writeRecord(frame); err != nil {
					s.conn.Close()
					return
				}
			}
		case <-s.quit:
			return
		}
	}
}

func (s *session) start(onFrame func(payload []byte)) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readLoop(onFrame)
		close(s.quit)
	}()
	go func() {
		defer s.wg.Done()
		s.writeLoop()
	}()
}

func (s *session) close() {
	s.conn.Close()
	s.wg.Wait()
}
