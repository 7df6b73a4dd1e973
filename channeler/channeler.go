// Package channeler is the transport subsystem §4.4 names as one of the
// three core subsystems that "define the node's correctness": it owns one
// encrypted session per enabled friend, decides initiator/listener role by
// comparing public keys, tracks Online/Offline liveness, and exposes the
// overwrite-on-send outbound queue the Funder's trySend drains into.
//
// It is grounded on server.go's per-peer ConnectToPeer/listen/inboundPeers
// bookkeeping and peer.go's read/write goroutine split, with brontide's
// noise-protocol handshake replaced by handshake.go's X25519+signature
// scheme and container/list's multi-item queue replaced by session.go's
// single-slot outbox.
package channeler

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/relay"
	"github.com/offstlabs/offst/wire"
)

// dialBackoff bounds the delay between reconnect attempts to a friend
// whose relays are all currently unreachable.
const (
	dialBackoffMin = 2 * time.Second
	dialBackoffMax = 2 * time.Minute
)

// FunderNotifier is the Channeler's inbound-facing counterpart to
// funder.ChannelNotifier: the Funder satisfies this without the channeler
// package importing funder directly, the same narrow-interface wiring
// funder itself uses toward the Channeler. cmd/offstd wires the concrete
// types together.
type FunderNotifier interface {
	SetOnline(pk identity.PublicKey, online bool)
	HandleFrame(pk identity.PublicKey, typ wire.FrameType, payload []byte)
}

// Config wires a Channeler's external dependencies.
type Config struct {
	LocalPk identity.PublicKey
	Signer  identity.Signer
	RNG     identity.RNG
	Dialer  relay.Dialer
	Funder  FunderNotifier

	// ListenAddr is this node's own accept address, e.g. ":9735". Empty
	// disables the local listener (relay-only operation).
	ListenAddr string
}

// friendState tracks what the Channeler currently knows about one enabled
// friend: its relay set and, once connected, its live session.
type friendState struct {
	relays  []wire.RelayAddress
	session *session
	cancel  context.CancelFunc // stops an in-flight dial loop
}

// Channeler implements funder.ChannelNotifier.
type Channeler struct {
	cfg Config

	mu          sync.Mutex
	friends     map[identity.PublicKey]*friendState
	localRelays []wire.RelayAddress

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Channeler. Call Start to bring up the accept loop.
func New(cfg Config) *Channeler {
	return &Channeler{
		cfg:     cfg,
		friends: make(map[identity.PublicKey]*friendState),
		quit:    make(chan struct{}),
	}
}

// Start brings up the local listener, if configured.
func (c *Channeler) Start() error {
	if c.cfg.ListenAddr == "" {
		return nil
	}
	l, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return err
	}
	c.listener = l
	c.wg.Add(1)
	go c.acceptLoop()
	return nil
}

// Stop tears down the listener and every live session.
func (c *Channeler) Stop() {
	close(c.quit)
	if c.listener != nil {
		c.listener.Close()
	}

	c.mu.Lock()
	for pk, fs := range c.friends {
		if fs.cancel != nil {
			fs.cancel()
		}
		if fs.session != nil {
			fs.session.close()
		}
		delete(c.friends, pk)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Connect asks the Channeler to establish or keep alive a session with pk,
// implementing funder.ChannelNotifier. Only the side whose own key is
// the lower one dials out (§4.4 "initiator/listener role by pubkey comparison");
// the other side waits for an inbound connection to arrive via acceptLoop.
// This avoids both sides racing to dial each other and is symmetric: each
// pair has exactly one initiator regardless of who calls Connect first.
func (c *Channeler) Connect(pk identity.PublicKey, relays []wire.RelayAddress) {
	c.mu.Lock()
	fs, exists := c.friends[pk]
	if !exists {
		fs = &friendState{}
		c.friends[pk] = fs
	}
	fs.relays = relays
	alreadyLive := fs.session != nil || fs.cancel != nil
	c.mu.Unlock()

	if alreadyLive || !c.cfg.LocalPk.Less(pk) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	fs.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dialLoop(ctx, pk)
}

// Disconnect tears down any session or in-flight dial for pk and forgets
// its relay set.
func (c *Channeler) Disconnect(pk identity.PublicKey) {
	c.mu.Lock()
	fs, ok := c.friends[pk]
	if ok {
		delete(c.friends, pk)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if fs.cancel != nil {
		fs.cancel()
	}
	if fs.session != nil {
		fs.session.close()
	}
}

// SetLocalAddresses records this node's own relay set, advertised to
// friends as part of a MoveToken's relays_diff by the Funder - the
// Channeler itself has no separate announcement path to send it over.
func (c *Channeler) SetLocalAddresses(relays []wire.RelayAddress) {
	c.mu.Lock()
	c.localRelays = relays
	c.mu.Unlock()
}

// Send hands one outgoing frame to pk's overwrite queue. A no-op if pk has
// no live session; the Funder will retry once SetOnline(pk, true) fires
// again.
func (c *Channeler) Send(pk identity.PublicKey, frame []byte) {
	c.mu.Lock()
	fs, ok := c.friends[pk]
	c.mu.Unlock()
	if !ok || fs.session == nil {
		return
	}
	fs.session.out.replace(frame)
}

// dialLoop repeatedly tries fs's relay addresses, with exponential backoff
// between full passes, until a session is established or ctx is cancelled
// (by Disconnect or Stop).
func (c *Channeler) dialLoop(ctx context.Context, pk identity.PublicKey) {
	defer c.wg.Done()
	backoff := dialBackoffMin
	for {
		c.mu.Lock()
		fs, ok := c.friends[pk]
		var relays []wire.RelayAddress
		if ok {
			relays = fs.relays
		}
		c.mu.Unlock()
		if !ok {
			return
		}

		for _, addr := range relays {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if c.tryDial(ctx, pk, addr) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
	}
}

// tryDial attempts one relay address; on success it registers the session
// and returns true, ending the dial loop for this friend.
func (c *Channeler) tryDial(ctx context.Context, pk identity.PublicKey, addr wire.RelayAddress) bool {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := relay.DialRelay(dialCtx, c.cfg.Dialer, addr, pk)
	if err != nil {
		log.Debugf("channeler: dial %v via %s failed: %v", pk, addr.Address, err)
		return false
	}

	remotePk, sendKey, recvKey, err := performHandshake(conn, c.cfg.Signer, c.cfg.RNG, true)
	if err != nil {
		log.Errorf("channeler: handshake with %v via %s failed: %v", pk, addr.Address, err)
		conn.Close()
		return false
	}
	if remotePk != pk {
		log.Errorf("channeler: dialed %s expecting %v, got %v", addr.Address, pk, remotePk)
		conn.Close()
		return false
	}

	c.registerSession(pk, conn, sendKey, recvKey)
	return true
}

// acceptLoop accepts inbound connections; the handshake itself reveals the
// remote friend's identity, since an inbound listener cannot know in
// advance who is dialing in.
func (c *Channeler) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.quit:
				return
			default:
				log.Errorf("channeler: accept: %v", err)
				return
			}
		}
		c.wg.Add(1)
		go c.acceptConn(conn)
	}
}

func (c *Channeler) acceptConn(conn net.Conn) {
	defer c.wg.Done()

	remotePk, sendKey, recvKey, err := performHandshake(conn, c.cfg.Signer, c.cfg.RNG, false)
	if err != nil {
		log.Errorf("channeler: inbound handshake failed: %v", err)
		conn.Close()
		return
	}

	c.mu.Lock()
	_, known := c.friends[remotePk]
	c.mu.Unlock()
	if !known {
		log.Warnf("channeler: rejecting inbound session from unknown friend %v", remotePk)
		conn.Close()
		return
	}

	c.registerSession(remotePk, conn, sendKey, recvKey)
}

// registerSession installs a new live session for pk, replacing and closing
// any session or in-flight dial that was previously active for it, then
// starts its read/write loops and notifies the Funder the friend is online.
func (c *Channeler) registerSession(pk identity.PublicKey, conn net.Conn, sendKey, recvKey [32]byte) {
	sess, err := newSession(conn, pk, sendKey, recvKey)
	if err != nil {
		log.Errorf("channeler: session setup with %v: %v", pk, err)
		conn.Close()
		return
	}

	c.mu.Lock()
	fs, ok := c.friends[pk]
	if !ok {
		fs = &friendState{}
		c.friends[pk] = fs
	}
	old := fs.session
	oldCancel := fs.cancel
	fs.session = sess
	fs.cancel = nil
	c.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		old.close()
	}

	sess.start(func(payload []byte) {
		typ, inner, err := wire.ReadFrame(bytes.NewReader(payload))
		if err != nil {
			log.Errorf("channeler: malformed frame from %v: %v", pk, err)
			return
		}
		c.cfg.Funder.HandleFrame(pk, typ, inner)
	})
	c.cfg.Funder.SetOnline(pk, true)

	c.wg.Add(1)
	go c.watchSession(pk, sess)
}

// watchSession waits for sess to end (peer disconnect, auth failure,
// Stop/Disconnect closing the connection) and reports the friend offline,
// then starts a fresh dial loop if this side is the initiator and the
// friend is still wanted.
func (c *Channeler) watchSession(pk identity.PublicKey, sess *session) {
	defer c.wg.Done()
	<-sess.quit

	c.mu.Lock()
	fs, ok := c.friends[pk]
	stillCurrent := ok && fs.session == sess
	if stillCurrent {
		fs.session = nil
	}
	var relays []wire.RelayAddress
	if ok {
		relays = fs.relays
	}
	c.mu.Unlock()
	if !stillCurrent {
		return
	}

	c.cfg.Funder.SetOnline(pk, false)

	if !c.cfg.LocalPk.Less(pk) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if fs, ok := c.friends[pk]; ok {
		fs.cancel = cancel
		fs.relays = relays
	} else {
		cancel()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.dialLoop(ctx, pk)
}
