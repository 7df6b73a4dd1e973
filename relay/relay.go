// Package relay implements §4.4's untrusted-relay dialing: a friend's
// relay_address list is tried in order until one connects, with Tor
// support for onion addresses, grounded on server.go's ConnectToPeer/
// brontide.Dial call site but swapping the noise-protocol library dial
// for a plain net.Dialer (or Tor SOCKS dialer), since the encrypted
// session itself is the Channeler's job, not the Dialer's.
package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lightningnetwork/lnd/tor"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

// Dialer opens a raw byte-stream connection to an address.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

type directDialer struct {
	d net.Dialer
}

func (d *directDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return d.d.DialContext(ctx, network, address)
}

// torDialer routes connections through a running Tor daemon's SOCKS port,
// required for onion relay addresses (§4.4 "relay addresses may be onion
// services").
type torDialer struct {
	cfg *tor.ClientConfig
}

func (d *torDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	timeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return d.cfg.Dial(network, address, timeout)
}

// NewDialer builds a Dialer: direct TCP if torSocks is empty, otherwise a
// dialer that routes through the Tor daemon listening at torSocks.
func NewDialer(torSocks string) Dialer {
	if torSocks == "" {
		return &directDialer{}
	}
	return &torDialer{cfg: &tor.ClientConfig{TorSocks: torSocks}}
}

// connectPreamble is written immediately after connecting to an address
// that is a relay rather than the target friend's own listener, so a
// relay server forwarding raw bytes between dialed-in peers knows which
// listening friend to pair this connection with (GLOSSARY "Relay"). The
// relay never sees anything past this header; the rest of the connection
// is the Channeler's encrypted session.
func connectPreamble(target identity.PublicKey) []byte {
	var out [1 + identity.PublicKeySize]byte
	out[0] = 1
	copy(out[1:], target[:])
	return out[:]
}

// DialRelay connects through addr to reach target. When addr's own
// public key already is target, addr is the friend's direct listener and
// no preamble is sent; otherwise addr is an untrusted relay and the
// preamble tells it where to forward the connection.
func DialRelay(ctx context.Context, dialer Dialer, addr wire.RelayAddress, target identity.PublicKey) (net.Conn, error) {
	conn, err := dialer.Dial(ctx, "tcp", addr.Address)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", addr.Address, err)
	}
	if addr.PublicKey != target {
		log.Debugf("relay: routing through %s to reach %v", addr.Address, target)
		if _, err := conn.Write(connectPreamble(target)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("relay: preamble to %s: %w", addr.Address, err)
		}
	}
	return conn, nil
}
