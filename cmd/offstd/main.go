// offstd is this node's long-running daemon, wiring offstcfg, store,
// freezeguard, report, funder, channeler, and rpc together the way
// lnd.go's lndMain assembles chainControl, htlcswitch, and rpcServer
// before blocking on a shutdown signal.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	jflags "github.com/jessevdk/go-flags"

	"github.com/offstlabs/offst/channeler"
	"github.com/offstlabs/offst/freezeguard"
	"github.com/offstlabs/offst/funder"
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/offstcfg"
	"github.com/offstlabs/offst/relay"
	"github.com/offstlabs/offst/report"
	"github.com/offstlabs/offst/rpc"
	"github.com/offstlabs/offst/store"
	"github.com/offstlabs/offst/wire"
)

const identityFileName = "identity.key"

func main() {
	if err := run(); err != nil {
		if e, ok := err.(*jflags.Error); ok && e.Type == jflags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := offstcfg.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if err := initLogRotator(cfg.LogFilePath(), cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
		return fmt.Errorf("offstd: log rotator: %w", err)
	}
	subsystemLoggers(cfg.DebugLevel)

	signer, err := loadOrCreateSigner(filepath.Join(cfg.DataDir, identityFileName))
	if err != nil {
		return fmt.Errorf("offstd: loading identity: %w", err)
	}
	log.Infof("offstd: local public key %v", signer.PublicKey())

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("offstd: opening store: %w", err)
	}
	defer db.Close()

	bus := report.New()
	guard := freezeguard.New()

	// channelerBox/funderBox break the Funder<->Channeler construction
	// cycle: each needs the other's narrow interface wired in at New,
	// but neither calls into it before both are fully built and Start
	// has been called.
	var cBox channelerBox
	var fBox funderBox

	f, err := funder.New(funder.Config{
		LocalPk:  signer.PublicKey(),
		Signer:   signer,
		RNG:      identity.SystemRNG,
		DB:       db,
		Bus:      bus,
		Guard:    guard,
		Notifier: &cBox,
	})
	if err != nil {
		return fmt.Errorf("offstd: starting funder: %w", err)
	}
	fBox.set(f)

	dialer := relay.NewDialer(cfg.TorSocks)
	c := channeler.New(channeler.Config{
		LocalPk:    signer.PublicKey(),
		Signer:     signer,
		RNG:        identity.SystemRNG,
		Dialer:     dialer,
		Funder:     &fBox,
		ListenAddr: cfg.ListenAddr,
	})
	cBox.set(c)

	rpcServer := rpc.NewServer(rpc.Config{
		Funder:         f,
		Bus:            bus,
		GRPCListenAddr: cfg.RPCAddr,
		HTTPListenAddr: cfg.HTTPAddr,
	})

	f.Start()
	if err := c.Start(); err != nil {
		return fmt.Errorf("offstd: starting channeler: %w", err)
	}
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("offstd: starting rpc server: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Infof("offstd: shutting down")
	rpcServer.Stop()
	c.Stop()
	f.Stop()
	return nil
}

// channelerBox implements funder.ChannelNotifier, deferring to a
// *channeler.Channeler set once construction finishes.
type channelerBox struct {
	mu sync.Mutex
	c  *channeler.Channeler
}

func (b *channelerBox) set(c *channeler.Channeler) {
	b.mu.Lock()
	b.c = c
	b.mu.Unlock()
}

func (b *channelerBox) get() *channeler.Channeler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.c
}

func (b *channelerBox) Connect(pk identity.PublicKey, relays []wire.RelayAddress) {
	b.get().Connect(pk, relays)
}
func (b *channelerBox) Disconnect(pk identity.PublicKey) { b.get().Disconnect(pk) }
func (b *channelerBox) SetLocalAddresses(relays []wire.RelayAddress) {
	b.get().SetLocalAddresses(relays)
}
func (b *channelerBox) Send(pk identity.PublicKey, frame []byte) { b.get().Send(pk, frame) }

// funderBox implements channeler.FunderNotifier, deferring to a
// *funder.Funder set once construction finishes.
type funderBox struct {
	mu sync.Mutex
	f  *funder.Funder
}

func (b *funderBox) set(f *funder.Funder) {
	b.mu.Lock()
	b.f = f
	b.mu.Unlock()
}

func (b *funderBox) get() *funder.Funder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f
}

func (b *funderBox) SetOnline(pk identity.PublicKey, online bool) { b.get().SetOnline(pk, online) }
func (b *funderBox) HandleFrame(pk identity.PublicKey, typ wire.FrameType, payload []byte) {
	b.get().HandleFrame(pk, typ, payload)
}

func loadOrCreateSigner(path string) (*identity.LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != 32 {
			return nil, fmt.Errorf("offstd: identity file %s is corrupt", path)
		}
		var secret [32]byte
		copy(secret[:], data)
		return identity.NewLocalSigner(secret), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	secret, err := identity.Rand32(identity.SystemRNG)
	if err != nil {
		return nil, err
	}
	signer := identity.NewLocalSigner(secret)
	return signer, os.WriteFile(path, secret[:], 0600)
}
