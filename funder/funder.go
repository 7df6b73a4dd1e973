package funder

import (
	"fmt"
	"sync"

	"github.com/offstlabs/offst/freezeguard"
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/report"
	"github.com/offstlabs/offst/store"
	"github.com/offstlabs/offst/wire"
)

// ChannelNotifier is the Funder's outbound notification surface toward the
// Channeler, injected at construction the way htlcswitch.Config wires in
// LocalChannelClose: a small set of callback funcs rather than a two-way
// channel, since these are fire-and-forget signals with no reply.
type ChannelNotifier interface {
	// Connect asks the Channeler to establish or keep alive a session
	// with pk (on SetFriendStatus(Enabled) and AddFriend-then-Enabled).
	Connect(pk identity.PublicKey, relays []wire.RelayAddress)
	// Disconnect tears down a friend's session (RemoveFriend, Disabled).
	Disconnect(pk identity.PublicKey)
	// SetLocalAddresses pushes this node's own relay set to the listener.
	SetLocalAddresses(relays []wire.RelayAddress)
	// Send hands one outgoing MoveToken frame to the per-friend overwrite
	// queue (§4.4 "overwrite channel").
	Send(pk identity.PublicKey, frame []byte)
}

// Config wires a Funder's external dependencies.
type Config struct {
	LocalPk  identity.PublicKey
	Signer   identity.Signer
	RNG      identity.RNG
	DB       *store.DB
	Bus      *report.Bus
	Guard    *freezeguard.Guard
	Notifier ChannelNotifier
}

// command is a closure submitted to the single actor loop, generalizing
// htlcswitch.Switch's one-struct-per-operation request/reply channels into
// a single mechanism: every public method builds a closure over its
// arguments, sends it with a reply channel, and the loop runs it with
// exclusive access to Funder state (§5 "between any two suspension points
// the owning loop holds exclusive access").
type command struct {
	run   func(f *Funder) (interface{}, error)
	reply chan cmdResult
}

type cmdResult struct {
	val interface{}
	err error
}

// Funder is the node's authoritative control core (§4.3).
type Funder struct {
	cfg Config

	friends  map[identity.PublicKey]*Friend
	invoices map[wire.InvoiceId]*Invoice
	payments map[wire.PaymentId]*Payment

	// requestIndex maps a routed request_id to where it came from, so an
	// incoming response/cancel can be routed back without a linear scan
	// (§4.3 "Routing an incoming response/cancel").
	requestIndex map[wire.RequestId]requestOrigin

	relays []wire.RelayAddress

	cmdCh chan command
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New constructs a Funder and loads persisted state from cfg.DB.
func New(cfg Config) (*Funder, error) {
	f := &Funder{
		cfg:          cfg,
		friends:      make(map[identity.PublicKey]*Friend),
		invoices:     make(map[wire.InvoiceId]*Invoice),
		payments:     make(map[wire.PaymentId]*Payment),
		requestIndex: make(map[wire.RequestId]requestOrigin),
		cmdCh:        make(chan command),
		quit:         make(chan struct{}),
	}

	if err := f.loadFromStore(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Funder) loadFromStore() error {
	relays, err := f.cfg.DB.FetchLocalRelays()
	if err != nil {
		return err
	}
	f.relays = relays

	if err := f.cfg.DB.ForEachFriend(func(rec store.FriendRecord) error {
		f.friends[rec.RemotePk] = &Friend{
			RemotePk:             rec.RemotePk,
			Name:                 rec.Name,
			Enabled:              rec.Enabled,
			Relays:               rec.Relays,
			CurrencyConfigs:      rec.CurrencyConfigs,
			Channel:              rec.Channel,
			SentLocalRelaysState: rec.SentLocalRelaysState,
			SentLocalRelaysOld:   rec.SentLocalRelaysOld,
			SentLocalRelaysNew:   rec.SentLocalRelaysNew,
		}
		return nil
	}); err != nil {
		return err
	}

	if err := f.cfg.DB.ForEachInvoice(func(rec store.InvoiceRecord) error {
		f.invoices[rec.InvoiceId] = &Invoice{
			InvoiceId:            rec.InvoiceId,
			Currency:             rec.Currency,
			TotalDestPayment:     rec.TotalDestPayment,
			DestPlainLock:        rec.DestPlainLock,
			IncomingTransactions: rec.IncomingTransactions,
			HasSrcHashedLock:     rec.HasSrcHashedLock,
			SrcHashedLock:        rec.SrcHashedLock,
		}
		return nil
	}); err != nil {
		return err
	}

	return f.cfg.DB.ForEachPayment(func(rec store.PaymentRecord) error {
		f.payments[rec.PaymentId] = &Payment{
			PaymentId:        rec.PaymentId,
			SrcPlainLock:     rec.SrcPlainLock,
			Stage:            rec.Stage,
			NumTransactions:  rec.NumTransactions,
			InvoiceId:        rec.InvoiceId,
			Currency:         rec.Currency,
			TotalDestPayment: rec.TotalDestPayment,
			DestPk:           rec.DestPk,
			Receipt:          rec.Receipt,
			AckUid:           rec.AckUid,
		}
		return nil
	})
}

// Start launches the actor loop goroutine.
func (f *Funder) Start() {
	f.wg.Add(1)
	go f.loop()
}

// Stop signals the actor loop to exit and waits for it.
func (f *Funder) Stop() {
	close(f.quit)
	f.wg.Wait()
}

func (f *Funder) loop() {
	defer f.wg.Done()
	for {
		select {
		case cmd := <-f.cmdCh:
			val, err := cmd.run(f)
			cmd.reply <- cmdResult{val: val, err: err}
		case <-f.quit:
			return
		}
	}
}

// submit runs fn exclusively inside the actor loop and returns its result,
// the single chokepoint every public method funnels through.
func (f *Funder) submit(fn func(f *Funder) (interface{}, error)) (interface{}, error) {
	reply := make(chan cmdResult, 1)
	select {
	case f.cmdCh <- command{run: fn, reply: reply}:
	case <-f.quit:
		return nil, fmt.Errorf("funder: shutting down")
	}
	select {
	case res := <-reply:
		return res.val, res.err
	case <-f.quit:
		return nil, fmt.Errorf("funder: shutting down")
	}
}

func (f *Funder) persistFriend(fr *Friend) error {
	return f.cfg.DB.PutFriend(store.FriendRecord{
		RemotePk:             fr.RemotePk,
		Name:                 fr.Name,
		Enabled:              fr.Enabled,
		Relays:               fr.Relays,
		CurrencyConfigs:      fr.CurrencyConfigs,
		Channel:              fr.Channel,
		SentLocalRelaysState: fr.SentLocalRelaysState,
		SentLocalRelaysOld:   fr.SentLocalRelaysOld,
		SentLocalRelaysNew:   fr.SentLocalRelaysNew,
	})
}

func (f *Funder) persistInvoice(inv *Invoice) error {
	return f.cfg.DB.PutInvoice(store.InvoiceRecord{
		InvoiceId:            inv.InvoiceId,
		Currency:             inv.Currency,
		TotalDestPayment:     inv.TotalDestPayment,
		DestPlainLock:        inv.DestPlainLock,
		IncomingTransactions: inv.IncomingTransactions,
		HasSrcHashedLock:     inv.HasSrcHashedLock,
		SrcHashedLock:        inv.SrcHashedLock,
	})
}

func (f *Funder) persistPayment(p *Payment) error {
	return f.cfg.DB.PutPayment(store.PaymentRecord{
		PaymentId:        p.PaymentId,
		SrcPlainLock:     p.SrcPlainLock,
		Stage:            p.Stage,
		NumTransactions:  p.NumTransactions,
		InvoiceId:        p.InvoiceId,
		Currency:         p.Currency,
		TotalDestPayment: p.TotalDestPayment,
		DestPk:           p.DestPk,
		Receipt:          p.Receipt,
		AckUid:           p.AckUid,
	})
}

// emit fans a mutation out through the report bus, tagging it with the
// caller's app_request_id so apps can correlate completion (§6 "Control
// surface").
func (f *Funder) emit(m report.Mutation, appRequestId [16]byte) {
	m.AppRequestId = appRequestId
	f.cfg.Bus.Emit(m)
}

// fatal handles the §7 "Fatal" error class (arithmetic overflow,
// persistence failure, identity service gone, RNG failure): these
// indicate a bug or environment failure and the node must not continue
// running with state it can no longer trust.
func (f *Funder) fatal(err error) {
	log.Criticalf("funder: fatal error, aborting: %v", err)
	panic(err)
}

// markSendCommand flags a friend as "try send now" and immediately attempts
// to drain it into an outgoing MoveToken; trySend no-ops if the channel
// does not currently hold the reply obligation or the friend is offline,
// leaving TokenWanted set for the next SetOnline/incoming MoveToken to
// retry (§4.3 "Scheduling outgoing MoveTokens").
func (f *Funder) markSendCommand(fr *Friend) {
	fr.TokenWanted = true
	f.trySend(fr)
}
