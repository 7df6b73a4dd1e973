// Package funder implements §4.3: the node's authoritative control core. It
// owns the friends map, invoices, payments, and relay list, and processes
// three event streams — control requests from the app server, inter-friend
// traffic from the Channeler, and liveness notices — through one serialized
// actor loop. The loop shape (a command channel drained by a single
// goroutine, each command pre-packaged with its own reply channel) is
// grounded on htlcswitch.Switch's htlcForwarder; the buyer-side payment
// lifecycle is grounded on htlcswitch/switch_control.go's ControlTower.
package funder

import (
	"github.com/offstlabs/offst/freezeguard"
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/store"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

// MaxNodeRelays bounds how many relay addresses this node may advertise
// (§4.3 "AddRelay / RemoveRelay precondition").
const MaxNodeRelays = 8

// BackwardsOpKind tags the closed BackwardsOp variant.
type BackwardsOpKind int

const (
	BackwardsResponse BackwardsOpKind = iota
	BackwardsCancel
)

// BackwardsOp is a response or cancel queued to flow back toward a friend,
// awaiting that friend's next outgoing MoveToken (§4.3 "pending_backwards_ops").
type BackwardsOp struct {
	Kind     BackwardsOpKind
	Currency wire.Currency
	Response *wire.ResponseSendFunds
	Cancel   *wire.CancelSendFunds
}

// Friend is the in-memory, actor-owned counterpart of store.FriendRecord:
// everything persisted, plus the runtime-only queues and liveness bit that
// never survive a restart (§6 "pending-user queues MAY be dropped").
type Friend struct {
	RemotePk identity.PublicKey
	Name     string
	Enabled  bool

	Relays []wire.RelayAddress

	CurrencyConfigs map[wire.Currency]store.CurrencyConfig

	Channel *tokenchannel.TokenChannel

	SentLocalRelaysState store.SentLocalRelaysState
	SentLocalRelaysOld   []wire.RelayAddress
	SentLocalRelaysNew   []wire.RelayAddress

	PendingUserRequests  []wire.RequestSendFunds
	PendingBackwardsOps  []BackwardsOp

	Online      bool
	TokenWanted bool
}

func (f *Friend) localMaxDebtFor(currency wire.Currency) wire.Amount {
	// local_max_debt is chosen by the remote; a currency activated
	// through currencies_diff starts with a local_max_debt of zero.
	return wire.ZeroAmount
}

func (f *Friend) currencyConfig(currency wire.Currency) (store.CurrencyConfig, bool) {
	cfg, ok := f.CurrencyConfigs[currency]
	return cfg, ok
}

// Invoice is the in-memory counterpart of store.InvoiceRecord (§3 "Invoice
// (seller side)").
type Invoice struct {
	InvoiceId            wire.InvoiceId
	Currency              wire.Currency
	TotalDestPayment      wire.Amount
	DestPlainLock         [32]byte
	IncomingTransactions  []wire.RequestId
	HasSrcHashedLock      bool
	SrcHashedLock         wire.Hash
}

// PaymentStage re-exports store.PaymentStage so callers never need to
// import store directly for this.
type PaymentStage = store.PaymentStage

const (
	StageNewTransactions = store.StageNewTransactions
	StageInProgress      = store.StageInProgress
	StageSuccess         = store.StageSuccess
	StageCanceled        = store.StageCanceled
	StageAfterSuccessAck = store.StageAfterSuccessAck
)

// Payment is the in-memory counterpart of store.PaymentRecord, the buyer-
// side lifetime object (§3 "Payment (buyer side)").
type Payment struct {
	PaymentId    wire.PaymentId
	SrcPlainLock [32]byte

	Stage            PaymentStage
	NumTransactions  uint64
	InvoiceId        wire.InvoiceId
	Currency         wire.Currency
	TotalDestPayment wire.Amount
	DestPk           identity.PublicKey

	Receipt []byte
	AckUid  wire.AckUid
}

// requestOrigin records where a pending request came from, for routing
// responses/cancels back: either from an upstream friend, or from this
// node's own Payment state machine.
type requestOrigin struct {
	fromFriend *identity.PublicKey // nil if locally originated
	currency   wire.Currency
	toFriend   identity.PublicKey
	paymentId  wire.PaymentId // valid only when fromFriend == nil
}

// edgeOf derives the freezeguard.Edge a routed request crosses.
func edgeOf(in, out identity.PublicKey) freezeguard.Edge {
	return freezeguard.Edge{In: in, Out: out}
}
