// Package report implements §4.6: every modification to Funder state
// passes through a single Mutation type, applied
// atomically, then fanned out to subscribers so remote UIs can mirror
// state without polling. It is grounded on htlcswitch.go's notification-
// channel idiom (a central event type delivered to per-subscriber
// channels) and on breez-lightninglib/daemon/log.go's subsystem-fanout
// pattern, generalized from log lines to typed state mutations.
package report

import (
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

// MutationKind tags the closed variant of Mutation (DESIGN NOTES "Sum
// types").
type MutationKind int

const (
	MutationFriendAdded MutationKind = iota
	MutationFriendRemoved
	MutationFriendStatusChanged
	MutationFriendOnline
	MutationFriendOffline
	MutationCurrencyConfigChanged
	MutationCurrencyRemoved
	MutationBalanceChanged
	MutationChannelInconsistent
	MutationChannelReset
	MutationInvoiceAdded
	MutationInvoiceRemoved
	MutationPaymentAdded
	MutationPaymentStageChanged
	MutationPaymentRemoved
	MutationRelayListChanged
	MutationDoneAppRequest
)

// Mutation is the single, closed, typed change event that both mutates
// in-memory state and is emitted to report subscribers — the "apply-then-
// emit discipline" of DESIGN NOTES "Mutations".
type Mutation struct {
	Kind MutationKind

	Friend   identity.PublicKey
	Currency wire.Currency

	FriendEnabled bool

	Balance           wire.Balance
	LocalPendingDebt  wire.Amount
	RemotePendingDebt wire.Amount

	ResetTerms *ResetTermsView

	InvoiceId InvoiceIdView
	PaymentId PaymentIdView
	Stage     string

	Relays []wire.RelayAddress

	// AppRequestId echoes the caller-chosen id once a control request has
	// been fully applied (§6 "Control surface"), restored per SPEC_FULL
	// §3.
	AppRequestId [16]byte
}

// ResetTermsView mirrors tokenchannel.ResetTerms without importing that
// package, keeping report dependency-free of the core state machines it
// observes.
type ResetTermsView struct {
	Token   []byte
	Counter uint64
}

// InvoiceIdView and PaymentIdView avoid importing the funder package from
// report (funder imports report, not the other way around).
type InvoiceIdView = wire.InvoiceId
type PaymentIdView = wire.PaymentId

// FriendReport is the per-friend slice of a NodeReport.
type FriendReport struct {
	PublicKey identity.PublicKey
	Name      string
	Enabled   bool
	Online    bool
	Relays    []wire.RelayAddress
	Balances  map[wire.Currency]wire.CurrencyBalanceView
}

// NodeReport is the full snapshot delivered on subscribe (§4.6 "An
// initial full NodeReport is delivered on subscribe").
type NodeReport struct {
	LocalPublicKey identity.PublicKey
	Friends        map[identity.PublicKey]FriendReport
	Relays         []wire.RelayAddress
}
