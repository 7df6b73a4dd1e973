// Package wire defines the on-the-wire and canonical-hash types shared by
// the token channel, the funder, and the channeler: MoveToken messages,
// the operations they carry, and the lock/hash primitives the credit
// protocol signs over. It plays the role lnwire/message.go plays for the
// teacher, minus anything chain- or HTLC-script specific.
package wire

import (
	"sort"

	"github.com/offstlabs/offst/identity"
)

// Currency is a short ASCII tag, e.g. "FST". Balances are keyed by
// (friend, currency); distinct currencies between the same two friends
// are entirely independent MutualCredits.
type Currency string

// Hash is the output width of the hash() primitive used throughout:
// balances_hash, info_hash, lock hashes, and invoice_hash. It is an alias
// (not a defined type) so it interchanges freely with the identity
// package's raw [32]byte signing/verification buffers.
type Hash = [32]byte

// RequestId identifies one routed request end to end.
type RequestId [16]byte

// PaymentId identifies one buyer-side Payment.
type PaymentId [16]byte

// InvoiceId identifies one seller-side Invoice.
type InvoiceId [32]byte

// AckUid correlates a close-payment acknowledgement with its RequestClosePayment call.
type AckUid [16]byte

// PublicKey re-exports identity.PublicKey for convenience in wire types.
type PublicKey = identity.PublicKey

// RelayAddress is an untrusted byte-forwarder a friend may be reached
// through (GLOSSARY "Relay").
type RelayAddress struct {
	PublicKey PublicKey
	Address   string
}

// SortRelayAddresses sorts relays lexicographically by (pk, address), the
// canonical order relays_diff must be serialized in (§6).
func SortRelayAddresses(relays []RelayAddress) {
	sort.Slice(relays, func(i, j int) bool {
		if relays[i].PublicKey != relays[j].PublicKey {
			return relays[i].PublicKey.Less(relays[j].PublicKey)
		}
		return relays[i].Address < relays[j].Address
	})
}

// Rate is a friend-currency forwarding fee policy: earned = mul *
// dest_payment / 2^32 + add (§4.3 "Routing an incoming request").
type Rate struct {
	Mul uint32
	Add uint64
}

// Fee computes the forwarding fee this rate charges on destPayment.
func (r Rate) Fee(destPayment Amount) Amount {
	scaled := destPayment.Mul64(uint64(r.Mul)).Rsh(32)
	return scaled.Add64(r.Add)
}

// RequestsStatus is whether a side currently accepts routed requests in a
// currency.
type RequestsStatus bool

const (
	RequestsClosed RequestsStatus = false
	RequestsOpen   RequestsStatus = true
)

// FreezeLink is appended by every hop of a routed request and lets the
// Freeze Guard (§4.5) simulate each hop's reservation without consulting
// the other hops' private trust configuration.
type FreezeLink struct {
	// SharedCredits is the forwarding hop's configured ceiling for the
	// edge the request is about to cross.
	SharedCredits Amount

	// UsableRatioNum/UsableRatioDenom express the forwarding friend's
	// share of total trust excluding the inbound friend, as a ratio of
	// 2^64 (a Ratio-of-2^64, per §4.5).
	UsableRatioNum   uint64
	UsableRatioDenom uint64
}

// OpKind tags the closed variant of Operation.
type OpKind uint8

const (
	OpRequestSendFunds OpKind = iota
	OpResponseSendFunds
	OpCancelSendFunds
)

// RequestSendFunds is the payload of a routed request operation.
type RequestSendFunds struct {
	RequestId      RequestId
	Currency       Currency
	SrcHashedLock  Hash
	DestPayment    Amount
	TotalDestPayment Amount
	InvoiceHash    Hash
	Route          []PublicKey
	LeftFees       Amount
	FreezeLinks    []FreezeLink
}

// ResponseSendFunds is the payload of a response operation, the buyer's
// eventual signed unlock flowing back along the route.
type ResponseSendFunds struct {
	RequestId    RequestId
	SrcPlainLock [32]byte
	SerialNum    uint64
	Signature    []byte
}

// CancelSendFunds is the payload of a cancel operation; the originating
// public key lets every upstream hop attribute the failure.
type CancelSendFunds struct {
	RequestId RequestId
	Canceller PublicKey
}

// Operation is one of RequestSendFunds, ResponseSendFunds, CancelSendFunds
// inside a MoveToken, a closed tagged union per DESIGN NOTES "Sum types".
type Operation struct {
	Kind     OpKind
	Request  *RequestSendFunds
	Response *ResponseSendFunds
	Cancel   *CancelSendFunds
}

// RequestOp wraps a RequestSendFunds for the outgoing per-friend queue.
func RequestOp(r RequestSendFunds) Operation {
	return Operation{Kind: OpRequestSendFunds, Request: &r}
}

// ResponseOp wraps a ResponseSendFunds for the outgoing per-friend queue.
func ResponseOp(r ResponseSendFunds) Operation {
	return Operation{Kind: OpResponseSendFunds, Response: &r}
}

// CancelOp wraps a CancelSendFunds for the outgoing per-friend queue.
func CancelOp(c CancelSendFunds) Operation {
	return Operation{Kind: OpCancelSendFunds, Cancel: &c}
}

// CurrencyBalanceView is the receiver's view of one currency cell, the
// per-currency row hashed into balances_hash (§6): "(currency, balance,
// local_pending_debt, remote_pending_debt, in_fees, out_fees)".
type CurrencyBalanceView struct {
	Currency          Currency
	Balance           Balance
	LocalPendingDebt  Amount
	RemotePendingDebt Amount
	InFees            Amount
	OutFees           Amount
}

// CurrencyDiff is a currency named in a MoveToken's currencies_diff list.
// TokenChannel toggles each listed currency: one not yet active is
// activated, an active one is removed (which fails the MoveToken unless it
// is drained). Currencies not listed are left unchanged.
type CurrencyDiff struct {
	Currency Currency
}

// SortCurrencyDiffs sorts currencies_diff lexicographically, the canonical
// wire order (§6).
func SortCurrencyDiffs(diffs []CurrencyDiff) {
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Currency < diffs[j].Currency })
}

// TokenInfo is the structured pre-image the new_token signature binds to,
// alongside the sender/receiver/operations (§3 "MoveToken message").
type TokenInfo struct {
	BalancesHash     Hash
	MoveTokenCounter uint64
}

// MoveToken is the single signed message that carries operations and
// advances the channel (GLOSSARY "MoveToken").
type MoveToken struct {
	OldToken      []byte
	Operations    []Operation
	CurrenciesDiff []CurrencyDiff
	RelaysDiff    []RelayAddress
	NewToken      []byte
	Info          TokenInfo
}
