package tokenchannel

import (
	"github.com/offstlabs/offst/mutualcredit"
	"github.com/offstlabs/offst/wire"
)

// Builder accumulates operations and diffs for the next outgoing
// MoveToken. It may only be created while the channel holds the token
// (ConsistentIn), mirroring original_source's OutMoveToken, whose
// queue_request/queue_response/queue_cancel/finalize methods each assert
// TcStatus::ConsistentIn.
type Builder struct {
	tc             *TokenChannel
	ops            []wire.Operation
	currenciesDiff []wire.CurrencyDiff
	relaysDiff     []wire.RelayAddress
}

// NewOutgoing starts building the next MoveToken.
func (tc *TokenChannel) NewOutgoing() (*Builder, error) {
	if tc.Status != ConsistentIn {
		return nil, ErrNotYourTurn
	}
	return &Builder{tc: tc}, nil
}

// QueueCurrencyDiff proposes activating or deactivating a currency in the
// next MoveToken (symmetric-difference semantics applied by the remote on
// receipt, SPEC_FULL §3).
func (b *Builder) QueueCurrencyDiff(currency wire.Currency) {
	b.currenciesDiff = append(b.currenciesDiff, wire.CurrencyDiff{Currency: currency})
}

// QueueRelaysDiff proposes a new local_relays set for the next MoveToken.
func (b *Builder) QueueRelaysDiff(relays []wire.RelayAddress) {
	b.relaysDiff = relays
}

// QueueRequest validates and stages an outgoing request op against the
// named currency's MutualCredit. ok=false means the request was rejected
// for insufficient credit and nothing was staged; the caller should
// synthesize an immediate upstream Cancel.
func (b *Builder) QueueRequest(currency wire.Currency, req wire.RequestSendFunds) (ok bool, err error) {
	mc, active := b.tc.Currencies[currency]
	if !active {
		return false, ErrUnknownCurrency
	}
	ok, err = mc.QueueRequest(req)
	if err != nil || !ok {
		return ok, err
	}
	b.ops = append(b.ops, wire.RequestOp(req))
	return true, nil
}

// QueueResponse validates and stages an outgoing response op.
func (b *Builder) QueueResponse(
	currency wire.Currency, requestId wire.RequestId, srcPlainLock [32]byte,
	serialNum uint64, earnedFee wire.Amount, sign func(wire.Hash) ([]byte, error),
) error {
	mc, active := b.tc.Currencies[currency]
	if !active {
		return ErrUnknownCurrency
	}
	resp, err := mc.QueueResponse(requestId, srcPlainLock, serialNum, earnedFee, sign, b.tc.LocalPk)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, wire.ResponseOp(resp))
	return nil
}

// AppendFinalizedOp appends an operation whose mc-level bookkeeping has
// already run (a response or cancel resolved against this channel's own
// mc by the caller before it was queued, rather than at build time), so it
// goes straight onto the wire with no further QueueResponse/QueueCancel
// validation against b.tc.
func (b *Builder) AppendFinalizedOp(op wire.Operation) {
	b.ops = append(b.ops, op)
}

// QueueCancel validates and stages an outgoing cancel op.
func (b *Builder) QueueCancel(currency wire.Currency, requestId wire.RequestId) (mutualcredit.PendingTransaction, error) {
	mc, active := b.tc.Currencies[currency]
	if !active {
		return mutualcredit.PendingTransaction{}, ErrUnknownCurrency
	}
	pt, err := mc.QueueCancel(requestId)
	if err != nil {
		return mutualcredit.PendingTransaction{}, err
	}
	b.ops = append(b.ops, wire.CancelOp(wire.CancelSendFunds{RequestId: requestId, Canceller: b.tc.LocalPk}))
	return pt, nil
}

// Finalize signs and commits the accumulated MoveToken, transitioning the
// channel to ConsistentOut (§4.2 "Preparing an outgoing MoveToken").
func (b *Builder) Finalize(sign func(wire.Hash) ([]byte, error)) (*wire.MoveToken, error) {
	tc := b.tc
	if tc.Status != ConsistentIn {
		return nil, ErrNotYourTurn
	}

	wire.SortCurrencyDiffs(b.currenciesDiff)
	wire.SortRelayAddresses(b.relaysDiff)

	// The receiver applies currencies_diff before hashing balances, so the
	// signed balances hash covers the diff too.
	working := cloneCurrencies(tc.Currencies)
	if err := applyCurrenciesDiffTo(working, b.currenciesDiff, nil); err != nil {
		return nil, err
	}
	prev := tc.Currencies
	tc.Currencies = working

	newCounter := tc.MoveTokenCounter + 1
	info := wire.TokenInfo{
		BalancesHash:     wire.BalancesHash(tc.flippedViews()),
		MoveTokenCounter: newCounter,
	}
	infoHash := wire.InfoHash(info)

	oldToken := tc.LastReceivedMoveToken.NewToken
	signHash := wire.MoveTokenSignHash(oldToken, b.ops, infoHash, tc.RemotePk)
	sig, err := sign(signHash)
	if err != nil {
		tc.Currencies = prev
		return nil, err
	}

	msg := &wire.MoveToken{
		OldToken:       oldToken,
		Operations:     b.ops,
		CurrenciesDiff: b.currenciesDiff,
		RelaysDiff:     b.relaysDiff,
		NewToken:       sig,
		Info:           info,
	}

	tc.Status = ConsistentOut
	tc.LastSentMoveToken = msg
	tc.MoveTokenCounter = newCounter
	return msg, nil
}
