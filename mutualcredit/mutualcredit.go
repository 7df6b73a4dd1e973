// Package mutualcredit implements the per-(friend, currency) balance
// cell: §4.1 of the credit-network design. It owns the signed integer
// balance, the local/remote debt ceilings, the per-direction pending
// transaction tables, and the fee accumulators, and executes one signed
// operation at a time, atomically, against that cell. It plays the role
// the teacher's lnwallet.LightningChannel update log plays for HTLCs, with
// on-chain settlement and revocation removed.
package mutualcredit

import (
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

// PendingTransaction is an in-flight request recorded on one side of a
// MutualCredit while it awaits a response or cancel. It is immutable
// after creation and removed atomically when a matching response or
// cancel is processed (§3 "PendingTransaction").
type PendingTransaction struct {
	RequestId        wire.RequestId
	Currency         wire.Currency
	RouteTail        []identity.PublicKey
	DestPayment      wire.Amount
	TotalDestPayment wire.Amount
	InvoiceHash      wire.Hash
	SrcHashedLock    wire.Hash
	LeftFees         wire.Amount
}

// Credits is dest_payment + left_fees, the amount reserved against the
// debt ceiling for this pending transaction.
func (pt PendingTransaction) Credits() (wire.Amount, error) {
	return wire.AddChecked(pt.DestPayment, pt.LeftFees)
}

// Decision is the outcome of an incoming-request admission check: either
// the request is accepted and delivered upward for routing, or it must be
// failed with a Cancel.
type Decision int

const (
	Accept Decision = iota
	CancelInsufficientCredit
	CancelRequestsClosed
)

// MutualCredit is the balance cell for one (friend, currency) pair.
type MutualCredit struct {
	Currency wire.Currency

	Balance wire.Balance

	// LocalMaxDebt is chosen by the remote: how much they trust us.
	LocalMaxDebt wire.Amount
	// RemoteMaxDebt is chosen by us: how much we trust the remote.
	RemoteMaxDebt wire.Amount

	LocalPendingDebt  wire.Amount
	RemotePendingDebt wire.Amount

	LocalRequestsOpen  bool
	RemoteRequestsOpen bool

	// PendingLocal holds requests we forwarded, awaiting a remote
	// response.
	PendingLocal map[wire.RequestId]PendingTransaction
	// PendingRemote holds requests the remote forwarded to us, awaiting
	// our downstream result.
	PendingRemote map[wire.RequestId]PendingTransaction

	InFees  wire.Amount
	OutFees wire.Amount
}

// New creates an empty MutualCredit cell for a newly-activated currency.
func New(currency wire.Currency, localMaxDebt, remoteMaxDebt wire.Amount) *MutualCredit {
	return &MutualCredit{
		Currency:      currency,
		LocalMaxDebt:  localMaxDebt,
		RemoteMaxDebt: remoteMaxDebt,
		PendingLocal:  make(map[wire.RequestId]PendingTransaction),
		PendingRemote: make(map[wire.RequestId]PendingTransaction),
	}
}

// IsDrained reports whether all four pending totals and the balance are
// zero, the precondition for removing a currency (§3 "Lifetimes").
func (mc *MutualCredit) IsDrained() bool {
	return mc.Balance.IsZero() &&
		mc.LocalPendingDebt.IsZero() &&
		mc.RemotePendingDebt.IsZero() &&
		len(mc.PendingLocal) == 0 &&
		len(mc.PendingRemote) == 0
}

// CheckInvariants verifies invariant 1: -local_max_debt <= balance -
// local_pending_debt, and balance + remote_pending_debt <= remote_max_debt.
func (mc *MutualCredit) CheckInvariants() error {
	lhs, err := wire.SubAmountFromBalance(mc.Balance, mc.LocalPendingDebt)
	if err != nil {
		return err
	}
	negLocalMax := wire.Balance{Neg: true, Mag: mc.LocalMaxDebt}
	if lhs.Cmp(negLocalMax) < 0 {
		return wire.ErrOverflow
	}

	rhs, err := wire.AddAmountToBalance(mc.Balance, mc.RemotePendingDebt)
	if err != nil {
		return err
	}
	if rhs.Cmp(wire.Balance{Mag: mc.RemoteMaxDebt}) > 0 {
		return wire.ErrOverflow
	}
	return nil
}

// View returns the canonical balance-view row hashed into balances_hash,
// as seen locally (not flipped).
func (mc *MutualCredit) View() wire.CurrencyBalanceView {
	return wire.CurrencyBalanceView{
		Currency:          mc.Currency,
		Balance:           mc.Balance,
		LocalPendingDebt:  mc.LocalPendingDebt,
		RemotePendingDebt: mc.RemotePendingDebt,
		InFees:            mc.InFees,
		OutFees:           mc.OutFees,
	}
}

// FlippedView returns the balance view as the remote side must see it:
// balance negated, local/remote pending debt and fee roles swapped.
func (mc *MutualCredit) FlippedView() wire.CurrencyBalanceView {
	return wire.CurrencyBalanceView{
		Currency:          mc.Currency,
		Balance:           mc.Balance.Negate(),
		LocalPendingDebt:  mc.RemotePendingDebt,
		RemotePendingDebt: mc.LocalPendingDebt,
		InFees:            mc.OutFees,
		OutFees:           mc.InFees,
	}
}

// ---- Receiving side (§4.1 "Operations on the receiving side") ----

// IncomingRequest admits or rejects a routed request arriving from the
// remote. On Accept, the entry is already inserted into PendingRemote and
// remote_pending_debt already increased; the caller is responsible for
// delivering the request upward for routing.
func (mc *MutualCredit) IncomingRequest(req wire.RequestSendFunds) (Decision, error) {
	if _, exists := mc.PendingRemote[req.RequestId]; exists {
		return Accept, ErrDuplicateRequestId
	}
	if !mc.LocalRequestsOpen {
		return CancelRequestsClosed, nil
	}

	credits, err := wire.AddChecked(req.DestPayment, req.LeftFees)
	if err != nil {
		return Accept, err
	}

	sum, err := wire.AddAmountToBalance(mc.Balance, mc.RemotePendingDebt)
	if err != nil {
		return Accept, err
	}
	sum, err = wire.AddAmountToBalance(sum, credits)
	if err != nil {
		return Accept, err
	}
	if sum.Cmp(wire.Balance{Mag: mc.RemoteMaxDebt}) > 0 {
		return CancelInsufficientCredit, nil
	}

	mc.PendingRemote[req.RequestId] = PendingTransaction{
		RequestId:        req.RequestId,
		Currency:         req.Currency,
		RouteTail:        req.Route,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		InvoiceHash:      req.InvoiceHash,
		SrcHashedLock:    req.SrcHashedLock,
		LeftFees:         req.LeftFees,
	}
	mc.RemotePendingDebt, err = wire.AddChecked(mc.RemotePendingDebt, credits)
	if err != nil {
		return Accept, err
	}
	return Accept, nil
}

// IncomingResponse looks up the matching local pending transaction and
// verifies the response signature over the canonical response buffer. The
// signer is the transaction's destination, the last hop of RouteTail. The
// entry is kept (removed only on a later Commit/Cancel at the funder
// layer) and the response is surfaced upward on success.
func (mc *MutualCredit) IncomingResponse(
	resp wire.ResponseSendFunds,
) (PendingTransaction, error) {
	pt, ok := mc.PendingLocal[resp.RequestId]
	if !ok {
		return PendingTransaction{}, ErrNotFound
	}
	if len(pt.RouteTail) == 0 {
		return PendingTransaction{}, ErrNotFound
	}
	destPk := pt.RouteTail[len(pt.RouteTail)-1]

	srcHashed := wire.Hash256(resp.SrcPlainLock[:])
	if srcHashed != pt.SrcHashedLock {
		return PendingTransaction{}, ErrBadSignature
	}

	signHash := wire.ResponseSignHash(
		resp.RequestId, resp.SrcPlainLock, resp.SerialNum, destPk,
		pt.DestPayment, pt.TotalDestPayment, pt.InvoiceHash,
	)
	if !identity.Verify(signHash, resp.Signature, destPk) {
		return PendingTransaction{}, ErrBadSignature
	}
	return pt, nil
}

// IncomingCancel removes the local pending entry, releases
// local_pending_debt, and surfaces the cancel upward.
func (mc *MutualCredit) IncomingCancel(requestId wire.RequestId) (PendingTransaction, error) {
	pt, ok := mc.PendingLocal[requestId]
	if !ok {
		return PendingTransaction{}, ErrNotFound
	}
	credits, err := pt.Credits()
	if err != nil {
		return PendingTransaction{}, err
	}
	delete(mc.PendingLocal, requestId)
	mc.LocalPendingDebt, err = wire.SubChecked(mc.LocalPendingDebt, credits)
	if err != nil {
		return PendingTransaction{}, err
	}
	return pt, nil
}

// ---- Sending side (§4.1 "Operations on the sending side") ----

// QueueRequest admits an outgoing request against local_max_debt. If
// credit is insufficient it returns ok=false with no state change, so the
// caller can synthesize an immediate upstream Cancel without ever placing
// the request on the wire.
func (mc *MutualCredit) QueueRequest(req wire.RequestSendFunds) (ok bool, err error) {
	if _, exists := mc.PendingLocal[req.RequestId]; exists {
		return false, ErrDuplicateRequestId
	}

	credits, err := wire.AddChecked(req.DestPayment, req.LeftFees)
	if err != nil {
		return false, err
	}

	lhs, err := wire.SubAmountFromBalance(mc.Balance, mc.LocalPendingDebt)
	if err != nil {
		return false, err
	}
	lhs, err = wire.SubAmountFromBalance(lhs, credits)
	if err != nil {
		return false, err
	}
	negLocalMax := wire.Balance{Neg: true, Mag: mc.LocalMaxDebt}
	if lhs.Cmp(negLocalMax) < 0 {
		return false, nil
	}

	mc.PendingLocal[req.RequestId] = PendingTransaction{
		RequestId:        req.RequestId,
		Currency:         req.Currency,
		RouteTail:        req.Route,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		InvoiceHash:      req.InvoiceHash,
		SrcHashedLock:    req.SrcHashedLock,
		LeftFees:         req.LeftFees,
	}
	mc.LocalPendingDebt, err = wire.AddChecked(mc.LocalPendingDebt, credits)
	if err != nil {
		return false, err
	}
	return true, nil
}

// QueueResponse requires a matching PendingRemote entry, moves its
// credits out of remote_pending_debt, decrements the balance by
// dest_payment+earnedFee, adds earnedFee to in_fees, and signs the
// response with sign. earnedFee is computed by the funder layer from the
// friend's Rate (§4.3); mutualcredit only performs the bookkeeping.
func (mc *MutualCredit) QueueResponse(
	requestId wire.RequestId, srcPlainLock [32]byte, serialNum uint64, earnedFee wire.Amount,
	sign func(hash wire.Hash) ([]byte, error), localPk identity.PublicKey,
) (wire.ResponseSendFunds, error) {
	pt, ok := mc.PendingRemote[requestId]
	if !ok {
		return wire.ResponseSendFunds{}, ErrNotFound
	}
	credits, err := pt.Credits()
	if err != nil {
		return wire.ResponseSendFunds{}, err
	}

	mc.RemotePendingDebt, err = wire.SubChecked(mc.RemotePendingDebt, credits)
	if err != nil {
		return wire.ResponseSendFunds{}, err
	}

	owed, err := wire.AddChecked(pt.DestPayment, earnedFee)
	if err != nil {
		return wire.ResponseSendFunds{}, err
	}
	mc.Balance, err = wire.SubAmountFromBalance(mc.Balance, owed)
	if err != nil {
		return wire.ResponseSendFunds{}, err
	}
	mc.InFees, err = wire.AddChecked(mc.InFees, earnedFee)
	if err != nil {
		return wire.ResponseSendFunds{}, err
	}

	signHash := wire.ResponseSignHash(
		requestId, srcPlainLock, serialNum, localPk,
		pt.DestPayment, pt.TotalDestPayment, pt.InvoiceHash,
	)
	sig, err := sign(signHash)
	if err != nil {
		return wire.ResponseSendFunds{}, err
	}

	return wire.ResponseSendFunds{
		RequestId:    requestId,
		SrcPlainLock: srcPlainLock,
		SerialNum:    serialNum,
		Signature:    sig,
	}, nil
}

// QueueCancel removes the PendingRemote entry and releases
// remote_pending_debt, with no balance change.
func (mc *MutualCredit) QueueCancel(requestId wire.RequestId) (PendingTransaction, error) {
	pt, ok := mc.PendingRemote[requestId]
	if !ok {
		return PendingTransaction{}, ErrNotFound
	}
	credits, err := pt.Credits()
	if err != nil {
		return PendingTransaction{}, err
	}
	delete(mc.PendingRemote, requestId)
	mc.RemotePendingDebt, err = wire.SubChecked(mc.RemotePendingDebt, credits)
	if err != nil {
		return PendingTransaction{}, err
	}
	return pt, nil
}

// ResetBalances returns the reset-terms balance view: current balance
// with both pending debts zeroed, per §4.2 "balances for reset are the
// current balances with pending debts zeroed".
func (mc *MutualCredit) ResetBalances() wire.CurrencyBalanceView {
	return wire.CurrencyBalanceView{
		Currency: mc.Currency,
		Balance:  mc.Balance,
	}
}
