// This file implements §4.3's "Buyer state machine" and the seller-side
// completion path CommitInvoice triggers, grounded on
// htlcswitch/switch_control.go's ControlTower: a payment_id-keyed map
// walked through an explicit stage enum, admitting new transactions only
// while open and reconciling exactly one outcome per transaction.
package funder

import (
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/invoiceformat"
	"github.com/offstlabs/offst/mutualcredit"
	"github.com/offstlabs/offst/report"
	"github.com/offstlabs/offst/wire"
)

// CreatePayment opens a new buyer-side Payment with a fresh random
// src_plain_lock (§4.3 "CreatePayment").
func (f *Funder) CreatePayment(paymentId wire.PaymentId, invoiceId wire.InvoiceId, currency wire.Currency, totalDestPayment wire.Amount, destPk identity.PublicKey, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		if _, exists := f.payments[paymentId]; exists {
			return nil, ErrPaymentExists
		}
		lock, err := identity.Rand32(f.cfg.RNG)
		if err != nil {
			return nil, err
		}
		p := &Payment{
			PaymentId:        paymentId,
			SrcPlainLock:     lock,
			Stage:            StageNewTransactions,
			InvoiceId:        invoiceId,
			Currency:         currency,
			TotalDestPayment: totalDestPayment,
			DestPk:           destPk,
		}
		f.payments[paymentId] = p
		if err := f.persistPayment(p); err != nil {
			return nil, err
		}
		f.emit(report.Mutation{Kind: report.MutationPaymentAdded, PaymentId: paymentId}, appRequestId)
		return nil, nil
	})
	return err
}

// CreateTransaction validates the route and pushes a RequestSendFunds onto
// the first hop's pending-user queue (§4.3 "CreateTransaction").
func (f *Funder) CreateTransaction(
	paymentId wire.PaymentId, requestId wire.RequestId, route []identity.PublicKey,
	destPayment, leftFees wire.Amount, appRequestId [16]byte,
) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		p, ok := f.payments[paymentId]
		if !ok {
			return nil, ErrPaymentNotFound
		}
		if p.Stage != StageNewTransactions {
			return nil, ErrPaymentWrongStage
		}
		if !validRoute(route, f.cfg.LocalPk, p.DestPk) {
			return nil, ErrRouteInvalid
		}
		if _, exists := f.requestIndex[requestId]; exists {
			return nil, ErrDuplicateRequestId
		}

		nextPk := route[1]
		next, ok := f.friends[nextPk]
		if !ok || !next.Enabled {
			return nil, ErrFriendNotReady
		}
		if _, active := next.CurrencyConfigs[p.Currency]; !active {
			return nil, ErrFriendNotReady
		}

		invoiceHash := wire.Hash256(p.InvoiceId[:])
		req := wire.RequestSendFunds{
			RequestId:        requestId,
			Currency:         p.Currency,
			SrcHashedLock:    wire.Hash256(p.SrcPlainLock[:]),
			DestPayment:      destPayment,
			TotalDestPayment: p.TotalDestPayment,
			InvoiceHash:      invoiceHash,
			Route:            route[1:],
			LeftFees:         leftFees,
		}

		next.PendingUserRequests = append(next.PendingUserRequests, req)
		f.markSendCommand(next)

		f.requestIndex[requestId] = requestOrigin{fromFriend: nil, currency: p.Currency, toFriend: nextPk, paymentId: paymentId}

		p.NumTransactions++
		if err := f.persistPayment(p); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// validRoute checks §4.3 "route valid (≥2 nodes, unique, we are first,
// dest matches payment)".
func validRoute(route []identity.PublicKey, localPk, destPk identity.PublicKey) bool {
	if len(route) < 2 {
		return false
	}
	if route[0] != localPk {
		return false
	}
	if route[len(route)-1] != destPk {
		return false
	}
	seen := make(map[identity.PublicKey]struct{}, len(route))
	for _, pk := range route {
		if _, dup := seen[pk]; dup {
			return false
		}
		seen[pk] = struct{}{}
	}
	return true
}

// RequestClosePayment moves NewTransactions to InProgress (or Canceled if
// no transactions were ever created), and reports current status
// synchronously (§4.3 "RequestClosePayment").
type CloseStatus struct {
	NotFound bool
	Success  bool
	Canceled bool
	Receipt  []byte
	AckUid   wire.AckUid
}

func (f *Funder) RequestClosePayment(paymentId wire.PaymentId, appRequestId [16]byte) (CloseStatus, error) {
	res, err := f.submit(func(f *Funder) (interface{}, error) {
		p, ok := f.payments[paymentId]
		if !ok {
			return CloseStatus{NotFound: true}, nil
		}
		switch p.Stage {
		case StageNewTransactions:
			if p.NumTransactions == 0 {
				ackUid, err := identity.Rand16(f.cfg.RNG)
				if err != nil {
					return nil, err
				}
				p.Stage = StageCanceled
				p.AckUid = ackUid
				if err := f.persistPayment(p); err != nil {
					f.fatal(err)
				}
				f.emit(report.Mutation{Kind: report.MutationPaymentStageChanged, PaymentId: paymentId, Stage: p.Stage.String()}, appRequestId)
				return CloseStatus{Canceled: true, AckUid: ackUid}, nil
			}
			p.Stage = StageInProgress
			if err := f.persistPayment(p); err != nil {
				f.fatal(err)
			}
			f.emit(report.Mutation{Kind: report.MutationPaymentStageChanged, PaymentId: paymentId, Stage: p.Stage.String()}, appRequestId)
			return CloseStatus{}, nil
		case StageSuccess:
			return CloseStatus{Success: true, Receipt: p.Receipt, AckUid: p.AckUid}, nil
		case StageCanceled:
			return CloseStatus{Canceled: true, AckUid: p.AckUid}, nil
		default:
			return CloseStatus{}, nil
		}
	})
	if err != nil {
		return CloseStatus{}, err
	}
	return res.(CloseStatus), nil
}

// AckClosePayment retires a Success/Canceled payment once the app has
// consumed its terminal result (§4.3 "AckClosePayment").
func (f *Funder) AckClosePayment(paymentId wire.PaymentId, ackUid wire.AckUid, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		p, ok := f.payments[paymentId]
		if !ok {
			return nil, ErrPaymentNotFound
		}
		if (p.Stage != StageSuccess && p.Stage != StageCanceled) || p.AckUid != ackUid {
			return nil, ErrPaymentWrongStage
		}
		if p.Stage == StageSuccess {
			p.Stage = StageAfterSuccessAck
			if err := f.persistPayment(p); err != nil {
				f.fatal(err)
			}
		} else {
			delete(f.payments, paymentId)
			if err := f.cfg.DB.RemovePayment(paymentId); err != nil {
				f.fatal(err)
			}
		}
		f.emit(report.Mutation{Kind: report.MutationPaymentRemoved, PaymentId: paymentId}, appRequestId)
		return nil, nil
	})
	return err
}

// RecordReceipt stores the seller-signed Receipt a buyer obtained over
// the out-of-band Commit/Receipt exchange (§3 "Receipt"), verifying it
// against the payment's invoice and destination before accepting it.
// RequestClosePayment's CloseStatus.Receipt surfaces this once the
// payment reaches Success.
func (f *Funder) RecordReceipt(paymentId wire.PaymentId, receipt string, appRequestId [16]byte) error {
	_, err := f.submit(func(f *Funder) (interface{}, error) {
		p, ok := f.payments[paymentId]
		if !ok {
			return nil, ErrPaymentNotFound
		}
		r, err := invoiceformat.DecodeReceipt(receipt)
		if err != nil {
			return nil, err
		}
		if r.InvoiceId != p.InvoiceId || r.Currency != p.Currency {
			return nil, ErrBadCommitPreimage
		}
		signHash := wire.ReceiptSignHash(r.InvoiceId, r.Currency, r.DestPayment, r.TotalDestPayment)
		if !identity.Verify(signHash, r.Signature, p.DestPk) {
			return nil, ErrBadCommitSignature
		}
		p.Receipt = []byte(receipt)
		if err := f.persistPayment(p); err != nil {
			f.fatal(err)
		}
		return nil, nil
	})
	return err
}

// onLocalResponse handles a response whose origin was this node's own
// Payment, found by invoice hash (§4.3 "Buyer state machine"). It
// decrements the payment's transaction count and moves an InProgress
// payment to Success when the count reaches zero. It builds no Commit;
// a Receipt reaches the payment only through RecordReceipt.
func (f *Funder) onLocalResponse(pt mutualcredit.PendingTransaction, resp wire.ResponseSendFunds) {
	var p *Payment
	for _, cand := range f.payments {
		if wire.Hash256(cand.InvoiceId[:]) == pt.InvoiceHash {
			p = cand
			break
		}
	}
	if p == nil {
		return
	}

	if p.NumTransactions > 0 {
		p.NumTransactions--
	}
	if p.NumTransactions == 0 && p.Stage == StageInProgress {
		ackUid, err := identity.Rand16(f.cfg.RNG)
		if err != nil {
			return
		}
		p.Stage = StageSuccess
		p.AckUid = ackUid
		if err := f.persistPayment(p); err != nil {
			f.fatal(err)
		}
		f.emit(report.Mutation{Kind: report.MutationPaymentStageChanged, PaymentId: p.PaymentId, Stage: p.Stage.String()}, [16]byte{})
	}
}

// onCancelResult handles a cancel whose origin was this node's own
// Payment (no friend to forward it to): if the payment has drained to
// zero outstanding transactions, it transitions to Canceled.
func (f *Funder) onCancelResult(pt mutualcredit.PendingTransaction, canceller identity.PublicKey) {
	for _, p := range f.payments {
		if p.NumTransactions == 0 {
			continue
		}
		p.NumTransactions--
		if p.NumTransactions == 0 && p.Stage == StageInProgress {
			ackUid, err := identity.Rand16(f.cfg.RNG)
			if err != nil {
				continue
			}
			p.Stage = StageCanceled
			p.AckUid = ackUid
			if err := f.persistPayment(p); err != nil {
				f.fatal(err)
			}
			f.emit(report.Mutation{Kind: report.MutationPaymentStageChanged, PaymentId: p.PaymentId, Stage: p.Stage.String()}, [16]byte{})
		}
		return
	}
}

// completeIncoming enqueues a seller-side Response/Collect backwards for
// one recorded incoming transaction once its invoice's Commit has
// verified (§4.3 "CommitInvoice").
func (f *Funder) completeIncoming(reqId wire.RequestId, inv *Invoice, commit Commit) {
	origin, ok := f.requestIndex[reqId]
	if !ok || origin.fromFriend == nil {
		return
	}
	fr, ok := f.friends[*origin.fromFriend]
	if !ok {
		return
	}
	mc, active := fr.Channel.Currencies[origin.currency]
	if !active {
		return
	}
	if _, exists := mc.PendingRemote[reqId]; !exists {
		return
	}

	resp, err := mc.QueueResponse(reqId, commit.SrcPlainLock, 0, wire.ZeroAmount, f.cfg.Signer.Sign, f.cfg.LocalPk)
	if err != nil {
		return
	}
	delete(f.requestIndex, reqId)
	f.cfg.Guard.Release(reqId)

	fr.PendingBackwardsOps = append(fr.PendingBackwardsOps, BackwardsOp{
		Kind:     BackwardsResponse,
		Currency: origin.currency,
		Response: &resp,
	})
	f.markSendCommand(fr)
}
