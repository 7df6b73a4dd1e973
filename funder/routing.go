// This file implements §4.3's "Routing an incoming request" and "Routing
// an incoming response/cancel", the forwarding core invoked once a
// TokenChannel has applied an inbound MoveToken and surfaced its Events
// upward.
package funder

import (
	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/mutualcredit"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

// HandleFriendEvents processes the Events a friend's TokenChannel.HandleIncoming
// surfaced, routing each request/response/cancel per §4.3. This is the
// submit-wrapped entry point for callers outside the actor loop; channel.go's
// handleIncomingMoveToken calls processFriendEvents directly since it
// already runs with actor-loop access.
func (f *Funder) HandleFriendEvents(from identity.PublicKey, events []tokenchannel.Event) {
	f.submit(func(f *Funder) (interface{}, error) {
		f.processFriendEvents(from, events)
		return nil, nil
	})
}

func (f *Funder) processFriendEvents(from identity.PublicKey, events []tokenchannel.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case tokenchannel.EventRequest:
			f.routeIncomingRequest(from, ev.Currency, *ev.Request)
		case tokenchannel.EventResponse:
			f.routeIncomingResponse(from, ev.Currency, *ev.Response, *ev.ResponsePT)
		case tokenchannel.EventCancel:
			f.routeIncomingCancel(from, ev.Currency, *ev.Cancel, *ev.CancelPT)
		}
	}
}

// routeIncomingRequest implements §4.3's five-step routing algorithm.
func (f *Funder) routeIncomingRequest(from identity.PublicKey, currency wire.Currency, req wire.RequestSendFunds) {
	if len(req.Route) == 0 {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}

	// Step 1: are we the destination? Each sender drops itself from the
	// route before passing it on, so Route[0] is this node and we are the
	// destination when nothing follows it.
	if len(req.Route) == 1 {
		f.routeToInvoice(from, currency, req)
		return
	}

	// Step 2: locate the next hop B, the entry after this node.
	nextPk := req.Route[1]
	next, ok := f.friends[nextPk]
	if !ok || !next.Enabled {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}
	cfg, active := next.CurrencyConfigs[currency]
	if !active {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}

	// Step 3: compute forwarding fee.
	earned := cfg.Rate.Fee(req.DestPayment)
	if earned.Cmp(req.LeftFees) > 0 {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}
	leftFeesOut := req.LeftFees.Sub(earned)

	// Step 4: Freeze Guard admission on edge (from -> nextPk).
	edge := edgeOf(from, nextPk)
	credits, err := wire.AddChecked(req.DestPayment, leftFeesOut)
	if err != nil {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}
	link := wire.FreezeLink{}
	if len(req.FreezeLinks) > 0 {
		link = req.FreezeLinks[0]
	}
	if err := f.cfg.Guard.Admit(req.RequestId, edge, credits, link); err != nil {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}

	// Step 5: enqueue forward onto B's pending-user queue.
	forward := req
	forward.Route = append([]identity.PublicKey{}, req.Route[1:]...)
	forward.LeftFees = leftFeesOut
	if len(req.FreezeLinks) > 0 {
		forward.FreezeLinks = req.FreezeLinks[1:]
	}

	next.PendingUserRequests = append(next.PendingUserRequests, forward)
	f.markSendCommand(next)

	fromCopy := from
	f.requestIndex[req.RequestId] = requestOrigin{fromFriend: &fromCopy, currency: currency, toFriend: nextPk}
}

// routeToInvoice handles step 1: we are the destination.
func (f *Funder) routeToInvoice(from identity.PublicKey, currency wire.Currency, req wire.RequestSendFunds) {
	inv := f.findInvoiceByHash(req.InvoiceHash)
	if inv == nil {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}
	if !inv.HasSrcHashedLock {
		inv.HasSrcHashedLock = true
		inv.SrcHashedLock = req.SrcHashedLock
	} else if inv.SrcHashedLock != req.SrcHashedLock {
		f.cancelIncoming(req.RequestId, f.cfg.LocalPk)
		return
	}
	inv.IncomingTransactions = append(inv.IncomingTransactions, req.RequestId)
	if err := f.persistInvoice(inv); err != nil {
		log.Errorf("funder: persist invoice %x: %v", inv.InvoiceId, err)
	}

	fromCopy := from
	f.requestIndex[req.RequestId] = requestOrigin{fromFriend: &fromCopy, currency: currency, toFriend: f.cfg.LocalPk}
}

func (f *Funder) findInvoiceByHash(invoiceHash wire.Hash) *Invoice {
	for _, inv := range f.invoices {
		if wire.Hash256([]byte(inv.Currency), inv.InvoiceId[:]) == invoiceHash {
			return inv
		}
		// invoice_hash is also commonly just the invoice id's hash;
		// accept a direct id match too since the exact preimage is an
		// Open Question left to the app layer's invoice encoding.
		if wire.Hash256(inv.InvoiceId[:]) == invoiceHash {
			return inv
		}
	}
	return nil
}

// cancelIncoming synthesizes an immediate Cancel for a request this node
// declines to forward, attributing it to canceller (§4.3 step 1-4
// failure branches; §7 "Routing failures ... produce a Cancel"). The
// request's admission into fr's PendingRemote (tokenchannel.applyOperations'
// mc.IncomingRequest) is undone here via QueueCancel before the backwards op
// is queued, so the upstream mc never leaks a reservation past this point.
func (f *Funder) cancelIncoming(requestId wire.RequestId, canceller identity.PublicKey) {
	origin, ok := f.requestIndex[requestId]
	if !ok {
		return
	}
	delete(f.requestIndex, requestId)
	f.cfg.Guard.Release(requestId)

	if origin.fromFriend == nil {
		f.onCancelResult(mutualcredit.PendingTransaction{RequestId: requestId}, canceller)
		return
	}
	fr, ok := f.friends[*origin.fromFriend]
	if !ok {
		return
	}
	if mc, active := fr.Channel.Currencies[origin.currency]; active {
		if _, err := mc.QueueCancel(requestId); err != nil {
			log.Errorf("funder: cancel %x against %v: %v", requestId, *origin.fromFriend, err)
		}
	}
	fr.PendingBackwardsOps = append(fr.PendingBackwardsOps, BackwardsOp{
		Kind:     BackwardsCancel,
		Currency: origin.currency,
		Cancel:   &wire.CancelSendFunds{RequestId: requestId, Canceller: canceller},
	})
	f.markSendCommand(fr)
}

// routeIncomingResponse delivers a response back toward its origin
// (upstream friend, or the local buyer state machine), releasing the
// Freeze Guard reservation. The response signature is an end-to-end one
// produced once by the final destination (CommitInvoice's completeIncoming,
// or a downstream forwarder replaying the same bytes); intermediate hops
// never re-sign it, only settle their own upstream mc's PendingRemote entry
// and forward the same signature on, via QueueResponse with a sign stub
// that hands back resp.Signature unchanged.
func (f *Funder) routeIncomingResponse(from identity.PublicKey, currency wire.Currency, resp wire.ResponseSendFunds, pt mutualcredit.PendingTransaction) {
	origin, ok := f.requestIndex[resp.RequestId]
	if ok {
		delete(f.requestIndex, resp.RequestId)
	}
	f.cfg.Guard.Release(resp.RequestId)

	if !ok || origin.fromFriend == nil {
		f.onLocalResponse(pt, resp)
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
	earned := wire.ZeroAmount
	if downstream, ok := f.friends[from]; ok {
		earned = downstream.CurrencyConfigs[currency].Rate.Fee(pt.DestPayment)
	}
	out, err := mc.QueueResponse(resp.RequestId, resp.SrcPlainLock, resp.SerialNum, earned,
		func(wire.Hash) ([]byte, error) { return resp.Signature, nil }, f.cfg.LocalPk)
	if err != nil {
		log.Errorf("funder: forward response %x to %v: %v", resp.RequestId, *origin.fromFriend, err)
		return
	}
	fr.PendingBackwardsOps = append(fr.PendingBackwardsOps, BackwardsOp{
		Kind:     BackwardsResponse,
		Currency: origin.currency,
		Response: &out,
	})
	f.markSendCommand(fr)
}

// routeIncomingCancel delivers a cancel back toward its origin.
func (f *Funder) routeIncomingCancel(from identity.PublicKey, currency wire.Currency, cancel wire.CancelSendFunds, pt mutualcredit.PendingTransaction) {
	f.cancelIncoming(cancel.RequestId, cancel.Canceller)
}

// onCancelResult and onLocalResponse are implemented in payment.go; they
// surface routing outcomes that terminate at this node's own Payment
// state machine rather than at a neighboring friend.
