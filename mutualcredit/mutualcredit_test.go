package mutualcredit

import (
	"testing"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

func mustAmount(v uint64) wire.Amount { return wire.AmountFromUint64(v) }

func TestIncomingRequestAcceptsWithinLimit(t *testing.T) {
	mc := New("FST", mustAmount(0), mustAmount(100))
	mc.RemoteRequestsOpen = true
	mc.LocalRequestsOpen = true

	req := wire.RequestSendFunds{
		RequestId:   wire.RequestId{1},
		Currency:    "FST",
		DestPayment: mustAmount(16),
		LeftFees:    mustAmount(4),
	}

	decision, err := mc.IncomingRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != Accept {
		t.Fatalf("expected Accept, got %v", decision)
	}
	if mc.RemotePendingDebt.Cmp(mustAmount(20)) != 0 {
		t.Fatalf("expected remote_pending_debt=20, got %v", mc.RemotePendingDebt)
	}
	if _, ok := mc.PendingRemote[req.RequestId]; !ok {
		t.Fatalf("expected pending_remote entry to be recorded")
	}
}

func TestIncomingRequestInsufficientCredit(t *testing.T) {
	mc := New("FST", mustAmount(0), mustAmount(10))
	mc.LocalRequestsOpen = true

	req := wire.RequestSendFunds{
		RequestId:   wire.RequestId{1},
		Currency:    "FST",
		DestPayment: mustAmount(16),
	}

	decision, err := mc.IncomingRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != CancelInsufficientCredit {
		t.Fatalf("expected CancelInsufficientCredit, got %v", decision)
	}
	if !mc.RemotePendingDebt.IsZero() {
		t.Fatalf("expected no state change on reject")
	}
}

func TestIncomingRequestRequestsClosed(t *testing.T) {
	mc := New("FST", mustAmount(0), mustAmount(100))
	mc.LocalRequestsOpen = false

	req := wire.RequestSendFunds{RequestId: wire.RequestId{1}, DestPayment: mustAmount(16)}
	decision, err := mc.IncomingRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != CancelRequestsClosed {
		t.Fatalf("expected CancelRequestsClosed, got %v", decision)
	}
}

func TestQueueRequestThenResponseRoundTrip(t *testing.T) {
	signer, err := identity.GenerateLocalSigner(identity.SystemRNG)
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	mc := New("FST", mustAmount(100), mustAmount(0))
	var srcPlainLock [32]byte
	req := wire.RequestSendFunds{
		RequestId:        wire.RequestId{2},
		Currency:         "FST",
		SrcHashedLock:    wire.Hash256(srcPlainLock[:]),
		DestPayment:      mustAmount(16),
		TotalDestPayment: mustAmount(16),
		Route:            []identity.PublicKey{signer.PublicKey()},
	}

	ok, err := mc.QueueRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected request to be admitted")
	}
	if mc.LocalPendingDebt.Cmp(mustAmount(16)) != 0 {
		t.Fatalf("expected local_pending_debt=16, got %v", mc.LocalPendingDebt)
	}

	resp := wire.ResponseSendFunds{RequestId: req.RequestId, SrcPlainLock: srcPlainLock, SerialNum: 1}
	signHash := wire.ResponseSignHash(
		resp.RequestId, resp.SrcPlainLock, resp.SerialNum, signer.PublicKey(),
		req.DestPayment, req.TotalDestPayment, req.InvoiceHash,
	)
	sig, err := signer.Sign(signHash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp.Signature = sig

	mc2 := *mc
	pt, err := mc2.IncomingResponse(resp)
	if err != nil {
		t.Fatalf("IncomingResponse: %v", err)
	}
	if pt.DestPayment.Cmp(req.DestPayment) != 0 {
		t.Fatalf("expected matching pending transaction, got %+v", pt)
	}
}

func TestQueueRequestInsufficientLocalCredit(t *testing.T) {
	mc := New("FST", mustAmount(10), mustAmount(0))
	req := wire.RequestSendFunds{RequestId: wire.RequestId{3}, DestPayment: mustAmount(16)}

	ok, err := mc.QueueRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected synthetic cancel (ok=false)")
	}
	if len(mc.PendingLocal) != 0 {
		t.Fatalf("expected no state change")
	}
}

func TestIsDrainedAndCheckInvariants(t *testing.T) {
	mc := New("FST", mustAmount(100), mustAmount(100))
	if !mc.IsDrained() {
		t.Fatalf("freshly created cell should be drained")
	}
	if err := mc.CheckInvariants(); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}
