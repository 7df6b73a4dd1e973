package store

import (
	"testing"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/tokenchannel"
	"github.com/offstlabs/offst/wire"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFriendRoundTrip(t *testing.T) {
	db := openTestDB(t)

	local, err := identity.GenerateLocalSigner(identity.SystemRNG)
	if err != nil {
		t.Fatalf("GenerateLocalSigner: %v", err)
	}
	remote, err := identity.GenerateLocalSigner(identity.SystemRNG)
	if err != nil {
		t.Fatalf("GenerateLocalSigner: %v", err)
	}

	tc := tokenchannel.InitTokenChannel(local.PublicKey(), remote.PublicKey())

	f := FriendRecord{
		RemotePk: remote.PublicKey(),
		Name:     "alice",
		Enabled:  true,
		Relays: []wire.RelayAddress{
			{PublicKey: remote.PublicKey(), Address: "relay.example:4321"},
		},
		CurrencyConfigs: map[wire.Currency]CurrencyConfig{
			"FST": {Rate: wire.Rate{Mul: 100, Add: 1}, RemoteMaxDebt: wire.AmountFromUint64(1000)},
		},
		Channel: tc,
	}

	if err := db.PutFriend(f); err != nil {
		t.Fatalf("PutFriend: %v", err)
	}

	got, err := db.FetchFriend(remote.PublicKey())
	if err != nil {
		t.Fatalf("FetchFriend: %v", err)
	}
	if got.Name != "alice" || !got.Enabled {
		t.Fatalf("unexpected friend record: %+v", got)
	}
	if got.Channel.Status != tc.Status {
		t.Fatalf("expected status %v, got %v", tc.Status, got.Channel.Status)
	}

	count := 0
	if err := db.ForEachFriend(func(FriendRecord) error { count++; return nil }); err != nil {
		t.Fatalf("ForEachFriend: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 friend, got %d", count)
	}

	if err := db.RemoveFriend(remote.PublicKey()); err != nil {
		t.Fatalf("RemoveFriend: %v", err)
	}
	if _, err := db.FetchFriend(remote.PublicKey()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestInvoiceAndPaymentRoundTrip(t *testing.T) {
	db := openTestDB(t)

	var invID wire.InvoiceId
	invID[0] = 7
	inv := InvoiceRecord{
		InvoiceId:        invID,
		Currency:         "FST",
		TotalDestPayment: wire.AmountFromUint64(500),
	}
	if err := db.PutInvoice(inv); err != nil {
		t.Fatalf("PutInvoice: %v", err)
	}
	gotInv, err := db.FetchInvoice(invID)
	if err != nil {
		t.Fatalf("FetchInvoice: %v", err)
	}
	if gotInv.Currency != "FST" {
		t.Fatalf("unexpected invoice: %+v", gotInv)
	}
	if err := db.RemoveInvoice(invID); err != nil {
		t.Fatalf("RemoveInvoice: %v", err)
	}

	var payID wire.PaymentId
	payID[0] = 9
	pay := PaymentRecord{PaymentId: payID, Stage: StageNewTransactions}
	if err := db.PutPayment(pay); err != nil {
		t.Fatalf("PutPayment: %v", err)
	}
	gotPay, err := db.FetchPayment(payID)
	if err != nil {
		t.Fatalf("FetchPayment: %v", err)
	}
	if gotPay.Stage != StageNewTransactions {
		t.Fatalf("unexpected payment stage: %v", gotPay.Stage)
	}
}

func TestLocalRelaysRoundTrip(t *testing.T) {
	db := openTestDB(t)

	relays, err := db.FetchLocalRelays()
	if err != nil {
		t.Fatalf("FetchLocalRelays (empty): %v", err)
	}
	if len(relays) != 0 {
		t.Fatalf("expected no relays initially, got %d", len(relays))
	}

	want := []wire.RelayAddress{{Address: "127.0.0.1:3000"}}
	if err := db.PutLocalRelays(want); err != nil {
		t.Fatalf("PutLocalRelays: %v", err)
	}
	got, err := db.FetchLocalRelays()
	if err != nil {
		t.Fatalf("FetchLocalRelays: %v", err)
	}
	if len(got) != 1 || got[0].Address != "127.0.0.1:3000" {
		t.Fatalf("unexpected relays: %+v", got)
	}
}
