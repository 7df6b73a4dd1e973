package tokenchannel

import (
	"testing"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

func twoKeys(t *testing.T) (lowSigner, highSigner *identity.LocalSigner) {
	t.Helper()
	a, err := identity.GenerateLocalSigner(identity.SystemRNG)
	if err != nil {
		t.Fatalf("generate signer a: %v", err)
	}
	b, err := identity.GenerateLocalSigner(identity.SystemRNG)
	if err != nil {
		t.Fatalf("generate signer b: %v", err)
	}
	if a.PublicKey().Less(b.PublicKey()) {
		return a, b
	}
	return b, a
}

func noNewCurrency(wire.Currency) wire.Amount { return wire.ZeroAmount }

func TestInitTokenChannelOrdering(t *testing.T) {
	low, high := twoKeys(t)

	tcLow := InitTokenChannel(low.PublicKey(), high.PublicKey())
	if tcLow.Status != ConsistentIn {
		t.Fatalf("expected lower key to hold the token (ConsistentIn), got %v", tcLow.Status)
	}

	tcHigh := InitTokenChannel(high.PublicKey(), low.PublicKey())
	if tcHigh.Status != ConsistentOut {
		t.Fatalf("expected higher key to await reply (ConsistentOut), got %v", tcHigh.Status)
	}
}

func TestCurrencyActivationForwardStepAndDuplicate(t *testing.T) {
	low, high := twoKeys(t)

	tcLow := InitTokenChannel(low.PublicKey(), high.PublicKey())
	tcHigh := InitTokenChannel(high.PublicKey(), low.PublicKey())

	builder, err := tcLow.NewOutgoing()
	if err != nil {
		t.Fatalf("NewOutgoing: %v", err)
	}
	builder.QueueCurrencyDiff("FST")
	msg, err := builder.Finalize(low.Sign)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tcLow.Status != ConsistentOut {
		t.Fatalf("expected sender to transition to ConsistentOut")
	}

	outcome, err := tcHigh.HandleIncoming(*msg, noNewCurrency)
	if err != nil {
		t.Fatalf("HandleIncoming: %v", err)
	}
	if outcome.Kind != OutcomeReceived {
		t.Fatalf("expected OutcomeReceived, got %v", outcome.Kind)
	}
	if tcHigh.Status != ConsistentIn {
		t.Fatalf("expected receiver to transition to ConsistentIn, got %v", tcHigh.Status)
	}
	if _, ok := tcHigh.Currencies["FST"]; !ok {
		t.Fatalf("expected FST to be activated on the receiver")
	}
	if tcHigh.MoveTokenCounter != 1 {
		t.Fatalf("expected move_token_counter=1, got %d", tcHigh.MoveTokenCounter)
	}

	// S5: replaying the same MoveToken must be a no-op Duplicate.
	before := tcHigh.MoveTokenCounter
	outcome2, err := tcHigh.HandleIncoming(*msg, noNewCurrency)
	if err != nil {
		t.Fatalf("HandleIncoming replay: %v", err)
	}
	if outcome2.Kind != OutcomeDuplicate {
		t.Fatalf("expected OutcomeDuplicate on replay, got %v", outcome2.Kind)
	}
	if tcHigh.MoveTokenCounter != before {
		t.Fatalf("duplicate replay must not mutate state")
	}
}

func TestInconsistencyOnChainBreak(t *testing.T) {
	low, high := twoKeys(t)
	tcHigh := InitTokenChannel(high.PublicKey(), low.PublicKey())

	// tcHigh is ConsistentOut; feed it a MoveToken whose old_token
	// matches neither its out.new_token nor out.old_token.
	bogus := wire.MoveToken{OldToken: []byte("bogus"), NewToken: []byte("also-bogus")}
	outcome, err := tcHigh.HandleIncoming(bogus, noNewCurrency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeInconsistent {
		t.Fatalf("expected OutcomeInconsistent, got %v", outcome.Kind)
	}
	if tcHigh.Status != Inconsistent {
		t.Fatalf("expected channel to transition to Inconsistent")
	}
	if outcome.LocalResetTerms == nil || outcome.LocalResetTerms.Counter != resetCounterGap {
		t.Fatalf("expected local reset terms with counter gap of %d", resetCounterGap)
	}
}
