package freezeguard

import (
	"testing"

	"github.com/offstlabs/offst/identity"
	"github.com/offstlabs/offst/wire"
)

func TestAdmitAndReleaseRoundTrip(t *testing.T) {
	g := New()
	edge := Edge{In: identity.PublicKey{1}, Out: identity.PublicKey{2}}
	link := wire.FreezeLink{SharedCredits: wire.AmountFromUint64(100), UsableRatioNum: 1, UsableRatioDenom: 1}

	reqID := wire.RequestId{1}
	if err := g.Admit(reqID, edge, wire.AmountFromUint64(25), link); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if g.Committed(edge).Cmp(wire.AmountFromUint64(25)) != 0 {
		t.Fatalf("expected committed=25, got %v", g.Committed(edge))
	}

	g.Release(reqID)
	if !g.Committed(edge).IsZero() {
		t.Fatalf("expected committed=0 after release, got %v", g.Committed(edge))
	}
}

func TestAdmitRejectsOverCeiling(t *testing.T) {
	g := New()
	edge := Edge{In: identity.PublicKey{1}, Out: identity.PublicKey{2}}
	link := wire.FreezeLink{SharedCredits: wire.AmountFromUint64(25), UsableRatioNum: 1, UsableRatioDenom: 1}

	if err := g.Admit(wire.RequestId{1}, edge, wire.AmountFromUint64(20), link); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if err := g.Admit(wire.RequestId{2}, edge, wire.AmountFromUint64(10), link); err != ErrEdgeOverCommitted {
		t.Fatalf("expected ErrEdgeOverCommitted, got %v", err)
	}
	// Rejected admit must not have partially mutated committed state.
	if g.Committed(edge).Cmp(wire.AmountFromUint64(20)) != 0 {
		t.Fatalf("expected committed to remain 20 after rejection, got %v", g.Committed(edge))
	}
}
