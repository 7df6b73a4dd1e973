package report

import "testing"

func TestEmitPreservesOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Emit(Mutation{Kind: MutationFriendAdded, AppRequestId: [16]byte{byte(i)}})
	}

	for i := 0; i < 5; i++ {
		m := <-sub.Mutations()
		if m.AppRequestId[0] != byte(i) {
			t.Fatalf("expected mutation %d in order, got %v", i, m.AppRequestId[0])
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Count())
	}
	sub.Close()
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", b.Count())
	}
}
