package submit

import "testing"

func TestIntentKeyDeterministic(t *testing.T) {
	a := Intent{Kind: ActionBid, Target: "auction-1", Epoch: 42, Amount: 100, Price: 8.7}
	b := Intent{Kind: ActionBid, Target: "auction-1", Epoch: 42, Amount: 250, Price: 3.1}
	keyA, err := a.Key()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keyB, err := b.Key()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keyA != keyB {
		t.Fatalf("amount and price must not change the key: %s != %s", keyA, keyB)
	}
}

func TestIntentKeyVaries(t *testing.T) {
	base := Intent{Kind: ActionBid, Target: "auction-1", Epoch: 42}
	baseKey, _ := base.Key()

	byKind := Intent{Kind: ActionStartLiquidation, Target: "auction-1", Epoch: 42}
	byTarget := Intent{Kind: ActionBid, Target: "auction-2", Epoch: 42}
	byEpoch := Intent{Kind: ActionBid, Target: "auction-1", Epoch: 43}
	for _, other := range []Intent{byKind, byTarget, byEpoch} {
		key, err := other.Key()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key == baseKey {
			t.Fatalf("expected distinct key for %+v", other)
		}
	}
}

func TestIntentKeyRequiresKindAndTarget(t *testing.T) {
	if _, err := (Intent{Target: "x"}).Key(); err == nil {
		t.Fatalf("expected error for missing kind")
	}
	if _, err := (Intent{Kind: ActionBid}).Key(); err == nil {
		t.Fatalf("expected error for missing target")
	}
}
