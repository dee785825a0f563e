package auction

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"circuit-keeper/internal/feed"
	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/submit"
)

type mockSubmitter struct {
	intents  []submit.Intent
	outcomes []submit.Outcome
}

func (m *mockSubmitter) Submit(ctx context.Context, intent submit.Intent) (submit.Outcome, error) {
	m.intents = append(m.intents, intent)
	if len(m.outcomes) == 0 {
		return submit.Outcome{Status: submit.StatusConfirmed, TxRef: "tx-1"}, nil
	}
	out := m.outcomes[0]
	if len(m.outcomes) > 1 {
		m.outcomes = m.outcomes[1:]
	}
	return out, nil
}

type mockBuilder struct{}

func (mockBuilder) BuildBid(ctx context.Context, auctionID string, amount, price float64) ([]byte, error) {
	return []byte(`{"auction":"` + auctionID + `"}`), nil
}

type stubBook struct {
	ready    bool
	proceeds float64
	size     float64
}

func (b stubBook) Ready() bool { return b.ready }

func (b stubBook) SweepProceeds(side feed.Side, amount float64) (float64, float64) {
	return b.proceeds, b.size
}

type recordingHedge struct {
	fills []string
}

func (h *recordingHedge) OnFillConfirmed(ctx context.Context, bidID string, amount, price float64) error {
	h.fills = append(h.fills, bidID)
	return nil
}

var auctionStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeAuction(remaining float64) ledger.Auction {
	return ledger.Auction{
		ID:              "auction-1",
		Kind:            ledger.AuctionLiquidation,
		VaultID:         "vault-1",
		Status:          ledger.AuctionActive,
		TargetAmount:    100,
		RemainingAmount: remaining,
		StartTime:       auctionStart,
		Curve: ledger.PriceCurve{
			StartPrice:   30,
			StepInterval: time.Minute,
			StepRate:     0.01,
			Descending:   true,
		},
	}
}

func testCoordinator(sub *mockSubmitter, book Book, hedge FillListener, policy Policy) *Coordinator {
	return NewCoordinator(sub, mockBuilder{}, book, hedge, policy, zap.NewNop())
}

func deepBook() stubBook {
	return stubBook{ready: true, proceeds: 1e9, size: 1e9}
}

func TestEvaluateSubmitsAndNotifiesHedge(t *testing.T) {
	sub := &mockSubmitter{}
	hedge := &recordingHedge{}
	coord := testCoordinator(sub, deepBook(), hedge, Policy{MaxBidAmount: 10})

	now := auctionStart.Add(30 * time.Second)
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, now, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 {
		t.Fatalf("submits = %d, want 1", len(sub.intents))
	}
	intent := sub.intents[0]
	if intent.Kind != submit.ActionBid || intent.Target != "auction-1" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if intent.Amount != 10 || intent.Price != 30 {
		t.Fatalf("amount/price = %v/%v, want 10/30", intent.Amount, intent.Price)
	}
	if len(intent.Payload) == 0 {
		t.Fatal("payload not built")
	}
	if len(hedge.fills) != 1 {
		t.Fatalf("hedge fills = %d, want 1", len(hedge.fills))
	}
	bids := coord.Bids()
	if len(bids) != 1 || bids[0].Status != BidConfirmed {
		t.Fatalf("unexpected bids: %+v", bids)
	}
}

func TestEvaluateSameStepNotResubmitted(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 10})

	now := auctionStart.Add(10 * time.Second)
	auctions := []ledger.Auction{activeAuction(50)}
	for i := 0; i < 3; i++ {
		if err := coord.Evaluate(context.Background(), auctions, now, 10_000); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}
	if len(sub.intents) != 1 {
		t.Fatalf("submits = %d, want 1 for one price step", len(sub.intents))
	}
}

func TestEvaluateNewStepMintsNewEpoch(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 10})

	auctions := []ledger.Auction{activeAuction(50)}
	if err := coord.Evaluate(context.Background(), auctions, auctionStart.Add(10*time.Second), 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := coord.Evaluate(context.Background(), auctions, auctionStart.Add(70*time.Second), 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 2 {
		t.Fatalf("submits = %d, want 2 across steps", len(sub.intents))
	}
	if sub.intents[0].Epoch == sub.intents[1].Epoch {
		t.Fatal("epochs must differ across price steps")
	}
	if sub.intents[1].Price >= sub.intents[0].Price {
		t.Fatalf("descending curve: price %v should be below %v", sub.intents[1].Price, sub.intents[0].Price)
	}
}

func TestEvaluatePermanentRejectionNotRetried(t *testing.T) {
	sub := &mockSubmitter{outcomes: []submit.Outcome{{
		Status: submit.StatusPermanent,
		Reason: &ledger.RejectError{Reason: ledger.ReasonStaleAuction},
	}}}
	hedge := &recordingHedge{}
	coord := testCoordinator(sub, deepBook(), hedge, Policy{MaxBidAmount: 10})

	now := auctionStart.Add(10 * time.Second)
	auctions := []ledger.Auction{activeAuction(50)}
	for i := 0; i < 2; i++ {
		if err := coord.Evaluate(context.Background(), auctions, now, 10_000); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}
	if len(sub.intents) != 1 {
		t.Fatalf("submits = %d, want 1 after permanent rejection", len(sub.intents))
	}
	if len(hedge.fills) != 0 {
		t.Fatal("rejected bid must not reach the hedge")
	}
}

func TestEvaluatePermanentRejectionEndsAuctionBidding(t *testing.T) {
	sub := &mockSubmitter{outcomes: []submit.Outcome{{
		Status: submit.StatusPermanent,
		Reason: &ledger.RejectError{Reason: ledger.ReasonInsufficientBalance},
	}}}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 10})

	auctions := []ledger.Auction{activeAuction(50)}
	if err := coord.Evaluate(context.Background(), auctions, auctionStart.Add(10*time.Second), 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// The next price step mints a new epoch, but the ledger already refused
	// this auction for good.
	if err := coord.Evaluate(context.Background(), auctions, auctionStart.Add(70*time.Second), 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 {
		t.Fatalf("submits = %d, want no re-bid at later steps after permanent rejection", len(sub.intents))
	}
}

type erroringHedge struct {
	calls int
}

func (h *erroringHedge) OnFillConfirmed(ctx context.Context, bidID string, amount, price float64) error {
	h.calls++
	return context.DeadlineExceeded
}

func TestEvaluateHedgeFailureDoesNotAbort(t *testing.T) {
	sub := &mockSubmitter{}
	hedge := &erroringHedge{}
	coord := testCoordinator(sub, deepBook(), hedge, Policy{MaxBidAmount: 10})

	a1 := activeAuction(50)
	a2 := activeAuction(50)
	a2.ID = "auction-2"
	if err := coord.Evaluate(context.Background(), []ledger.Auction{a1, a2}, auctionStart, 10_000); err != nil {
		t.Fatalf("hedge failure must not fail the pass, got %v", err)
	}
	if len(sub.intents) != 2 {
		t.Fatalf("submits = %d, want both auctions bid", len(sub.intents))
	}
	if hedge.calls != 2 {
		t.Fatalf("hedge calls = %d, want 2", hedge.calls)
	}
	for _, bid := range coord.Bids() {
		if bid.Status != BidConfirmed {
			t.Fatalf("bid %s status = %q, want confirmed despite hedge error", bid.ID, bid.Status)
		}
	}
}

func TestEvaluateOneBadAuctionDoesNotStopOthers(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 10})

	broken := activeAuction(50)
	broken.Curve.StartPrice = 0
	good := activeAuction(50)
	good.ID = "auction-2"
	err := coord.Evaluate(context.Background(), []ledger.Auction{broken, good}, auctionStart, 10_000)
	if err == nil {
		t.Fatal("expected the broken auction's error to surface")
	}
	if len(sub.intents) != 1 || sub.intents[0].Target != "auction-2" {
		t.Fatalf("unexpected intents: %+v", sub.intents)
	}
}

func TestEvaluateCapitalSpreadAcrossAuctions(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 100})

	a1 := activeAuction(50)
	a2 := activeAuction(50)
	a2.ID = "auction-2"
	// Capital 900 at price 30 affords 30 units total; the first auction
	// takes all of it, leaving nothing to bid on the second.
	if err := coord.Evaluate(context.Background(), []ledger.Auction{a1, a2}, auctionStart, 900); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 {
		t.Fatalf("submits = %d, want 1 when the first bid consumes the capital", len(sub.intents))
	}
	if sub.intents[0].Amount != 30 {
		t.Fatalf("amount = %v, want 30", sub.intents[0].Amount)
	}
}

func TestEvaluateTransientRetriedNextCycle(t *testing.T) {
	sub := &mockSubmitter{outcomes: []submit.Outcome{
		{Status: submit.StatusTransient},
		{Status: submit.StatusConfirmed, TxRef: "tx-2"},
	}}
	hedge := &recordingHedge{}
	coord := testCoordinator(sub, deepBook(), hedge, Policy{MaxBidAmount: 10})

	now := auctionStart.Add(10 * time.Second)
	auctions := []ledger.Auction{activeAuction(50)}
	for i := 0; i < 2; i++ {
		if err := coord.Evaluate(context.Background(), auctions, now, 10_000); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}
	if len(sub.intents) != 2 {
		t.Fatalf("submits = %d, want retry after transient", len(sub.intents))
	}
	if len(hedge.fills) != 1 {
		t.Fatalf("hedge fills = %d, want 1", len(hedge.fills))
	}
}

func TestEvaluatePriceAboveCeilingSkipped(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 10, MaxBidPrice: 29})

	// Start price 30 exceeds the ceiling; six steps of 1% decay dip under it.
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, auctionStart, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 0 {
		t.Fatal("bid above ceiling must be skipped")
	}
	later := auctionStart.Add(6 * time.Minute)
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, later, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 {
		t.Fatalf("submits = %d, want 1 once curve dips under ceiling", len(sub.intents))
	}
}

func TestEvaluateBidSizing(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 100})

	// Remaining 50, capital 600 at price 30 affords 20: capital binds.
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, auctionStart, 600); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 || sub.intents[0].Amount != 20 {
		t.Fatalf("unexpected intents: %+v", sub.intents)
	}
}

func TestEvaluateThinBookSkipped(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, stubBook{ready: true, proceeds: 100, size: 3}, &recordingHedge{}, Policy{MaxBidAmount: 10})

	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, auctionStart, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 0 {
		t.Fatal("bid must be skipped when the book cannot absorb it")
	}
}

func TestEvaluateMarginRule(t *testing.T) {
	// Cost is 10 * 30 = 300; with 5% margin proceeds must exceed 315.
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, stubBook{ready: true, proceeds: 310, size: 10}, &recordingHedge{}, Policy{MaxBidAmount: 10, MinMargin: 0.05})
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, auctionStart, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 0 {
		t.Fatal("unprofitable bid must be skipped")
	}

	sub = &mockSubmitter{}
	coord = testCoordinator(sub, stubBook{ready: true, proceeds: 320, size: 10}, &recordingHedge{}, Policy{MaxBidAmount: 10, MinMargin: 0.05})
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, auctionStart, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 {
		t.Fatal("profitable bid must be submitted")
	}
}

func TestEvaluateIgnoresInactiveAndPrunes(t *testing.T) {
	sub := &mockSubmitter{}
	coord := testCoordinator(sub, deepBook(), &recordingHedge{}, Policy{MaxBidAmount: 10})

	now := auctionStart.Add(10 * time.Second)
	if err := coord.Evaluate(context.Background(), []ledger.Auction{activeAuction(50)}, now, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(coord.Bids()) != 1 {
		t.Fatalf("bids = %d, want 1", len(coord.Bids()))
	}

	settled := activeAuction(0)
	settled.Status = ledger.AuctionSettled
	if err := coord.Evaluate(context.Background(), []ledger.Auction{settled}, now, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(sub.intents) != 1 {
		t.Fatal("settled auction must not attract bids")
	}

	if err := coord.Evaluate(context.Background(), nil, now, 10_000); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(coord.Bids()) != 0 {
		t.Fatal("bids for vanished auctions must be pruned")
	}
}
