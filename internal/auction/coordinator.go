package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"circuit-keeper/internal/feed"
	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/submit"
)

type BidStatus string

const (
	BidSubmitted BidStatus = "submitted"
	BidConfirmed BidStatus = "confirmed"
	BidRejected  BidStatus = "rejected"
)

// Bid is the coordinator's record of one attempt on one auction price step.
// Its ID is the intent's idempotency key.
type Bid struct {
	ID        string
	AuctionID string
	Epoch     uint64
	Amount    float64
	Price     float64
	Status    BidStatus
	TxRef     ledger.TxRef
}

// Submitter drives an intent to a terminal outcome.
type Submitter interface {
	Submit(ctx context.Context, intent submit.Intent) (submit.Outcome, error)
}

// PayloadBuilder assembles the signed bid transaction for the ledger.
type PayloadBuilder interface {
	BuildBid(ctx context.Context, auctionID string, amount, price float64) ([]byte, error)
}

// Book exposes the venue depth the margin check sweeps against.
type Book interface {
	Ready() bool
	SweepProceeds(side feed.Side, amount float64) (proceeds, size float64)
}

// FillListener is told about every confirmed fill exactly once per bid.
type FillListener interface {
	OnFillConfirmed(ctx context.Context, bidID string, amount, price float64) error
}

// Policy bounds how the coordinator sizes and prices bids.
type Policy struct {
	MaxBidAmount float64
	MaxBidPrice  float64
	MinMargin    float64
}

// Coordinator watches active liquidation auctions and bids when the curve
// price clears the profitability rule. Auction status is always taken from
// the ledger snapshot, never from local bookkeeping: a settle observed
// on-chain wins over anything the coordinator believes it did.
type Coordinator struct {
	submitter Submitter
	builder   PayloadBuilder
	book      Book
	hedge     FillListener
	policy    Policy
	log       *zap.Logger

	bids map[string]Bid
	// done marks auctions whose bidding ended on a permanent rejection;
	// no further price step is tried while the ledger still lists them.
	done map[string]bool
}

func NewCoordinator(submitter Submitter, builder PayloadBuilder, book Book, hedge FillListener, policy Policy, log *zap.Logger) *Coordinator {
	return &Coordinator{
		submitter: submitter,
		builder:   builder,
		book:      book,
		hedge:     hedge,
		policy:    policy,
		log:       log,
		bids:      make(map[string]Bid),
		done:      make(map[string]bool),
	}
}

// Bids returns a snapshot of all bids the coordinator has driven.
func (c *Coordinator) Bids() []Bid {
	out := make([]Bid, 0, len(c.bids))
	for _, b := range c.bids {
		out = append(out, b)
	}
	return out
}

// Evaluate runs one bidding pass over the current auction snapshot.
// capital is the stable balance available for bidding this cycle; cost
// committed to one auction is not offered again to the next. A failure on
// one auction never stops evaluation of the others.
func (c *Coordinator) Evaluate(ctx context.Context, auctions []ledger.Auction, now time.Time, capital float64) error {
	live := make(map[string]bool, len(auctions))
	var errs []error
	for _, a := range auctions {
		if a.Kind != ledger.AuctionLiquidation {
			continue
		}
		live[a.ID] = true
		if a.Status != ledger.AuctionActive || c.done[a.ID] {
			continue
		}
		cost, err := c.evaluateAuction(ctx, a, now, capital)
		if err != nil {
			c.log.Warn("auction evaluation failed",
				zap.String("auction", a.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("auction %s: %w", a.ID, err))
			continue
		}
		capital -= cost
	}
	c.prune(live)
	return errors.Join(errs...)
}

// evaluateAuction returns the cost committed to the auction this pass,
// zero when no bid was placed.
func (c *Coordinator) evaluateAuction(ctx context.Context, a ledger.Auction, now time.Time, capital float64) (float64, error) {
	elapsed := now.Sub(a.StartTime)
	price := a.Curve.PriceAt(elapsed)
	if price <= 0 {
		return 0, fmt.Errorf("non-positive curve price %v", price)
	}
	if c.policy.MaxBidPrice > 0 && price > c.policy.MaxBidPrice {
		c.log.Debug("curve price above bid ceiling",
			zap.String("auction", a.ID),
			zap.Float64("price", price),
			zap.Float64("ceiling", c.policy.MaxBidPrice))
		return 0, nil
	}

	amount := c.policy.MaxBidAmount
	if a.RemainingAmount < amount {
		amount = a.RemainingAmount
	}
	if affordable := capital / price; affordable < amount {
		amount = affordable
	}
	if amount <= 0 {
		return 0, nil
	}

	cost := amount * price
	if !c.profitable(a.ID, amount, cost) {
		return 0, nil
	}

	intent := submit.Intent{
		Kind:   submit.ActionBid,
		Target: a.ID,
		Epoch:  bidEpoch(a, elapsed),
		Amount: amount,
		Price:  price,
	}
	key, err := intent.Key()
	if err != nil {
		return 0, err
	}
	if prior, ok := c.bids[key]; ok && prior.Status != "" {
		// Already driven to a terminal outcome at this price step.
		return 0, nil
	}

	payload, err := c.builder.BuildBid(ctx, a.ID, amount, price)
	if err != nil {
		return 0, fmt.Errorf("build bid: %w", err)
	}
	intent.Payload = payload

	c.log.Info("submitting bid",
		zap.String("auction", a.ID),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
		zap.Uint64("epoch", intent.Epoch))

	outcome, err := c.submitter.Submit(ctx, intent)
	if err != nil {
		return 0, err
	}
	bid := Bid{ID: key, AuctionID: a.ID, Epoch: intent.Epoch, Amount: amount, Price: price, TxRef: outcome.TxRef}
	switch outcome.Status {
	case submit.StatusConfirmed:
		bid.Status = BidConfirmed
		c.bids[key] = bid
		c.log.Info("bid confirmed", zap.String("auction", a.ID), zap.String("tx", string(outcome.TxRef)))
		if c.hedge != nil {
			if err := c.hedge.OnFillConfirmed(ctx, key, amount, price); err != nil {
				// Hedging never blocks or reverses the ledger-side bid.
				c.log.Warn("hedge fill notification failed",
					zap.String("bid", key),
					zap.Error(err))
			}
		}
		return cost, nil
	case submit.StatusPermanent:
		// The ledger refused this auction outright. Later price steps
		// would hit the same refusal, so bidding on it ends here.
		bid.Status = BidRejected
		c.bids[key] = bid
		c.done[a.ID] = true
		c.log.Warn("bid rejected, ending bidding on auction",
			zap.String("auction", a.ID),
			zap.Any("reason", outcome.Reason))
		return 0, nil
	default:
		// Transient exhaustion. Forget the attempt so the next cycle can
		// rebuild against fresh ledger state.
		delete(c.bids, key)
		c.log.Warn("bid not confirmed, will re-evaluate",
			zap.String("auction", a.ID),
			zap.Error(outcome.Err))
		return 0, nil
	}
}

// profitable applies the margin rule: selling the won collateral into the
// hedge venue's book must return more than the bid cost plus the configured
// margin, over the full bid size.
func (c *Coordinator) profitable(auctionID string, amount, cost float64) bool {
	if c.book == nil {
		return true
	}
	if !c.book.Ready() {
		c.log.Warn("order book not ready, skipping bid", zap.String("auction", auctionID))
		return false
	}
	proceeds, size := c.book.SweepProceeds(feed.SideSell, amount)
	if size < amount {
		c.log.Debug("book too thin for bid size",
			zap.String("auction", auctionID),
			zap.Float64("amount", amount),
			zap.Float64("depth", size))
		return false
	}
	required := cost * (1 + c.policy.MinMargin)
	if proceeds <= required {
		c.log.Debug("bid below margin threshold",
			zap.String("auction", auctionID),
			zap.Float64("proceeds", proceeds),
			zap.Float64("required", required))
		return false
	}
	return true
}

func (c *Coordinator) prune(live map[string]bool) {
	for key, bid := range c.bids {
		if !live[bid.AuctionID] {
			delete(c.bids, key)
		}
	}
	for id := range c.done {
		if !live[id] {
			delete(c.done, id)
		}
	}
}

// bidEpoch anchors the bid's idempotency epoch to ledger-observable state:
// the auction start time and the curve step the bid prices against. Within
// one step every keeper derives the same epoch.
func bidEpoch(a ledger.Auction, elapsed time.Duration) uint64 {
	return uint64(a.StartTime.Unix())<<16 | uint64(a.Curve.StepIndex(elapsed))&0xffff
}
