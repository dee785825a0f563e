package app

import (
	"context"

	"go.uber.org/zap"

	"circuit-keeper/internal/alerts"
	"circuit-keeper/internal/auction"
	"circuit-keeper/internal/hedge"
	"circuit-keeper/internal/history"
	"circuit-keeper/internal/ledger"
)

// liquidationBidKeeper bids on active liquidation auctions and keeps the
// hedge book in step with confirmed fills. Bid capital is whatever stable
// balance the keeper wallet holds at observation time.
type liquidationBidKeeper struct {
	runner      *actionRunner
	coordinator *auction.Coordinator
	hedger      *hedge.Coordinator
	alerts      *alerts.Telegram
	history     *history.Writer
	stableAsset string

	recorded map[string]auction.BidStatus
}

func (k *liquidationBidKeeper) Name() string { return "liquidation-bid" }

func (k *liquidationBidKeeper) RunCycle(ctx context.Context) error {
	auctions, err := k.runner.ledger.ListActiveAuctions(ctx, ledger.AuctionLiquidation)
	if err != nil {
		return err
	}
	balances, err := k.runner.ledger.WalletBalances(ctx)
	if err != nil {
		return err
	}
	capital := balances[k.stableAsset]
	k.runner.stats.activeAuctions = len(auctions)

	before := k.bidCounts()
	placedBefore := k.hedger.PlacedOrders()
	if err := k.coordinator.Evaluate(ctx, auctions, k.runner.now().UTC(), capital); err != nil {
		return err
	}
	after := k.bidCounts()
	for i := before.total; i < after.total; i++ {
		k.runner.metrics.BidsSubmitted.Inc()
	}
	for i := before.confirmed; i < after.confirmed; i++ {
		k.runner.metrics.BidsConfirmed.Inc()
	}
	k.recordBids()

	report, err := k.hedger.Reconcile(ctx)
	for i := placedBefore; i < k.hedger.PlacedOrders(); i++ {
		k.runner.metrics.HedgeOrders.Inc()
	}
	if err != nil {
		k.runner.log.Warn("hedge reconcile incomplete", zap.Error(err))
	}
	if report.Desynced {
		k.runner.metrics.HedgeDeviations.Inc()
		k.runner.log.Warn("hedge exposure out of tolerance",
			zap.Float64("target", report.TargetExposure),
			zap.Float64("hedged", report.HedgedExposure),
			zap.Float64("deviation", report.Deviation))
		if k.alerts != nil {
			if err := k.alerts.Sendf(ctx, "Hedge desync: target %.4f hedged %.4f", report.TargetExposure, report.HedgedExposure); err != nil {
				k.runner.log.Warn("alert send failed", zap.Error(err))
			}
		}
	}
	return nil
}

// recordBids enqueues every bid whose status changed since the last cycle.
func (k *liquidationBidKeeper) recordBids() {
	if k.recorded == nil {
		k.recorded = make(map[string]auction.BidStatus)
	}
	current := make(map[string]struct{})
	for _, bid := range k.coordinator.Bids() {
		current[bid.ID] = struct{}{}
		if k.recorded[bid.ID] == bid.Status {
			continue
		}
		k.recorded[bid.ID] = bid.Status
		k.history.EnqueueBid(history.BidRecord{
			Time:      k.runner.now().UTC(),
			BidID:     bid.ID,
			AuctionID: bid.AuctionID,
			Epoch:     bid.Epoch,
			Amount:    bid.Amount,
			Price:     bid.Price,
			Status:    string(bid.Status),
			TxRef:     string(bid.TxRef),
		})
	}
	for id := range k.recorded {
		if _, ok := current[id]; !ok {
			delete(k.recorded, id)
		}
	}
}

type bidTally struct {
	total     int
	confirmed int
}

func (k *liquidationBidKeeper) bidCounts() bidTally {
	var tally bidTally
	for _, bid := range k.coordinator.Bids() {
		tally.total++
		if bid.Status == auction.BidConfirmed {
			tally.confirmed++
		}
	}
	return tally
}

// hedgeReport is read by the cycle snapshot writer.
func (k *liquidationBidKeeper) hedgeReport() hedge.Report {
	return k.hedger.Status()
}
