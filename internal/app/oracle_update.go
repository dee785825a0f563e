package app

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"circuit-keeper/internal/submit"
)

// priceSource yields the aggregated off-chain price for an instrument.
type priceSource interface {
	Price(ctx context.Context, instrument string) (float64, error)
}

// oracleUpdateKeeper pushes fresh venue prices on-chain when the ledger's
// oracle has drifted past the deviation bound or gone stale.
type oracleUpdateKeeper struct {
	runner     *actionRunner
	feed       priceSource
	instrument string
	asset      string
	deviation  float64
	maxAge     time.Duration
}

func (k *oracleUpdateKeeper) Name() string { return "oracle-update" }

func (k *oracleUpdateKeeper) RunCycle(ctx context.Context) error {
	fresh, err := k.feed.Price(ctx, k.instrument)
	if err != nil {
		return err
	}
	k.runner.stats.oraclePrice = fresh
	current, err := k.runner.ledger.OraclePrice(ctx, k.asset)
	if err != nil {
		return err
	}

	now := k.runner.now().UTC()
	stale := current.Stale(k.maxAge, now)
	drifted := current.Price > 0 && math.Abs(fresh-current.Price)/current.Price > k.deviation
	if !stale && !drifted && current.Price > 0 {
		return nil
	}

	payload, err := k.runner.builder.BuildOracleUpdate(ctx, k.asset, fresh)
	if err != nil {
		return err
	}
	intent := submit.Intent{
		Kind:    submit.ActionOracleUpdate,
		Target:  k.asset,
		Epoch:   uint64(current.Timestamp.Unix()),
		Price:   fresh,
		Payload: payload,
	}
	k.runner.metrics.ActionsTriggered.Inc()
	k.runner.metrics.TxBroadcast.Inc()
	k.runner.stats.actions++
	k.runner.log.Info("submitting oracle update",
		zap.String("asset", k.asset),
		zap.Float64("price", fresh),
		zap.Float64("previous", current.Price),
		zap.Bool("stale", stale))
	outcome, err := k.runner.submitter.Submit(ctx, intent)
	if err != nil {
		return err
	}
	switch outcome.Status {
	case submit.StatusConfirmed:
		k.runner.metrics.TxConfirmed.Inc()
	case submit.StatusPermanent:
		k.runner.metrics.TxRejected.Inc()
		k.runner.log.Warn("oracle update rejected", zap.Any("reason", outcome.Reason))
	default:
		k.runner.log.Warn("oracle update not confirmed, deferring", zap.Error(outcome.Err))
	}
	return nil
}
