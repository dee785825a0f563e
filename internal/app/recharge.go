package app

import (
	"context"

	"go.uber.org/zap"

	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/submit"
	"circuit-keeper/internal/trigger"
)

// rechargeKeeper refills the treasury: it starts recharge auctions when
// the balance dips under the floor, and settles expired recharge coins.
// Expired coins are settlable by anyone; settleAll sweeps them all, the
// default settles only coins our own target address won.
type rechargeKeeper struct {
	runner       *actionRunner
	settleAll    bool
	settleTarget string
}

func (k *rechargeKeeper) Name() string { return "recharge" }

func (k *rechargeKeeper) RunCycle(ctx context.Context) error {
	state, err := k.runner.observe(ctx, ledger.AuctionRecharge)
	if err != nil {
		return err
	}
	actions := k.runner.evaluate(state)
	if _, err := k.runner.act(ctx, actions, trigger.KindStartRecharge); err != nil {
		return err
	}
	return k.settleExpired(ctx, state.Treasury.StateNonce)
}

func (k *rechargeKeeper) settleExpired(ctx context.Context, epoch uint64) error {
	coins, err := k.runner.ledger.ListRechargeCoins(ctx)
	if err != nil {
		return err
	}
	for _, coin := range coins {
		if !coin.Expired {
			continue
		}
		if !k.settleAll && coin.LastBidTarget != k.settleTarget {
			continue
		}
		payload, err := k.runner.builder.BuildSettle(ctx, coin.Name)
		if err != nil {
			return err
		}
		intent := submit.Intent{
			Kind:    submit.ActionSettleRecharge,
			Target:  coin.Name,
			Epoch:   epoch,
			Payload: payload,
		}
		k.runner.metrics.ActionsTriggered.Inc()
		k.runner.metrics.TxBroadcast.Inc()
		k.runner.stats.actions++
		outcome, err := k.runner.submitter.Submit(ctx, intent)
		if err != nil {
			return err
		}
		switch outcome.Status {
		case submit.StatusConfirmed:
			k.runner.metrics.TxConfirmed.Inc()
			k.runner.log.Info("recharge coin settled",
				zap.String("coin", coin.Name),
				zap.String("tx", string(outcome.TxRef)))
		case submit.StatusPermanent:
			k.runner.metrics.TxRejected.Inc()
			k.runner.log.Warn("recharge settle rejected",
				zap.String("coin", coin.Name),
				zap.Any("reason", outcome.Reason))
		default:
			k.runner.log.Warn("recharge settle not confirmed, deferring",
				zap.String("coin", coin.Name),
				zap.Error(outcome.Err))
		}
	}
	return nil
}
