package app

import (
	"context"

	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/trigger"
)

// surplusKeeper starts surplus auctions when the treasury holds more
// stablecoin than the configured ceiling. At most one runs at a time.
type surplusKeeper struct {
	runner *actionRunner
}

func (k *surplusKeeper) Name() string { return "surplus" }

func (k *surplusKeeper) RunCycle(ctx context.Context) error {
	state, err := k.runner.observe(ctx, ledger.AuctionSurplus)
	if err != nil {
		return err
	}
	actions := k.runner.evaluate(state)
	_, err = k.runner.act(ctx, actions, trigger.KindStartSurplus)
	return err
}
