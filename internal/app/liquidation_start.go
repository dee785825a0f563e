package app

import (
	"context"

	"circuit-keeper/internal/trigger"
)

// liquidationStartKeeper opens auctions on undercollateralized vaults.
type liquidationStartKeeper struct {
	runner *actionRunner
}

func (k *liquidationStartKeeper) Name() string { return "liquidation-start" }

func (k *liquidationStartKeeper) RunCycle(ctx context.Context) error {
	state, err := k.runner.observe(ctx)
	if err != nil {
		return err
	}
	actions := k.runner.evaluate(state)
	_, err = k.runner.act(ctx, actions, trigger.KindStartLiquidation)
	return err
}
