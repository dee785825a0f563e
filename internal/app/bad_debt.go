package app

import (
	"context"
	"time"

	"circuit-keeper/internal/trigger"
)

// badDebtKeeper recovers the shortfall left by settled auctions whose
// collateral did not cover the vault's debt. Treasury coin sizing can
// split one recovery across several transactions, so a cycle keeps going
// against fresh state while recoveries confirm; a failed pass waits
// continueDelay before surfacing the error.
type badDebtKeeper struct {
	runner        *actionRunner
	continueDelay time.Duration
}

func (k *badDebtKeeper) Name() string { return "bad-debt" }

func (k *badDebtKeeper) RunCycle(ctx context.Context) error {
	// One attempt per vault state: a target re-derived at the same epoch
	// was already driven to an outcome this cycle.
	attempted := make(map[string]uint64)
	for {
		state, err := k.runner.observe(ctx)
		if err != nil {
			return err
		}
		var fresh []trigger.Action
		for _, action := range k.runner.evaluate(state) {
			if action.Kind != trigger.KindRecoverBadDebt {
				continue
			}
			if epoch, ok := attempted[action.Target]; ok && epoch == action.Epoch {
				continue
			}
			attempted[action.Target] = action.Epoch
			fresh = append(fresh, action)
		}
		if len(fresh) == 0 {
			return nil
		}
		confirmed, err := k.runner.act(ctx, fresh, trigger.KindRecoverBadDebt)
		if err != nil {
			k.pause(ctx)
			return err
		}
		if confirmed == 0 {
			return nil
		}
	}
}

func (k *badDebtKeeper) pause(ctx context.Context) {
	if k.continueDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(k.continueDelay):
	}
}
