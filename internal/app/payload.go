package app

import (
	"context"
	"encoding/json"
	"fmt"

	"circuit-keeper/internal/submit"
	"circuit-keeper/internal/trigger"
)

// payloadBuilder assembles the JSON action documents the ledger node turns
// into transactions. The node owns coin selection and signing; the keeper
// only states what it wants done and what fee it will pay.
type payloadBuilder struct {
	feePerCost uint64
}

type actionDoc struct {
	Action     string  `json:"action"`
	Target     string  `json:"target"`
	Amount     float64 `json:"amount,omitempty"`
	Price      float64 `json:"price,omitempty"`
	FeePerCost uint64  `json:"fee_per_cost"`
}

func newPayloadBuilder(feePerCost uint64) *payloadBuilder {
	return &payloadBuilder{feePerCost: feePerCost}
}

func (b *payloadBuilder) BuildAction(ctx context.Context, action trigger.Action) ([]byte, error) {
	_ = ctx
	kind, err := actionKind(action.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionDoc{
		Action:     string(kind),
		Target:     action.Target,
		Amount:     action.Amount,
		FeePerCost: b.feePerCost,
	})
}

func (b *payloadBuilder) BuildBid(ctx context.Context, auctionID string, amount, price float64) ([]byte, error) {
	_ = ctx
	return json.Marshal(actionDoc{
		Action:     string(submit.ActionBid),
		Target:     auctionID,
		Amount:     amount,
		Price:      price,
		FeePerCost: b.feePerCost,
	})
}

func (b *payloadBuilder) BuildSettle(ctx context.Context, coinName string) ([]byte, error) {
	_ = ctx
	return json.Marshal(actionDoc{
		Action:     string(submit.ActionSettleRecharge),
		Target:     coinName,
		FeePerCost: b.feePerCost,
	})
}

func (b *payloadBuilder) BuildOracleUpdate(ctx context.Context, asset string, price float64) ([]byte, error) {
	_ = ctx
	return json.Marshal(actionDoc{
		Action:     string(submit.ActionOracleUpdate),
		Target:     asset,
		Price:      price,
		FeePerCost: b.feePerCost,
	})
}

func actionKind(kind trigger.Kind) (submit.ActionKind, error) {
	switch kind {
	case trigger.KindStartLiquidation:
		return submit.ActionStartLiquidation, nil
	case trigger.KindRecoverBadDebt:
		return submit.ActionRecoverBadDebt, nil
	case trigger.KindStartRecharge:
		return submit.ActionStartRecharge, nil
	case trigger.KindStartSurplus:
		return submit.ActionStartSurplus, nil
	default:
		return "", fmt.Errorf("no ledger action for trigger kind %q", kind)
	}
}
