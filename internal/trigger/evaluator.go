// Package trigger holds the pure decision rules that turn a fresh protocol
// snapshot into maintenance actions. Evaluate has no side effects and no
// clock of its own; callers pass the observation time in.
package trigger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"circuit-keeper/internal/ledger"
)

// ErrInvalidState marks structurally inconsistent input. It is fatal for
// the entity it concerns, never for the process: the remaining entities are
// still evaluated.
var ErrInvalidState = errors.New("invalid state")

type Kind string

const (
	KindStartLiquidation Kind = "start_liquidation"
	KindRecoverBadDebt   Kind = "recover_bad_debt"
	KindStartRecharge    Kind = "start_recharge"
	KindStartSurplus     Kind = "start_surplus"
)

type Action struct {
	Kind   Kind
	Target string
	Epoch  uint64
	Amount float64
}

// State is everything the evaluator may look at, captured in one cycle.
type State struct {
	Vaults         []ledger.VaultPosition
	Prices         map[string]ledger.OraclePrice
	Treasury       ledger.TreasuryState
	ActiveAuctions map[ledger.AuctionKind]int
	Now            time.Time
}

type Policy struct {
	CollateralAsset     string
	LiquidationRatio    float64
	LiquidationDiscount float64
	PriceMaxAge         time.Duration
	TreasuryMinimum     float64
	TreasurySurplus     float64
}

// Evaluate returns every action warranted by the snapshot, vault-scoped
// actions in ascending position-id order. Per-entity InvalidState errors
// are joined and returned alongside whatever actions remain valid.
func Evaluate(state State, policy Policy) ([]Action, error) {
	var actions []Action
	var errs []error

	price, havePrice := state.Prices[policy.CollateralAsset]
	priceUsable := havePrice && !price.Stale(policy.PriceMaxAge, state.Now)

	vaults := make([]ledger.VaultPosition, len(state.Vaults))
	copy(vaults, state.Vaults)
	sort.Slice(vaults, func(i, j int) bool { return vaults[i].ID < vaults[j].ID })

	for _, vault := range vaults {
		if vault.Collateral < 0 || vault.Debt < 0 {
			errs = append(errs, fmt.Errorf("%w: vault %s has negative amounts", ErrInvalidState, vault.ID))
			continue
		}
		// Never liquidate on stale data. Skipping is a policy guard, not
		// an error; the next cycle sees a fresh price.
		if !priceUsable {
			continue
		}
		if policy.LiquidationRatio > 0 && !vault.AuctionSettled &&
			vault.CollateralRatio(price.Price) < policy.LiquidationRatio {
			actions = append(actions, Action{
				Kind:   KindStartLiquidation,
				Target: vault.ID,
				Epoch:  vault.StateNonce,
			})
		}
		if vault.AuctionSettled && policy.LiquidationDiscount > 0 {
			liquidationValue := vault.Collateral * price.Price * policy.LiquidationDiscount
			if vault.Debt > liquidationValue {
				actions = append(actions, Action{
					Kind:   KindRecoverBadDebt,
					Target: vault.ID,
					Epoch:  vault.StateNonce,
					Amount: vault.Debt - liquidationValue,
				})
			}
		}
	}

	if state.Treasury.Balance < 0 {
		errs = append(errs, fmt.Errorf("%w: treasury balance is negative", ErrInvalidState))
	} else {
		if policy.TreasuryMinimum > 0 &&
			state.Treasury.Balance < policy.TreasuryMinimum &&
			state.ActiveAuctions[ledger.AuctionRecharge] == 0 &&
			len(state.Treasury.StandbyCoins) > 0 {
			actions = append(actions, Action{
				Kind:   KindStartRecharge,
				Target: state.Treasury.StandbyCoins[0],
				Epoch:  state.Treasury.StateNonce,
				Amount: policy.TreasuryMinimum - state.Treasury.Balance,
			})
		}
		if policy.TreasurySurplus > 0 &&
			state.Treasury.Balance > policy.TreasurySurplus &&
			state.ActiveAuctions[ledger.AuctionSurplus] == 0 {
			actions = append(actions, Action{
				Kind:   KindStartSurplus,
				Target: "treasury",
				Epoch:  state.Treasury.StateNonce,
				Amount: state.Treasury.Balance - policy.TreasurySurplus,
			})
		}
	}

	return actions, errors.Join(errs...)
}
