package trigger

import (
	"errors"
	"testing"
	"time"

	"circuit-keeper/internal/ledger"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func freshPrice(price float64) map[string]ledger.OraclePrice {
	return map[string]ledger.OraclePrice{
		"XCH": {Asset: "XCH", Price: price, Timestamp: testNow.Add(-time.Minute)},
	}
}

func testPolicy() Policy {
	return Policy{
		CollateralAsset:     "XCH",
		LiquidationRatio:    1.2,
		LiquidationDiscount: 1.0,
		PriceMaxAge:         5 * time.Minute,
	}
}

func TestLiquidationTriggerBelowThreshold(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{
			{ID: "vault-1", Collateral: 110, Debt: 100, StateNonce: 7}, // ratio 1.10 at price 1
		},
		Prices: freshPrice(1),
		Now:    testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != KindStartLiquidation {
		t.Fatalf("expected one liquidation action, got %+v", actions)
	}
	if actions[0].Target != "vault-1" || actions[0].Epoch != 7 {
		t.Fatalf("unexpected action target/epoch: %+v", actions[0])
	}
}

func TestLiquidationTriggerAboveThreshold(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{{ID: "vault-1", Collateral: 130, Debt: 100}},
		Prices: freshPrice(1),
		Now:    testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions at ratio 1.3, got %+v", actions)
	}
}

func TestLiquidationSkippedOnStalePrice(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{{ID: "vault-1", Collateral: 110, Debt: 100}},
		Prices: map[string]ledger.OraclePrice{
			"XCH": {Asset: "XCH", Price: 1, Timestamp: testNow.Add(-10 * time.Minute)},
		},
		Now: testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if err != nil {
		t.Fatalf("stale price must not be an error, got %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions on stale price, got %+v", actions)
	}
}

func TestVaultActionsSortedByID(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{
			{ID: "vault-9", Collateral: 50, Debt: 100},
			{ID: "vault-1", Collateral: 50, Debt: 100},
			{ID: "vault-5", Collateral: 50, Debt: 100},
		},
		Prices: freshPrice(1),
		Now:    testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected three actions, got %d", len(actions))
	}
	for i, want := range []string{"vault-1", "vault-5", "vault-9"} {
		if actions[i].Target != want {
			t.Fatalf("expected %s at index %d, got %s", want, i, actions[i].Target)
		}
	}
}

func TestBadDebtTrigger(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{
			{ID: "vault-1", Collateral: 10, Debt: 100, AuctionSettled: true},
		},
		Prices: freshPrice(2), // liquidation value 20 < debt 100
		Now:    testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != KindRecoverBadDebt {
		t.Fatalf("expected bad debt recovery, got %+v", actions)
	}
	if actions[0].Amount != 80 {
		t.Fatalf("expected shortfall 80, got %f", actions[0].Amount)
	}
}

func TestBadDebtNotTriggeredWhenCovered(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{
			{ID: "vault-1", Collateral: 100, Debt: 100, AuctionSettled: true},
		},
		Prices: freshPrice(2),
		Now:    testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions, got %+v", actions)
	}
}

func TestRechargeTrigger(t *testing.T) {
	policy := testPolicy()
	policy.TreasuryMinimum = 1000
	state := State{
		Treasury: ledger.TreasuryState{Balance: 400, StateNonce: 3, StandbyCoins: []string{"rc-1", "rc-2"}},
		Now:      testNow,
	}
	actions, err := Evaluate(state, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != KindStartRecharge {
		t.Fatalf("expected recharge action, got %+v", actions)
	}
	if actions[0].Target != "rc-1" {
		t.Fatalf("expected first standby coin, got %s", actions[0].Target)
	}
	if actions[0].Amount != 600 {
		t.Fatalf("expected deficit 600, got %f", actions[0].Amount)
	}
}

func TestRechargeSuppressedByActiveAuction(t *testing.T) {
	policy := testPolicy()
	policy.TreasuryMinimum = 1000
	state := State{
		Treasury:       ledger.TreasuryState{Balance: 400, StandbyCoins: []string{"rc-1"}},
		ActiveAuctions: map[ledger.AuctionKind]int{ledger.AuctionRecharge: 1},
		Now:            testNow,
	}
	actions, err := Evaluate(state, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no recharge while one is active, got %+v", actions)
	}
}

func TestSurplusTrigger(t *testing.T) {
	policy := testPolicy()
	policy.TreasurySurplus = 1000
	state := State{
		Treasury: ledger.TreasuryState{Balance: 1500, StateNonce: 9},
		Now:      testNow,
	}
	actions, err := Evaluate(state, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != KindStartSurplus {
		t.Fatalf("expected surplus action, got %+v", actions)
	}
	if actions[0].Amount != 500 {
		t.Fatalf("expected surplus 500, got %f", actions[0].Amount)
	}
}

func TestInvalidVaultContainedToEntity(t *testing.T) {
	state := State{
		Vaults: []ledger.VaultPosition{
			{ID: "vault-1", Collateral: -5, Debt: 100},
			{ID: "vault-2", Collateral: 50, Debt: 100},
		},
		Prices: freshPrice(1),
		Now:    testNow,
	}
	actions, err := Evaluate(state, testPolicy())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(actions) != 1 || actions[0].Target != "vault-2" {
		t.Fatalf("valid vault must still be evaluated, got %+v", actions)
	}
}
