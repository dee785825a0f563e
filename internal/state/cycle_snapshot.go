package state

import (
	"context"
	"encoding/json"
	"strings"
)

const CycleSnapshotKey = "keeper:last_cycle"

// CycleSnapshot is the durable summary of the most recent completed cycle.
// The verify command reads it to show what the keeper last saw without
// touching the ledger.
type CycleSnapshot struct {
	Kind           string  `json:"kind"`
	OraclePrice    float64 `json:"oracle_price"`
	TreasuryBal    float64 `json:"treasury_balance"`
	VaultsScanned  int     `json:"vaults_scanned"`
	ActiveAuctions int     `json:"active_auctions"`
	Actions        int     `json:"actions"`
	HedgeTarget    float64 `json:"hedge_target"`
	HedgeFilled    float64 `json:"hedge_filled"`
	UpdatedAtMS    int64   `json:"updated_at_ms"`
}

func LoadCycleSnapshot(ctx context.Context, store Store) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CycleSnapshotKey)
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, CycleSnapshotKey, string(payload))
}
