package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"circuit-keeper/internal/config"
	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/logging"
	"circuit-keeper/internal/state"
	"circuit-keeper/internal/state/sqlite"
	"circuit-keeper/internal/trigger"

	"go.uber.org/zap"
)

// verify runs one observe-and-decide pass against the live ledger and
// prints the actions the keeper would take, without broadcasting anything.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	showSnapshot := flag.Bool("snapshot", false, "also print the last recorded cycle snapshot")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rpc := ledger.NewRPCClient(cfg.RPC.BaseURL, cfg.RPC.Timeout, log)
	snapshot, err := rpc.State(ctx)
	if err != nil {
		fatal(err)
	}
	counts := make(map[ledger.AuctionKind]int)
	for _, kind := range []ledger.AuctionKind{ledger.AuctionLiquidation, ledger.AuctionRecharge, ledger.AuctionSurplus} {
		auctions, err := rpc.ListActiveAuctions(ctx, kind)
		if err != nil {
			fatal(err)
		}
		counts[kind] = len(auctions)
	}

	actions, evalErr := trigger.Evaluate(trigger.State{
		Vaults:         snapshot.Vaults,
		Prices:         snapshot.Prices,
		Treasury:       snapshot.Treasury,
		ActiveAuctions: counts,
		Now:            time.Now().UTC(),
	}, trigger.Policy{
		CollateralAsset:     cfg.Policy.CollateralAsset,
		LiquidationRatio:    cfg.Policy.LiquidationRatio,
		LiquidationDiscount: cfg.Policy.LiquidationDiscount,
		PriceMaxAge:         cfg.Policy.PriceMaxAge,
		TreasuryMinimum:     cfg.Policy.TreasuryMinimum,
		TreasurySurplus:     cfg.Policy.TreasurySurplus,
	})
	if evalErr != nil {
		log.Warn("some entities were skipped", zap.Error(evalErr))
	}

	report := map[string]any{
		"vaults":          len(snapshot.Vaults),
		"treasury":        snapshot.Treasury.Balance,
		"active_auctions": counts,
		"planned_actions": actions,
	}
	if *showSnapshot {
		store, err := sqlite.New(cfg.State.SQLitePath)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		last, ok, err := state.LoadCycleSnapshot(ctx, store)
		if err != nil {
			fatal(err)
		}
		if ok {
			report["last_cycle"] = last
		}
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
	os.Exit(1)
}
