package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"circuit-keeper/internal/ledger"
	"circuit-keeper/internal/metrics"
	"circuit-keeper/internal/submit"
	"circuit-keeper/internal/trigger"
)

// Keeper is one maintenance bot. RunCycle observes fresh ledger state,
// decides, and acts; it must not carry decisions across invocations.
type Keeper interface {
	Name() string
	RunCycle(ctx context.Context) error
}

// ledgerAPI is the slice of the RPC client keepers read from.
type ledgerAPI interface {
	State(ctx context.Context) (ledger.ProtocolState, error)
	ListActiveAuctions(ctx context.Context, kind ledger.AuctionKind) ([]ledger.Auction, error)
	ListRechargeCoins(ctx context.Context) ([]ledger.RechargeCoin, error)
	OraclePrice(ctx context.Context, asset string) (ledger.OraclePrice, error)
	WalletBalances(ctx context.Context) (map[string]float64, error)
}

type submitAPI interface {
	Submit(ctx context.Context, intent submit.Intent) (submit.Outcome, error)
}

// actionRunner is the observe/decide/act plumbing every trigger-driven
// keeper shares.
type actionRunner struct {
	ledger    ledgerAPI
	submitter submitAPI
	builder   *payloadBuilder
	policy    trigger.Policy
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	// stats accumulates over one RunCycle and is read by the cycle
	// snapshot writer. Cycles are strictly sequential.
	stats cycleStats
}

type cycleStats struct {
	oraclePrice    float64
	treasuryBal    float64
	vaultsScanned  int
	activeAuctions int
	actions        int
}

func (r *actionRunner) observe(ctx context.Context, auctionKinds ...ledger.AuctionKind) (trigger.State, error) {
	snapshot, err := r.ledger.State(ctx)
	if err != nil {
		return trigger.State{}, err
	}
	counts := make(map[ledger.AuctionKind]int, len(auctionKinds))
	for _, kind := range auctionKinds {
		auctions, err := r.ledger.ListActiveAuctions(ctx, kind)
		if err != nil {
			return trigger.State{}, err
		}
		counts[kind] = len(auctions)
	}
	r.stats.oraclePrice = snapshot.Prices[r.policy.CollateralAsset].Price
	r.stats.treasuryBal = snapshot.Treasury.Balance
	r.stats.vaultsScanned = len(snapshot.Vaults)
	for _, n := range counts {
		r.stats.activeAuctions += n
	}
	return trigger.State{
		Vaults:         snapshot.Vaults,
		Prices:         snapshot.Prices,
		Treasury:       snapshot.Treasury,
		ActiveAuctions: counts,
		Now:            r.now().UTC(),
	}, nil
}

// act drives every action of the wanted kind through the submitter and
// reports how many confirmed. Rejections and retry exhaustion are logged
// and counted, not escalated: the next cycle re-derives the need from
// fresh state.
func (r *actionRunner) act(ctx context.Context, actions []trigger.Action, want trigger.Kind) (int, error) {
	confirmed := 0
	for _, action := range actions {
		if action.Kind != want {
			continue
		}
		payload, err := r.builder.BuildAction(ctx, action)
		if err != nil {
			return confirmed, err
		}
		kind, err := actionKind(action.Kind)
		if err != nil {
			return confirmed, err
		}
		intent := submit.Intent{
			Kind:    kind,
			Target:  action.Target,
			Epoch:   action.Epoch,
			Amount:  action.Amount,
			Payload: payload,
		}
		r.metrics.ActionsTriggered.Inc()
		r.metrics.TxBroadcast.Inc()
		r.log.Info("submitting action",
			zap.String("kind", string(kind)),
			zap.String("target", action.Target),
			zap.Uint64("epoch", action.Epoch))
		outcome, err := r.submitter.Submit(ctx, intent)
		if err != nil {
			return confirmed, err
		}
		r.stats.actions++
		switch outcome.Status {
		case submit.StatusConfirmed:
			confirmed++
			r.metrics.TxConfirmed.Inc()
			r.log.Info("action confirmed",
				zap.String("kind", string(kind)),
				zap.String("target", action.Target),
				zap.String("tx", string(outcome.TxRef)))
		case submit.StatusPermanent:
			r.metrics.TxRejected.Inc()
			r.log.Warn("action rejected",
				zap.String("kind", string(kind)),
				zap.String("target", action.Target),
				zap.Any("reason", outcome.Reason))
		default:
			r.log.Warn("action not confirmed, deferring to next cycle",
				zap.String("kind", string(kind)),
				zap.String("target", action.Target),
				zap.Error(outcome.Err))
		}
	}
	return confirmed, nil
}

// evaluate wraps trigger.Evaluate so per-entity invalid state is logged
// but does not abort the cycle.
func (r *actionRunner) evaluate(state trigger.State) []trigger.Action {
	actions, err := trigger.Evaluate(state, r.policy)
	if err != nil && errors.Is(err, trigger.ErrInvalidState) {
		r.log.Warn("skipping invalid entities", zap.Error(err))
	}
	return actions
}
