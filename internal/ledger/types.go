package ledger

import (
	"math"
	"time"
)

type AuctionKind string

const (
	AuctionLiquidation AuctionKind = "liquidation"
	AuctionRecharge    AuctionKind = "recharge"
	AuctionSurplus     AuctionKind = "surplus"
)

type AuctionStatus string

const (
	AuctionPending   AuctionStatus = "pending"
	AuctionActive    AuctionStatus = "active"
	AuctionSettled   AuctionStatus = "settled"
	AuctionCancelled AuctionStatus = "cancelled"
)

// VaultPosition is a fresh per-cycle snapshot of a collateral vault.
// Callers must not carry it, or any ratio derived from it, across cycles.
type VaultPosition struct {
	ID             string
	Owner          string
	Collateral     float64
	Debt           float64
	StateNonce     uint64
	AuctionSettled bool
}

// CollateralRatio returns collateral value over debt at the given price.
// A debt-free vault has an infinite ratio and can never be liquidated.
func (v VaultPosition) CollateralRatio(price float64) float64 {
	if v.Debt <= 0 {
		return math.Inf(1)
	}
	return v.Collateral * price / v.Debt
}

type OraclePrice struct {
	Asset     string
	Price     float64
	Timestamp time.Time
}

func (p OraclePrice) Stale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(p.Timestamp) > maxAge
}

// PriceCurve is the auction price schedule reported by the ledger. The
// current price is a step function of time elapsed since the ledger-reported
// auction start, not of local wall-clock alone.
type PriceCurve struct {
	StartPrice   float64
	StepInterval time.Duration
	StepRate     float64
	Descending   bool
}

// PriceAt returns the clearing price after the given elapsed time. The curve
// is monotonic in the auction's favor within the active window.
func (c PriceCurve) PriceAt(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	steps := 0
	if c.StepInterval > 0 {
		steps = int(elapsed / c.StepInterval)
	}
	factor := math.Pow(1-c.StepRate, float64(steps))
	if !c.Descending {
		factor = math.Pow(1+c.StepRate, float64(steps))
	}
	return c.StartPrice * factor
}

// StepIndex returns the zero-based curve step the elapsed time falls in.
func (c PriceCurve) StepIndex(elapsed time.Duration) int {
	if elapsed < 0 || c.StepInterval <= 0 {
		return 0
	}
	return int(elapsed / c.StepInterval)
}

type Auction struct {
	ID              string
	Kind            AuctionKind
	VaultID         string
	Status          AuctionStatus
	TargetAmount    float64
	RemainingAmount float64
	StartTime       time.Time
	Curve           PriceCurve
}

// TreasuryState is the aggregate protocol balance snapshot used by the
// recharge and surplus triggers.
type TreasuryState struct {
	Balance      float64
	StateNonce   uint64
	StandbyCoins []string
}

// RechargeCoin mirrors the ledger's recharge auction slots. Expired
// auctions are settlable by anyone; LastBidTarget identifies the winner.
type RechargeCoin struct {
	Name          string
	Status        string
	Expired       bool
	LastBidTarget string
}

type TxRef string

type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxRejected  TxState = "rejected"
)

type TxStatus struct {
	State  TxState
	Reason RejectReason
	Detail string
}

// ProtocolState is the full observable snapshot a keeper cycle works from.
type ProtocolState struct {
	Vaults   []VaultPosition
	Prices   map[string]OraclePrice
	Treasury TreasuryState
}
