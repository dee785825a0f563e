package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RPCClient talks to the protocol RPC server. State queries return fresh
// snapshots; Broadcast hands over an opaque, already-built transaction
// payload. HTTP 5xx and transport failures surface as ErrTransient, 4xx
// responses as classified RejectErrors.
type RPCClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewRPCClient(baseURL string, timeout time.Duration, log *zap.Logger) *RPCClient {
	return &RPCClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type stateRequest struct {
	Vaults   bool `json:"vaults"`
	Treasury bool `json:"treasury"`
}

type vaultPayload struct {
	Name           string  `json:"name"`
	Owner          string  `json:"owner"`
	Collateral     float64 `json:"collateral"`
	Debt           float64 `json:"debt"`
	StateNonce     uint64  `json:"state_nonce"`
	AuctionSettled bool    `json:"auction_settled"`
}

type pricePayload struct {
	Asset     string  `json:"asset"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

type treasuryPayload struct {
	Balance      float64  `json:"balance"`
	StateNonce   uint64   `json:"state_nonce"`
	StandbyCoins []string `json:"standby_coins"`
}

type auctionPayload struct {
	Name            string  `json:"name"`
	Kind            string  `json:"kind"`
	Vault           string  `json:"vault"`
	Status          string  `json:"status"`
	TargetAmount    float64 `json:"target_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
	StartTime       int64   `json:"start_time"`
	StartPrice      float64 `json:"start_price"`
	StepSeconds     int64   `json:"step_seconds"`
	StepRate        float64 `json:"step_rate"`
	Descending      bool    `json:"descending"`
}

func (p auctionPayload) toAuction() Auction {
	return Auction{
		ID:              p.Name,
		Kind:            AuctionKind(p.Kind),
		VaultID:         p.Vault,
		Status:          AuctionStatus(p.Status),
		TargetAmount:    p.TargetAmount,
		RemainingAmount: p.RemainingAmount,
		StartTime:       time.Unix(p.StartTime, 0).UTC(),
		Curve: PriceCurve{
			StartPrice:   p.StartPrice,
			StepInterval: time.Duration(p.StepSeconds) * time.Second,
			StepRate:     p.StepRate,
			Descending:   p.Descending,
		},
	}
}

// State returns the full upkeep snapshot: vaults, oracle prices, treasury.
func (c *RPCClient) State(ctx context.Context) (ProtocolState, error) {
	var resp struct {
		Vaults   []vaultPayload  `json:"vaults"`
		Prices   []pricePayload  `json:"prices"`
		Treasury treasuryPayload `json:"treasury"`
	}
	if err := c.post(ctx, "/upkeep/state", stateRequest{Vaults: true, Treasury: true}, &resp); err != nil {
		return ProtocolState{}, err
	}
	state := ProtocolState{
		Prices: make(map[string]OraclePrice, len(resp.Prices)),
		Treasury: TreasuryState{
			Balance:      resp.Treasury.Balance,
			StateNonce:   resp.Treasury.StateNonce,
			StandbyCoins: resp.Treasury.StandbyCoins,
		},
	}
	for _, v := range resp.Vaults {
		state.Vaults = append(state.Vaults, VaultPosition{
			ID:             v.Name,
			Owner:          v.Owner,
			Collateral:     v.Collateral,
			Debt:           v.Debt,
			StateNonce:     v.StateNonce,
			AuctionSettled: v.AuctionSettled,
		})
	}
	for _, p := range resp.Prices {
		state.Prices[p.Asset] = OraclePrice{
			Asset:     p.Asset,
			Price:     p.Price,
			Timestamp: time.Unix(p.Timestamp, 0).UTC(),
		}
	}
	return state, nil
}

func (c *RPCClient) VaultState(ctx context.Context, id string) (VaultPosition, error) {
	var resp vaultPayload
	if err := c.post(ctx, "/upkeep/vaults/show", map[string]string{"name": id}, &resp); err != nil {
		return VaultPosition{}, err
	}
	return VaultPosition{
		ID:             resp.Name,
		Owner:          resp.Owner,
		Collateral:     resp.Collateral,
		Debt:           resp.Debt,
		StateNonce:     resp.StateNonce,
		AuctionSettled: resp.AuctionSettled,
	}, nil
}

func (c *RPCClient) AuctionState(ctx context.Context, id string) (Auction, error) {
	var resp auctionPayload
	if err := c.post(ctx, "/upkeep/auctions/show", map[string]string{"name": id}, &resp); err != nil {
		return Auction{}, err
	}
	return resp.toAuction(), nil
}

func (c *RPCClient) ListActiveAuctions(ctx context.Context, kind AuctionKind) ([]Auction, error) {
	var resp []auctionPayload
	if err := c.post(ctx, "/upkeep/auctions/list", map[string]string{"kind": string(kind), "status": string(AuctionActive)}, &resp); err != nil {
		return nil, err
	}
	auctions := make([]Auction, 0, len(resp))
	for _, p := range resp {
		auctions = append(auctions, p.toAuction())
	}
	return auctions, nil
}

func (c *RPCClient) OraclePrice(ctx context.Context, asset string) (OraclePrice, error) {
	var resp pricePayload
	if err := c.post(ctx, "/oracle/price", map[string]string{"asset": asset}, &resp); err != nil {
		return OraclePrice{}, err
	}
	return OraclePrice{
		Asset:     resp.Asset,
		Price:     resp.Price,
		Timestamp: time.Unix(resp.Timestamp, 0).UTC(),
	}, nil
}

func (c *RPCClient) ListRechargeCoins(ctx context.Context) ([]RechargeCoin, error) {
	var resp []struct {
		Name          string `json:"name"`
		Status        string `json:"status"`
		Expired       bool   `json:"is_expired"`
		LastBidTarget string `json:"last_bid_target"`
	}
	if err := c.post(ctx, "/upkeep/recharge/list", struct{}{}, &resp); err != nil {
		return nil, err
	}
	coins := make([]RechargeCoin, 0, len(resp))
	for _, p := range resp {
		coins = append(coins, RechargeCoin{
			Name:          p.Name,
			Status:        p.Status,
			Expired:       p.Expired,
			LastBidTarget: p.LastBidTarget,
		})
	}
	return coins, nil
}

func (c *RPCClient) WalletBalances(ctx context.Context) (map[string]float64, error) {
	var resp map[string]float64
	if err := c.post(ctx, "/wallet/balances", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RPCClient) Broadcast(ctx context.Context, payload []byte) (TxRef, error) {
	var resp struct {
		TxRef string `json:"tx_ref"`
	}
	if err := c.postRaw(ctx, "/tx/broadcast", payload, &resp); err != nil {
		return "", err
	}
	if resp.TxRef == "" {
		return "", fmt.Errorf("%w: broadcast response missing tx ref", ErrTransient)
	}
	return TxRef(resp.TxRef), nil
}

func (c *RPCClient) TxStatus(ctx context.Context, ref TxRef) (TxStatus, error) {
	var resp struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.post(ctx, "/tx/status", map[string]string{"tx_ref": string(ref)}, &resp); err != nil {
		return TxStatus{}, err
	}
	status := TxStatus{State: TxState(resp.Status)}
	if status.State == TxRejected {
		status.Reason = ClassifyReason(resp.Reason)
		status.Detail = resp.Reason
	}
	return status, nil
}

func (c *RPCClient) post(ctx context.Context, path string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.postRaw(ctx, path, payload, out)
}

func (c *RPCClient) postRaw(ctx context.Context, path string, payload []byte, out any) error {
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: http %d: %s", ErrTransient, resp.StatusCode, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &RejectError{Reason: ClassifyReason(string(body)), Detail: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
