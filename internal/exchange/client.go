package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Client talks to the venue's private trading API. Every request is
// signed; responses with a non-zero code are surfaced as *APIError.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	log     *zap.Logger
	now     func() time.Time
}

type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// ErrDuplicateOrder marks a rejected resubmission of a client order ID.
var ErrDuplicateOrder = errors.New("duplicate client order id")

func NewClient(baseURL string, timeout time.Duration, signer *Signer, log *zap.Logger) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		signer: signer,
		log:    log,
		now:    time.Now,
	}, nil
}

type apiResponse struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

type orderWire struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	Side    string `json:"side"`
	State   string `json:"state"`
	Sz      string `json:"sz"`
	AccFill string `json:"accFillSz"`
	AvgPx   string `json:"avgPx"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// PlaceOrder submits the order and returns the venue order ID. A
// duplicate client order ID comes back as ErrDuplicateOrder so callers
// can fall through to OrderStatus.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := map[string]string{
		"instId":  req.Instrument,
		"tdMode":  "cash",
		"side":    req.Side,
		"ordType": req.Type,
		"sz":      strconv.FormatFloat(req.Size, 'f', -1, 64),
		"clOrdId": req.ClientOrderID,
	}
	if req.Type == OrderTypeLimit {
		body["px"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	var resp apiResponse
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("empty order response for %s", req.ClientOrderID)
	}
	var wire orderWire
	if err := json.Unmarshal(resp.Data[0], &wire); err != nil {
		return "", err
	}
	if wire.SCode != "" && wire.SCode != "0" {
		if wire.SCode == "51015" {
			return "", fmt.Errorf("%w: %s", ErrDuplicateOrder, req.ClientOrderID)
		}
		return "", &APIError{Code: wire.SCode, Message: wire.SMsg}
	}
	return wire.OrdID, nil
}

// OrderStatus looks an order up by client order ID.
func (c *Client) OrderStatus(ctx context.Context, instrument, clientOrderID string) (Order, error) {
	q := url.Values{}
	q.Set("instId", instrument)
	q.Set("clOrdId", clientOrderID)
	var resp apiResponse
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order?"+q.Encode(), nil, &resp); err != nil {
		return Order{}, err
	}
	if len(resp.Data) == 0 {
		return Order{}, fmt.Errorf("order %s not found", clientOrderID)
	}
	var wire orderWire
	if err := json.Unmarshal(resp.Data[0], &wire); err != nil {
		return Order{}, err
	}
	return wire.toOrder()
}

func (w orderWire) toOrder() (Order, error) {
	order := Order{
		ID:            w.OrdID,
		ClientOrderID: w.ClOrdID,
		Instrument:    w.InstID,
		Side:          w.Side,
		State:         w.State,
	}
	var err error
	if w.Sz != "" {
		if order.Size, err = strconv.ParseFloat(w.Sz, 64); err != nil {
			return Order{}, fmt.Errorf("parse size %q: %w", w.Sz, err)
		}
	}
	if w.AccFill != "" {
		if order.FilledSize, err = strconv.ParseFloat(w.AccFill, 64); err != nil {
			return Order{}, fmt.Errorf("parse filled size %q: %w", w.AccFill, err)
		}
	}
	if w.AvgPx != "" {
		if order.AvgPrice, err = strconv.ParseFloat(w.AvgPx, 64); err != nil {
			return Order{}, fmt.Errorf("parse avg price %q: %w", w.AvgPx, err)
		}
	}
	return order, nil
}

type balanceWire struct {
	Details []struct {
		Ccy       string `json:"ccy"`
		AvailBal  string `json:"availBal"`
		FrozenBal string `json:"frozenBal"`
	} `json:"details"`
}

// Balances returns the spot account balances.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var resp apiResponse
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, &resp); err != nil {
		return nil, err
	}
	var out []Balance
	for _, raw := range resp.Data {
		var wire balanceWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}
		for _, d := range wire.Details {
			avail, err := strconv.ParseFloat(d.AvailBal, 64)
			if err != nil {
				return nil, fmt.Errorf("parse balance %q: %w", d.AvailBal, err)
			}
			frozen := 0.0
			if d.FrozenBal != "" {
				if frozen, err = strconv.ParseFloat(d.FrozenBal, 64); err != nil {
					return nil, fmt.Errorf("parse frozen balance %q: %w", d.FrozenBal, err)
				}
			}
			out = append(out, Balance{Currency: d.Ccy, Available: avail, Frozen: frozen})
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, requestPath string, body any, out *apiResponse) error {
	var payload []byte
	var err error
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.signer.Headers(c.now(), method, requestPath, payload) {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	if out.Code != "" && out.Code != "0" {
		return &APIError{Code: out.Code, Message: out.Msg}
	}
	return nil
}
