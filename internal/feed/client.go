package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RESTClient fetches spot prices from a venue's public market-data API.
type RESTClient struct {
	name    string
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewRESTClient(name, baseURL string, timeout time.Duration, log *zap.Logger) *RESTClient {
	return &RESTClient{
		name:    name,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *RESTClient) Name() string { return c.name }

type tickerResponse struct {
	Code string `json:"code"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// SpotPrice returns the last traded price for the instrument.
func (c *RESTClient) SpotPrice(ctx context.Context, instrument string) (Quote, error) {
	q := url.Values{}
	q.Set("instId", instrument)
	endpoint := c.baseURL + "/api/v5/market/ticker?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Quote{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return Quote{}, err
	}
	if ticker.Code != "" && ticker.Code != "0" {
		return Quote{}, fmt.Errorf("ticker error code %s for %s", ticker.Code, instrument)
	}
	if len(ticker.Data) == 0 {
		return Quote{}, fmt.Errorf("no ticker data for %s", instrument)
	}
	last, err := strconv.ParseFloat(ticker.Data[0].Last, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse last price %q: %w", ticker.Data[0].Last, err)
	}
	quote := Quote{Source: c.name, Instrument: instrument, Price: last, At: time.Now().UTC()}
	if ms, err := strconv.ParseInt(ticker.Data[0].Ts, 10, 64); err == nil && ms > 0 {
		quote.At = time.UnixMilli(ms).UTC()
	}
	return quote, nil
}
