package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderBook mirrors one venue market from its books channel. Snapshots
// replace the book, updates patch price levels, zero-size levels drop out.
type OrderBook struct {
	instrument string

	mu      sync.RWMutex
	asks    map[float64]float64
	bids    map[float64]float64
	updated time.Time
}

func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		asks:       make(map[float64]float64),
		bids:       make(map[float64]float64),
	}
}

func (b *OrderBook) Instrument() string { return b.instrument }

// Subscription returns the books channel subscribe message for this market.
func (b *OrderBook) Subscription() any {
	return map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "books", "instId": b.instrument},
		},
	}
}

type bookMessage struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Data   []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
	} `json:"data"`
}

// ApplyMessage folds one websocket message into the book. Non-book events
// (subscribe acks, pongs) are ignored.
func (b *OrderBook) ApplyMessage(raw json.RawMessage) error {
	var msg bookMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	if msg.Event != "" || len(msg.Data) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Action == "snapshot" {
		b.asks = make(map[float64]float64)
		b.bids = make(map[float64]float64)
	}
	for _, d := range msg.Data {
		if err := applyLevels(b.asks, d.Asks); err != nil {
			return err
		}
		if err := applyLevels(b.bids, d.Bids); err != nil {
			return err
		}
	}
	b.updated = time.Now().UTC()
	return nil
}

func applyLevels(side map[float64]float64, levels [][]string) error {
	for _, level := range levels {
		if len(level) < 2 {
			return fmt.Errorf("malformed book level %v", level)
		}
		price, err := strconv.ParseFloat(level[0], 64)
		if err != nil {
			return err
		}
		size, err := strconv.ParseFloat(level[1], 64)
		if err != nil {
			return err
		}
		if size > 0 {
			side[price] = size
		} else {
			delete(side, price)
		}
	}
	return nil
}

func (b *OrderBook) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func (b *OrderBook) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.asks) > 0 && len(b.bids) > 0
}

// SweepPrice walks the book and returns the volume-weighted price at which
// the given base amount could be bought or sold right now, together with
// the fillable size. If the book is shallower than the requested amount,
// the returned size is what the book can absorb.
func (b *OrderBook) SweepPrice(side Side, amount float64) (price, size float64) {
	if amount <= 0 {
		return 0, 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var levels map[float64]float64
	descending := false
	if side == SideSell {
		levels = b.bids
		descending = true
	} else {
		levels = b.asks
	}

	prices := make([]float64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sort.Float64s(prices)
	if descending {
		for i, j := 0, len(prices)-1; i < j; i, j = i+1, j-1 {
			prices[i], prices[j] = prices[j], prices[i]
		}
	}

	var notional float64
	for _, level := range prices {
		take := levels[level]
		if remaining := amount - size; take > remaining {
			take = remaining
		}
		size += take
		notional += take * level
		if size >= amount {
			break
		}
	}
	if size == 0 {
		return 0, 0
	}
	return notional / size, size
}

// SweepProceeds is SweepPrice expressed in quote currency: what selling (or
// the cost of buying) the amount would move on the other side of the book.
func (b *OrderBook) SweepProceeds(side Side, amount float64) (proceeds, size float64) {
	price, size := b.SweepPrice(side, amount)
	return price * size, size
}
