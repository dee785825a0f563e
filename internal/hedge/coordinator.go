package hedge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"circuit-keeper/internal/exchange"
	"circuit-keeper/internal/state"
)

const (
	fillKeyPrefix = "hedge:fill:"
	fillIndexKey  = "hedge:fill_index"
)

// VenueClient is the slice of the trading venue the hedger needs.
type VenueClient interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
	OrderStatus(ctx context.Context, instrument, clientOrderID string) (exchange.Order, error)
	Balances(ctx context.Context) ([]exchange.Balance, error)
}

// fillRecord is the durable memory of one confirmed auction fill and the
// hedge order raised against it.
type fillRecord struct {
	BidID      string    `json:"bid_id"`
	Amount     float64   `json:"amount"`
	Price      float64   `json:"price"`
	OrderID    string    `json:"order_id,omitempty"`
	HedgedSize float64   `json:"hedged_size"`
	RecordedAt time.Time `json:"recorded_at"`

	// persisted is false while the record only exists in memory; the
	// store write is retried on Reconcile until it lands.
	persisted bool
}

func (r fillRecord) clientOrderID() string {
	id := strings.ReplaceAll(r.BidID, "-", "")
	if len(id) > 24 {
		id = id[:24]
	}
	return "hedge" + id
}

// Config bounds hedge order placement and the desync alarm.
type Config struct {
	Instrument  string
	LimitBuffer float64
	Tolerance   float64
}

// Coordinator mirrors confirmed auction fills onto the trading venue by
// selling the won collateral. Fill records survive restarts in the state
// store, keyed by bid ID, so a replayed confirmation never doubles the
// hedge. Placement failures are tolerated and retried on Reconcile: the
// hedge must never hold up bidding, only report how far it has drifted.
type Coordinator struct {
	venue VenueClient
	store state.Store
	cfg   Config
	log   *zap.Logger

	mu    sync.Mutex
	fills map[string]*fillRecord
}

func NewCoordinator(venue VenueClient, store state.Store, cfg Config, log *zap.Logger) (*Coordinator, error) {
	if venue == nil {
		return nil, errors.New("venue client is required")
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if cfg.Instrument == "" {
		return nil, errors.New("hedge instrument is required")
	}
	c := &Coordinator{
		venue: venue,
		store: store,
		cfg:   cfg,
		log:   log,
		fills: make(map[string]*fillRecord),
	}
	if err := c.load(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) load(ctx context.Context) error {
	raw, ok, err := c.store.Get(ctx, fillIndexKey)
	if err != nil {
		return err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return fmt.Errorf("corrupt hedge fill index: %w", err)
	}
	for _, id := range ids {
		body, ok, err := c.store.Get(ctx, fillKeyPrefix+id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var rec fillRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return fmt.Errorf("corrupt hedge fill %s: %w", id, err)
		}
		rec.persisted = true
		c.fills[id] = &rec
	}
	return nil
}

func (c *Coordinator) persist(ctx context.Context, rec *fillRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, fillKeyPrefix+rec.BidID, string(body)); err != nil {
		return err
	}
	ids := make([]string, 0, len(c.fills))
	for id := range c.fills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	index, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, fillIndexKey, string(index)); err != nil {
		return err
	}
	rec.persisted = true
	return nil
}

// OnFillConfirmed records a confirmed auction fill and raises the hedge
// order. Calling it again with the same bid ID is a no-op. A confirmed fill
// is never dropped: store and venue failures are logged and left for
// Reconcile, they do not propagate to the bidder.
func (c *Coordinator) OnFillConfirmed(ctx context.Context, bidID string, amount, price float64) error {
	if bidID == "" {
		return errors.New("bid id is required")
	}
	if amount <= 0 {
		return fmt.Errorf("non-positive fill amount %v for bid %s", amount, bidID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.fills[bidID]; ok {
		return nil
	}
	rec := &fillRecord{BidID: bidID, Amount: amount, Price: price, RecordedAt: time.Now().UTC()}
	c.fills[bidID] = rec
	if err := c.persist(ctx, rec); err != nil {
		c.log.Warn("hedge fill not persisted yet, will retry on reconcile",
			zap.String("bid", bidID),
			zap.Error(err))
	}

	if err := c.place(ctx, rec); err != nil {
		c.log.Warn("hedge order placement failed, will retry on reconcile",
			zap.String("bid", bidID),
			zap.Error(err))
	}
	return nil
}

func (c *Coordinator) place(ctx context.Context, rec *fillRecord) error {
	available, err := c.availableBalance(ctx)
	if err != nil {
		return err
	}
	if available < rec.Amount {
		// The won collateral has not landed at the venue yet.
		return fmt.Errorf("venue balance %v below fill size %v", available, rec.Amount)
	}
	limit := rec.Price * (1 - c.cfg.LimitBuffer)
	orderID, err := c.venue.PlaceOrder(ctx, exchange.OrderRequest{
		Instrument:    c.cfg.Instrument,
		Side:          exchange.SideSell,
		Type:          exchange.OrderTypeLimit,
		Size:          rec.Amount,
		Price:         limit,
		ClientOrderID: rec.clientOrderID(),
	})
	if errors.Is(err, exchange.ErrDuplicateOrder) {
		// A previous run placed it before crashing. Adopt it.
		order, statusErr := c.venue.OrderStatus(ctx, c.cfg.Instrument, rec.clientOrderID())
		if statusErr != nil {
			return statusErr
		}
		orderID = order.ID
	} else if err != nil {
		return err
	}
	rec.OrderID = orderID
	return c.persist(ctx, rec)
}

// availableBalance reports the venue's free balance of the instrument's
// base currency, the one the hedge sells.
func (c *Coordinator) availableBalance(ctx context.Context) (float64, error) {
	balances, err := c.venue.Balances(ctx)
	if err != nil {
		return 0, err
	}
	currency := c.cfg.Instrument
	if i := strings.Index(currency, "-"); i > 0 {
		currency = currency[:i]
	}
	for _, b := range balances {
		if b.Currency == currency {
			return b.Available, nil
		}
	}
	return 0, nil
}

// Reconcile retries unplaced hedges and refreshes fill sizes from the
// venue. It returns the current deviation report.
func (c *Coordinator) Reconcile(ctx context.Context) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, rec := range c.fills {
		if !rec.persisted {
			if err := c.persist(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("persist fill for bid %s: %w", rec.BidID, err))
			}
		}
		if rec.OrderID == "" {
			if err := c.place(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("place hedge for bid %s: %w", rec.BidID, err))
				continue
			}
		}
		order, err := c.venue.OrderStatus(ctx, c.cfg.Instrument, rec.clientOrderID())
		if err != nil {
			errs = append(errs, fmt.Errorf("hedge status for bid %s: %w", rec.BidID, err))
			continue
		}
		if order.FilledSize != rec.HedgedSize {
			rec.HedgedSize = order.FilledSize
			if err := c.persist(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return c.reportLocked(), errors.Join(errs...)
}

// Report is the hedge book's current shape. Desynced means the unhedged
// exposure exceeds the configured tolerance; the caller alerts on it, the
// coordinator itself takes no corrective action beyond its pending orders.
type Report struct {
	TargetExposure float64
	HedgedExposure float64
	Deviation      float64
	Desynced       bool
}

func (c *Coordinator) Status() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportLocked()
}

// PlacedOrders reports how many fills currently have a live venue order.
func (c *Coordinator) PlacedOrders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.fills {
		if rec.OrderID != "" {
			n++
		}
	}
	return n
}

func (c *Coordinator) reportLocked() Report {
	var target, hedged float64
	for _, rec := range c.fills {
		target += rec.Amount
		hedged += rec.HedgedSize
	}
	deviation := target - hedged
	return Report{
		TargetExposure: target,
		HedgedExposure: hedged,
		Deviation:      deviation,
		Desynced:       deviation > c.cfg.Tolerance,
	}
}
