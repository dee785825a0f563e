package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"circuit-keeper/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// BidRecord is one terminal bid outcome: confirmed, rejected, or abandoned
// after retry exhaustion.
type BidRecord struct {
	Time      time.Time
	BidID     string
	AuctionID string
	Epoch     uint64
	Amount    float64
	Price     float64
	Status    string
	TxRef     string
	Reason    string
}

// CycleRecord is a per-cycle snapshot of what the keeper observed.
type CycleRecord struct {
	Time           time.Time
	Kind           string
	OraclePrice    float64
	TreasuryBal    float64
	VaultsScanned  int
	ActiveAuctions int
	Actions        int
	HedgeTarget    float64
	HedgeFilled    float64
	CycleErr       string
}

// Writer records keeper activity into Postgres asynchronously. Inserts are
// best-effort: a full queue drops records rather than stalling a cycle.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	bids      chan BidRecord
	cycles    chan CycleRecord
	started   atomic.Bool
	dropBid   atomic.Uint64
	dropCycle atomic.Uint64
}

func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		bids:   make(chan BidRecord, queueSize),
		cycles: make(chan CycleRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueBid(record BidRecord) {
	if w == nil {
		return
	}
	select {
	case w.bids <- record:
		return
	default:
		if w.dropBid.Add(1) == 1 && w.log != nil {
			w.log.Warn("history bid queue full")
		}
	}
}

func (w *Writer) EnqueueCycle(record CycleRecord) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- record:
		return
	default:
		if w.dropCycle.Add(1) == 1 && w.log != nil {
			w.log.Warn("history cycle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-w.bids:
			w.writeBid(ctx, record)
		case record := <-w.cycles:
			w.writeCycle(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		bid_id TEXT NOT NULL,
		auction_id TEXT NOT NULL,
		epoch BIGINT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		tx_ref TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (ts, bid_id)
	)`, w.table("auction_bids"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		oracle_price DOUBLE PRECISION NOT NULL,
		treasury_balance DOUBLE PRECISION NOT NULL,
		vaults_scanned INTEGER NOT NULL,
		active_auctions INTEGER NOT NULL,
		actions INTEGER NOT NULL,
		hedge_target DOUBLE PRECISION NOT NULL,
		hedge_filled DOUBLE PRECISION NOT NULL,
		cycle_error TEXT NOT NULL DEFAULT ''
	)`, w.table("keeper_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("auction_bids"))); err != nil && w.log != nil {
		w.log.Warn("auction_bids hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("keeper_cycles"))); err != nil && w.log != nil {
		w.log.Warn("keeper_cycles hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeBid(ctx context.Context, record BidRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, bid_id, auction_id, epoch, amount, price, status, tx_ref, reason
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)
	ON CONFLICT (ts, bid_id) DO NOTHING`, w.table("auction_bids"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.BidID,
		record.AuctionID,
		int64(record.Epoch),
		record.Amount,
		record.Price,
		record.Status,
		record.TxRef,
		record.Reason,
	); err != nil && w.log != nil {
		w.log.Warn("history bid insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCycle(ctx context.Context, record CycleRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, kind, oracle_price, treasury_balance, vaults_scanned, active_auctions,
		actions, hedge_target, hedge_filled, cycle_error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("keeper_cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.Kind,
		record.OraclePrice,
		record.TreasuryBal,
		record.VaultsScanned,
		record.ActiveAuctions,
		record.Actions,
		record.HedgeTarget,
		record.HedgeFilled,
		record.CycleErr,
	); err != nil && w.log != nil {
		w.log.Warn("history cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
