package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Quote is one source's observation of an instrument price.
type Quote struct {
	Source     string
	Instrument string
	Price      float64
	At         time.Time
}

// Source produces a spot quote for an instrument.
type Source interface {
	Name() string
	SpotPrice(ctx context.Context, instrument string) (Quote, error)
}

var ErrInsufficientFeeds = errors.New("insufficient valid price feeds")

// Aggregator queries every source and reduces the answers to one price.
// A quote counts as valid when it is positive, fresh, and within
// MaxDeviation of the cross-source median. Fewer than MinValidFeeds
// surviving quotes fails the read rather than degrading it.
type Aggregator struct {
	sources      []Source
	minValid     int
	maxDeviation float64
	maxAge       time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewAggregator(sources []Source, minValid int, maxDeviation float64, maxAge time.Duration, log *zap.Logger) *Aggregator {
	if minValid < 1 {
		minValid = 1
	}
	return &Aggregator{
		sources:      sources,
		minValid:     minValid,
		maxDeviation: maxDeviation,
		maxAge:       maxAge,
		log:          log,
		now:          time.Now,
	}
}

// Price fetches the instrument from all sources and returns the median of
// the valid quotes.
func (a *Aggregator) Price(ctx context.Context, instrument string) (float64, error) {
	quotes := make([]Quote, 0, len(a.sources))
	for _, src := range a.sources {
		quote, err := src.SpotPrice(ctx, instrument)
		if err != nil {
			a.log.Warn("price source failed",
				zap.String("source", src.Name()),
				zap.String("instrument", instrument),
				zap.Error(err))
			continue
		}
		quotes = append(quotes, quote)
	}
	return a.Reduce(instrument, quotes)
}

// Reduce applies the validity rules to already-collected quotes.
func (a *Aggregator) Reduce(instrument string, quotes []Quote) (float64, error) {
	now := a.now().UTC()
	fresh := quotes[:0:0]
	for _, q := range quotes {
		if q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
			continue
		}
		if a.maxAge > 0 && !q.At.IsZero() && now.Sub(q.At) > a.maxAge {
			a.log.Warn("discarding stale quote",
				zap.String("source", q.Source),
				zap.String("instrument", instrument),
				zap.Time("at", q.At))
			continue
		}
		fresh = append(fresh, q)
	}
	if len(fresh) < a.minValid {
		return 0, fmt.Errorf("%w: %d of %d required for %s",
			ErrInsufficientFeeds, len(fresh), a.minValid, instrument)
	}

	mid := median(fresh)
	kept := fresh[:0:0]
	for _, q := range fresh {
		if a.maxDeviation > 0 && math.Abs(q.Price-mid)/mid > a.maxDeviation {
			a.log.Warn("discarding outlier quote",
				zap.String("source", q.Source),
				zap.String("instrument", instrument),
				zap.Float64("price", q.Price),
				zap.Float64("median", mid))
			continue
		}
		kept = append(kept, q)
	}
	if len(kept) < a.minValid {
		return 0, fmt.Errorf("%w: %d of %d within deviation bound for %s",
			ErrInsufficientFeeds, len(kept), a.minValid, instrument)
	}
	return median(kept), nil
}

func median(quotes []Quote) float64 {
	prices := make([]float64, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	sort.Float64s(prices)
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}
