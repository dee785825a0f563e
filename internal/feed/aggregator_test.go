package feed

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testAggregator(minValid int, maxDeviation float64, maxAge time.Duration) *Aggregator {
	agg := NewAggregator(nil, minValid, maxDeviation, maxAge, zap.NewNop())
	agg.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return agg
}

func quoteAt(source string, price float64, age time.Duration) Quote {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(-age)
	return Quote{Source: source, Instrument: "XCH-USDT", Price: price, At: at}
}

func TestReduceMedianOdd(t *testing.T) {
	agg := testAggregator(2, 0, 0)
	price, err := agg.Reduce("XCH-USDT", []Quote{
		quoteAt("a", 30.0, 0),
		quoteAt("b", 31.0, 0),
		quoteAt("c", 29.0, 0),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if price != 30.0 {
		t.Fatalf("price = %v, want 30", price)
	}
}

func TestReduceMedianEven(t *testing.T) {
	agg := testAggregator(2, 0, 0)
	price, err := agg.Reduce("XCH-USDT", []Quote{
		quoteAt("a", 30.0, 0),
		quoteAt("b", 32.0, 0),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if price != 31.0 {
		t.Fatalf("price = %v, want 31", price)
	}
}

func TestReduceDropsStaleQuotes(t *testing.T) {
	agg := testAggregator(2, 0, time.Minute)
	_, err := agg.Reduce("XCH-USDT", []Quote{
		quoteAt("a", 30.0, 0),
		quoteAt("b", 31.0, 2*time.Minute),
	})
	if !errors.Is(err, ErrInsufficientFeeds) {
		t.Fatalf("err = %v, want ErrInsufficientFeeds", err)
	}
}

func TestReduceDropsOutliers(t *testing.T) {
	agg := testAggregator(2, 0.05, 0)
	price, err := agg.Reduce("XCH-USDT", []Quote{
		quoteAt("a", 30.0, 0),
		quoteAt("b", 30.2, 0),
		quoteAt("c", 60.0, 0),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if price != 30.1 {
		t.Fatalf("price = %v, want 30.1 with outlier gone", price)
	}
}

func TestReduceRejectsNonPositive(t *testing.T) {
	agg := testAggregator(1, 0, 0)
	_, err := agg.Reduce("XCH-USDT", []Quote{
		quoteAt("a", 0, 0),
		quoteAt("b", -3, 0),
	})
	if !errors.Is(err, ErrInsufficientFeeds) {
		t.Fatalf("err = %v, want ErrInsufficientFeeds", err)
	}
}

func TestReduceInsufficientAfterDeviationFilter(t *testing.T) {
	agg := testAggregator(3, 0.01, 0)
	_, err := agg.Reduce("XCH-USDT", []Quote{
		quoteAt("a", 30.0, 0),
		quoteAt("b", 30.0, 0),
		quoteAt("c", 45.0, 0),
	})
	if !errors.Is(err, ErrInsufficientFeeds) {
		t.Fatalf("err = %v, want ErrInsufficientFeeds", err)
	}
}
