package feed

import (
	"encoding/json"
	"math"
	"testing"
)

func applyJSON(t *testing.T, book *OrderBook, raw string) {
	t.Helper()
	if err := book.ApplyMessage(json.RawMessage(raw)); err != nil {
		t.Fatalf("apply message: %v", err)
	}
}

func snapshotMessage() string {
	return `{"arg":{"channel":"books","instId":"XCH-USDT"},"action":"snapshot","data":[{
		"asks":[["30.5","10"],["31.0","20"],["32.0","100"]],
		"bids":[["30.0","5"],["29.5","40"],["29.0","100"]]
	}]}`
}

func TestOrderBookSnapshotAndReady(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	if book.Ready() {
		t.Fatal("empty book should not be ready")
	}
	applyJSON(t, book, snapshotMessage())
	if !book.Ready() {
		t.Fatal("book with both sides should be ready")
	}
	if book.UpdatedAt().IsZero() {
		t.Fatal("updated timestamp not set")
	}
}

func TestOrderBookIgnoresEvents(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, `{"event":"subscribe","arg":{"channel":"books"}}`)
	if book.Ready() {
		t.Fatal("subscribe ack must not touch the book")
	}
}

func TestSweepPriceSellWalksBidsBestFirst(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, snapshotMessage())

	// 20 sold: 5 at 30.0 then 15 at 29.5.
	price, size := book.SweepPrice(SideSell, 20)
	if size != 20 {
		t.Fatalf("size = %v, want 20", size)
	}
	want := (5*30.0 + 15*29.5) / 20
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("price = %v, want %v", price, want)
	}
}

func TestSweepPriceBuyWalksAsksBestFirst(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, snapshotMessage())

	price, size := book.SweepPrice(SideBuy, 15)
	if size != 15 {
		t.Fatalf("size = %v, want 15", size)
	}
	want := (10*30.5 + 5*31.0) / 15
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("price = %v, want %v", price, want)
	}
}

func TestSweepPricePartialFillOnThinBook(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, snapshotMessage())

	_, size := book.SweepPrice(SideSell, 1000)
	if size != 145 {
		t.Fatalf("size = %v, want full bid depth 145", size)
	}
}

func TestOrderBookUpdateDeletesZeroLevels(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, snapshotMessage())
	applyJSON(t, book, `{"arg":{"channel":"books"},"action":"update","data":[{
		"asks":[],
		"bids":[["30.0","0"],["29.5","10"]]
	}]}`)

	price, size := book.SweepPrice(SideSell, 10)
	if size != 10 {
		t.Fatalf("size = %v, want 10", size)
	}
	if price != 29.5 {
		t.Fatalf("price = %v, want 29.5 after top bid removal", price)
	}
}

func TestSweepProceeds(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, snapshotMessage())

	proceeds, size := book.SweepProceeds(SideSell, 5)
	if size != 5 || math.Abs(proceeds-150.0) > 1e-9 {
		t.Fatalf("proceeds = %v size = %v, want 150 and 5", proceeds, size)
	}
}

func TestSweepPriceZeroAmount(t *testing.T) {
	book := NewOrderBook("XCH-USDT")
	applyJSON(t, book, snapshotMessage())
	if price, size := book.SweepPrice(SideSell, 0); price != 0 || size != 0 {
		t.Fatalf("zero amount should return zeros, got %v %v", price, size)
	}
}
