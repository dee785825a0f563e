package exchange

import (
	"testing"
	"time"
)

func TestNewSignerRequiresCredentials(t *testing.T) {
	if _, err := NewSigner("", "secret", "pass"); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewSigner("key", "", "pass"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestSignDeterministic(t *testing.T) {
	signer, err := NewSigner("key", "secret", "pass")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	a := signer.Sign("2026-03-01T12:00:00.000Z", "POST", "/api/v5/trade/order", []byte(`{"instId":"XCH-USDT"}`))
	b := signer.Sign("2026-03-01T12:00:00.000Z", "POST", "/api/v5/trade/order", []byte(`{"instId":"XCH-USDT"}`))
	if a != b {
		t.Fatalf("same input produced different signatures: %s vs %s", a, b)
	}
	c := signer.Sign("2026-03-01T12:00:00.001Z", "POST", "/api/v5/trade/order", []byte(`{"instId":"XCH-USDT"}`))
	if a == c {
		t.Fatal("different timestamps must produce different signatures")
	}
	d := signer.Sign("2026-03-01T12:00:00.000Z", "GET", "/api/v5/trade/order", []byte(`{"instId":"XCH-USDT"}`))
	if a == d {
		t.Fatal("different methods must produce different signatures")
	}
}

func TestHeadersComplete(t *testing.T) {
	signer, err := NewSigner("key", "secret", "pass")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	headers := signer.Headers(now, "GET", "/api/v5/account/balance", nil)
	if headers["OK-ACCESS-KEY"] != "key" {
		t.Fatalf("key header = %q", headers["OK-ACCESS-KEY"])
	}
	if headers["OK-ACCESS-PASSPHRASE"] != "pass" {
		t.Fatalf("passphrase header = %q", headers["OK-ACCESS-PASSPHRASE"])
	}
	if headers["OK-ACCESS-TIMESTAMP"] != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("timestamp header = %q", headers["OK-ACCESS-TIMESTAMP"])
	}
	if headers["OK-ACCESS-SIGN"] == "" {
		t.Fatal("signature header missing")
	}
}
