package ws

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHandleMarkPriceUpdate(t *testing.T) {
	feed := New("wss://example", "ETHUSDT", 0, zap.NewNop())
	feed.handle([]byte(`{"e":"markPriceUpdate","s":"ETHUSDT","p":"3000.50","r":"0.00012"}`))

	price, at := feed.MarkPrice()
	if price != 3000.50 {
		t.Fatalf("expected mark price 3000.50, got %f", price)
	}
	if at.IsZero() {
		t.Fatal("update time not stamped")
	}
	funding, _ := feed.FundingRate()
	if funding != 0.00012 {
		t.Fatalf("expected funding 0.00012, got %f", funding)
	}
	if !feed.Fresh(time.Second) {
		t.Fatal("feed should be fresh after an update")
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	feed := New("wss://example", "ETHUSDT", 0, zap.NewNop())
	feed.handle([]byte(`{"result":null,"id":1}`))
	feed.handle([]byte(`{"e":"aggTrade","p":"1"}`))
	feed.handle([]byte(`not json`))

	if feed.Fresh(time.Minute) {
		t.Fatal("non-price messages must not refresh the feed")
	}
	if price, _ := feed.MarkPrice(); price != 0 {
		t.Fatalf("expected no price, got %f", price)
	}
}

func TestHandleRejectsInvalidPrice(t *testing.T) {
	feed := New("wss://example", "ETHUSDT", 0, zap.NewNop())
	feed.handle([]byte(`{"e":"markPriceUpdate","p":"0","r":"0.0001"}`))
	if feed.Fresh(time.Minute) {
		t.Fatal("zero price must be dropped")
	}
}

func TestSymbolLowercasedForStream(t *testing.T) {
	feed := New("wss://example", "ETHUSDT", 0, zap.NewNop())
	if feed.symbol != "ethusdt" {
		t.Fatalf("expected lowercase stream symbol, got %s", feed.symbol)
	}
}
