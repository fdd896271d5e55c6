package hedge

import (
	"testing"
	"time"
)

func TestStateRecordOpenAndClose(t *testing.T) {
	s := NewState()
	now := time.Now()
	s.recordOpen(0.1, 3000, now)

	view := s.View()
	if view.TradeCount != 1 {
		t.Fatalf("expected trade count 1, got %d", view.TradeCount)
	}
	if view.TotalVolume != 600 {
		t.Fatalf("both legs count toward volume, expected 600, got %f", view.TotalVolume)
	}
	if !view.OpenTime.Equal(now) {
		t.Fatalf("expected open time %v, got %v", now, view.OpenTime)
	}

	s.recordClose(now.Add(time.Minute))
	if !s.OpenTime().IsZero() {
		t.Fatal("open time must clear on close")
	}
	if s.TradeCount() != 1 {
		t.Fatalf("close must not change trade count, got %d", s.TradeCount())
	}
}

func TestStateInitialBalanceCapturedOnce(t *testing.T) {
	s := NewState()
	s.SetInitialBalance(2000)
	s.SetInitialBalance(2500)
	if got := s.View().InitialBalance; got != 2000 {
		t.Fatalf("initial balance must not move, got %f", got)
	}
}

func TestStateRestore(t *testing.T) {
	s := NewState()
	opened := time.Now().Add(-30 * time.Second)
	s.Restore(StateView{
		TradeCount:     5,
		TotalVolume:    3000,
		FundingRate:    0.0001,
		OpenTime:       opened,
		InitialBalance: 2000,
	})
	if s.TradeCount() != 5 {
		t.Fatalf("expected restored trade count 5, got %d", s.TradeCount())
	}
	if !s.OpenTime().Equal(opened) {
		t.Fatalf("expected restored open time %v, got %v", opened, s.OpenTime())
	}
	if got := s.View().InitialBalance; got != 2000 {
		t.Fatalf("expected restored initial balance 2000, got %f", got)
	}
}
