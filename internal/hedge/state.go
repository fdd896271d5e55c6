package hedge

import (
	"sync"
	"time"
)

// State is the process-wide hedge bookkeeping. It is mutated only by the
// Coordinator; everyone else reads snapshot copies through View.
type State struct {
	mu             sync.Mutex
	tradeCount     int
	totalVolume    float64 // cumulative notional, USDT
	fundingRate    float64
	openTime       time.Time // zero while flat
	lastTrade      time.Time
	initialBalance float64 // combined, captured at first non-zero reading
	lastPrice      float64
}

// StateView is a read-only copy for the decision engine and presentation.
type StateView struct {
	TradeCount     int
	TotalVolume    float64
	FundingRate    float64
	OpenTime       time.Time
	LastTrade      time.Time
	InitialBalance float64
	LastPrice      float64
}

func NewState() *State {
	return &State{}
}

func (s *State) View() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateView{
		TradeCount:     s.tradeCount,
		TotalVolume:    s.totalVolume,
		FundingRate:    s.fundingRate,
		OpenTime:       s.openTime,
		LastTrade:      s.lastTrade,
		InitialBalance: s.initialBalance,
		LastPrice:      s.lastPrice,
	}
}

func (s *State) TradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradeCount
}

func (s *State) OpenTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTime
}

func (s *State) SetFundingRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fundingRate = rate
}

// SetInitialBalance captures the combined starting balance once; later calls
// are ignored.
func (s *State) SetInitialBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialBalance == 0 && balance > 0 {
		s.initialBalance = balance
	}
}

// Restore seeds the bookkeeping from a persisted session so a restart keeps
// the trade counter and any held hedge.
func (s *State) Restore(view StateView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCount = view.TradeCount
	s.totalVolume = view.TotalVolume
	s.fundingRate = view.FundingRate
	s.openTime = view.OpenTime
	s.initialBalance = view.InitialBalance
}

func (s *State) recordOpen(quantity, price float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeCount++
	s.totalVolume += quantity * price * 2
	s.openTime = now
	s.lastTrade = now
	s.lastPrice = price
}

func (s *State) recordClose(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openTime = time.Time{}
	s.lastTrade = now
}
