package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

// Status reflects the health of the poll loop behind a snapshot.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusUpdating     Status = "updating"     // transient failures, holding last-known-good
	StatusReconnecting Status = "reconnecting" // persistent failures, position unknown
)

// Trusted reports whether snapshots under this status reflect an observed
// venue position. Initializing and reconnecting trackers do not know what
// the account holds.
func (s Status) Trusted() bool {
	return s == StatusRunning || s == StatusUpdating
}

const (
	pollInterval       = time.Second
	maxTransientErrors = 5
)

var errPositionUnknown = errors.New("position state unknown")

// Client is the slice of the signed API client the tracker needs.
type Client interface {
	Price(ctx context.Context, symbol string) float64
	AccountSnapshot(ctx context.Context) rest.AccountBalance
	Position(ctx context.Context, symbol string) (*rest.Position, error)
}

// Snapshot is one account's published state. Immutable once captured; each
// cycle replaces it wholesale.
type Snapshot struct {
	Side             strategy.Side
	Quantity         float64 // absolute
	EntryPrice       float64
	LiquidationPrice float64
	Margin           float64
	UnrealizedPnL    float64
	Balance          float64
	InitialBalance   float64
	Price            float64
	Status           Status
	CapturedAt       time.Time
}

// Leg converts the snapshot into decision inputs. A position behind an
// untrusted status is flagged unknown rather than passed off as flat.
func (s Snapshot) Leg() strategy.Leg {
	return strategy.Leg{
		Side:     s.Side,
		Quantity: s.Quantity,
		Unknown:  !s.Status.Trusted(),
	}
}

// Tracker polls one account on a fixed cadence and publishes the latest
// snapshot. The two account trackers run independently; a failure in one
// never stalls the other.
type Tracker struct {
	name     string
	symbol   string
	leverage float64
	client   Client
	log      *zap.Logger

	mu          sync.RWMutex
	snap        Snapshot
	errStreak   int
	lastPrice   float64
	lastBalance float64
}

func New(name, symbol string, leverage int, client Client, log *zap.Logger) *Tracker {
	return &Tracker{
		name:     name,
		symbol:   symbol,
		leverage: float64(leverage),
		client:   client,
		log:      log.With(zap.String("account", name)),
		snap:     Snapshot{Side: strategy.SideNone, Status: StatusInitializing},
	}
}

func (t *Tracker) Name() string { return t.name }

// Snapshot returns the latest published snapshot by value.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Run drives the poll loop until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if err := t.Cycle(ctx); err != nil && ctx.Err() == nil {
			t.log.Debug("tracker cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle performs one poll: price, balance, position, then a single atomic
// snapshot publish. Failures degrade per the consecutive-error policy.
func (t *Tracker) Cycle(ctx context.Context) error {
	price := t.client.Price(ctx, t.symbol)
	t.mu.Lock()
	if price <= 0 {
		price = t.lastPrice
	} else {
		t.lastPrice = price
	}
	t.mu.Unlock()

	balance := t.client.AccountSnapshot(ctx)
	bal := balance.Best()
	t.mu.Lock()
	if bal <= 0 {
		bal = t.lastBalance
	} else {
		t.lastBalance = bal
	}
	t.mu.Unlock()

	pos, err := t.client.Position(ctx, t.symbol)
	if err == nil && pos == nil {
		// Absence means unknown, never flat.
		err = errPositionUnknown
	}
	if err != nil {
		t.recordFailure(bal)
		return err
	}

	side := strategy.SideNone
	switch {
	case pos.Quantity > 0:
		side = strategy.SideLong
	case pos.Quantity < 0:
		side = strategy.SideShort
	}
	pnl := pos.UnrealizedPnL
	if pnl == 0 {
		pnl = balance.UnrealizedPnL
	}
	margin := 0.0
	if pos.Quantity != 0 {
		margin = pos.CalcMargin(t.leverage)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.errStreak = 0
	initial := t.snap.InitialBalance
	if initial == 0 && bal > 0 {
		initial = bal
	}
	t.snap = Snapshot{
		Side:             side,
		Quantity:         absFloat(pos.Quantity),
		EntryPrice:       pos.EntryPrice,
		LiquidationPrice: pos.LiquidationPrice,
		Margin:           margin,
		UnrealizedPnL:    pnl,
		Balance:          bal,
		InitialBalance:   initial,
		Price:            price,
		Status:           StatusRunning,
		CapturedAt:       time.Now(),
	}
	return nil
}

// recordFailure applies the degradation policy: below the threshold the
// previous snapshot is republished as-is, at or above it the position fields
// are zeroed so a stale position is not misrepresented as live.
func (t *Tracker) recordFailure(lastBalance float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errStreak++
	if t.errStreak < maxTransientErrors {
		t.snap.Status = StatusUpdating
		return
	}
	t.snap = Snapshot{
		Side:           strategy.SideNone,
		Balance:        lastBalance,
		InitialBalance: t.snap.InitialBalance,
		Price:          t.lastPrice,
		Status:         StatusReconnecting,
		CapturedAt:     time.Now(),
	}
}

// Project overwrites the published position in place after a confirmed fill,
// so the next decision cycle sees the new state before the poll catches up.
func (t *Tracker) Project(side strategy.Side, quantity, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Side = side
	t.snap.Quantity = quantity
	t.snap.EntryPrice = price
	t.snap.CapturedAt = time.Now()
}

// Flatten zeroes the published position projection after a confirmed close.
func (t *Tracker) Flatten() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Side = strategy.SideNone
	t.snap.Quantity = 0
	t.snap.EntryPrice = 0
	t.snap.Margin = 0
	t.snap.CapturedAt = time.Now()
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
