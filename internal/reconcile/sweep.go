package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/events"
	"aster-hedge-bot/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultAttempts = 3
	defaultInterval = 1500 * time.Millisecond
	settleDelay     = 2 * time.Second
)

// Client is the slice of the signed API client the sweep needs.
type Client interface {
	CancelAllOrders(ctx context.Context, symbol string) error
	Position(ctx context.Context, symbol string) (*rest.Position, error)
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (*rest.OrderResult, error)
}

// Account is one tracked account to audit.
type Account struct {
	Name   string
	Client Client
}

// Result is one account's sweep outcome. Failures are surfaced, never
// silently dropped.
type Result struct {
	Account string
	Flat    bool
	Err     error
}

// Sweeper is the safety net independent of the decision loop: it flattens
// whatever positions remain after a crash, partial failure, or shutdown.
type Sweeper struct {
	symbol   string
	accounts []Account
	attempts int
	interval time.Duration
	bus      *events.Bus
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func New(symbol string, accounts []Account, bus *events.Bus, m *metrics.Metrics, log *zap.Logger) *Sweeper {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Sweeper{
		symbol:   symbol,
		accounts: accounts,
		attempts: defaultAttempts,
		interval: defaultInterval,
		bus:      bus,
		metrics:  m,
		log:      log,
	}
}

// Run audits every account and reports a per-account result list.
func (s *Sweeper) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(s.accounts))
	for _, account := range s.accounts {
		result := s.sweepAccount(ctx, account)
		if result.Err != nil {
			s.metrics.ReconcileFailed.Inc()
			s.log.Error("reconcile failed, manual intervention required",
				zap.String("account", account.Name), zap.Error(result.Err))
			s.bus.Publish(events.Event{
				Kind:    events.KindReconcileFailed,
				Account: account.Name,
				Symbol:  s.symbol,
				Message: result.Err.Error(),
			})
		} else {
			s.bus.Publish(events.Event{
				Kind:    events.KindReconcileOK,
				Account: account.Name,
				Symbol:  s.symbol,
				Message: "account reconciled flat",
			})
		}
		results = append(results, result)
	}
	return results
}

func (s *Sweeper) sweepAccount(ctx context.Context, account Account) Result {
	if err := account.Client.CancelAllOrders(ctx, s.symbol); err != nil {
		s.log.Warn("cancel open orders failed",
			zap.String("account", account.Name), zap.Error(err))
	}
	operation := func() (bool, error) {
		return s.flattenOnce(ctx, account)
	}
	flat, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.interval)),
		backoff.WithMaxTries(uint(s.attempts)))
	if err != nil {
		return Result{Account: account.Name, Err: fmt.Errorf("sweep %s: %w", account.Name, err)}
	}
	return Result{Account: account.Name, Flat: flat}
}

// flattenOnce is one audit pass: query, flatten if needed, re-verify with a
// fresh query. A still-open position is an error so the retry policy runs
// another pass.
func (s *Sweeper) flattenOnce(ctx context.Context, account Account) (bool, error) {
	pos, err := account.Client.Position(ctx, s.symbol)
	if err != nil {
		return false, err
	}
	if pos == nil {
		return false, errors.New("position state unknown")
	}
	if pos.Quantity == 0 {
		return true, nil
	}
	side := "SELL"
	if pos.Quantity < 0 {
		side = "BUY"
	}
	qty := pos.Quantity
	if qty < 0 {
		qty = -qty
	}
	s.log.Info("flattening residual position",
		zap.String("account", account.Name),
		zap.String("side", side),
		zap.Float64("quantity", qty))
	if _, err := account.Client.PlaceOrder(ctx, rest.OrderRequest{
		Symbol:       s.symbol,
		Side:         side,
		Type:         "MARKET",
		Quantity:     qty,
		PositionSide: "BOTH",
		ReduceOnly:   true,
	}); err != nil {
		return false, err
	}
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(settleDelay):
	}
	verify, err := account.Client.Position(ctx, s.symbol)
	if err != nil {
		return false, err
	}
	if verify == nil {
		return false, errors.New("post-flatten position state unknown")
	}
	if verify.Quantity != 0 {
		return false, fmt.Errorf("position still open after flatten: %f", verify.Quantity)
	}
	return true, nil
}
