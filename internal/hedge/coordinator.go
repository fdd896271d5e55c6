package hedge

import (
	"context"
	"fmt"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/events"
	"aster-hedge-bot/internal/history"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/strategy"
	"aster-hedge-bot/internal/tracker"

	"go.uber.org/zap"
)

// OrderClient is the slice of the signed API client the coordinator needs.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (*rest.OrderResult, error)
	CloseAll(ctx context.Context, symbol string) (*rest.OrderResult, error)
}

// Projector is the tracker surface the coordinator uses to read the latest
// snapshot and push fill projections ahead of the next poll.
type Projector interface {
	Name() string
	Snapshot() tracker.Snapshot
	Project(side strategy.Side, quantity, price float64)
	Flatten()
}

// Leg binds one account's client and tracker.
type Leg struct {
	Client  OrderClient
	Tracker Projector
}

type Config struct {
	Symbol       string
	OrderType    string
	PositionSide string
	TimeInForce  string
}

// Coordinator turns decisions into paired order submissions. Leg A always
// goes first so a single-leg failure is unambiguous about which side needs
// compensation. It performs no blind retries of its own: the decision loop
// re-evaluates next cycle while the invariant stays violated.
type Coordinator struct {
	cfg     Config
	legA    Leg
	legB    Leg
	state   *State
	machine *StateMachine
	bus     *events.Bus
	store   history.Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewCoordinator(cfg Config, legA, legB Leg, state *State, bus *events.Bus, store history.Store, m *metrics.Metrics, log *zap.Logger) *Coordinator {
	if cfg.OrderType == "" {
		cfg.OrderType = "MARKET"
	}
	if cfg.PositionSide == "" {
		cfg.PositionSide = "BOTH"
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Coordinator{
		cfg:     cfg,
		legA:    legA,
		legB:    legB,
		state:   state,
		machine: NewStateMachine(),
		bus:     bus,
		store:   store,
		metrics: m,
		log:     log,
	}
}

func (c *Coordinator) Phase() Phase {
	return c.machine.Current()
}

// Execute applies one decision. Hold is a no-op.
func (c *Coordinator) Execute(ctx context.Context, d strategy.Decision, price, fundingRate float64) error {
	c.state.SetFundingRate(fundingRate)
	switch d.Action {
	case strategy.ActionOpen:
		return c.open(ctx, d, price, fundingRate)
	case strategy.ActionClose:
		return c.close(ctx, price, fundingRate)
	case strategy.ActionRepair:
		return c.repair(ctx, d, price, fundingRate)
	default:
		return nil
	}
}

func (c *Coordinator) open(ctx context.Context, d strategy.Decision, price, fundingRate float64) error {
	c.machine.Apply(EventSubmit)
	defer c.machine.Apply(EventSettle)

	sideA, sideB := "BUY", "SELL"
	if d.ShortLeg == strategy.LegA {
		sideA, sideB = "SELL", "BUY"
	}

	if _, err := c.placeLeg(ctx, c.legA, sideA, d.Quantity, false); err != nil {
		c.machine.Apply(EventBothFailed)
		c.publishOrderFailed(c.legA.Tracker.Name(), sideA, d.Quantity, err)
		return fmt.Errorf("open leg A: %w", err)
	}

	if _, err := c.placeLeg(ctx, c.legB, sideB, d.Quantity, false); err != nil {
		c.machine.Apply(EventPartialFill)
		c.publishOrderFailed(c.legB.Tracker.Name(), sideB, d.Quantity, err)
		c.log.Warn("single-sided exposure: leg B failed after leg A filled, closing leg A",
			zap.String("account", c.legA.Tracker.Name()),
			zap.Float64("quantity", d.Quantity),
			zap.Error(err))
		c.bus.Publish(events.Event{
			Kind:     events.KindWarning,
			Account:  c.legA.Tracker.Name(),
			Symbol:   c.cfg.Symbol,
			Quantity: d.Quantity,
			Message:  "leg B rejected, compensating close submitted on leg A",
		})
		if _, closeErr := c.legA.Client.CloseAll(ctx, c.cfg.Symbol); closeErr != nil {
			// Compensation is best effort; the repair path catches what it misses.
			c.log.Error("compensating close failed, repair sweep will retry",
				zap.String("account", c.legA.Tracker.Name()), zap.Error(closeErr))
		} else {
			c.legA.Tracker.Flatten()
		}
		return fmt.Errorf("open leg B: %w", err)
	}
	c.machine.Apply(EventBothFilled)

	now := time.Now()
	c.state.recordOpen(d.Quantity, price, now)
	c.legA.Tracker.Project(orderSideToPosition(sideA), d.Quantity, price)
	c.legB.Tracker.Project(orderSideToPosition(sideB), d.Quantity, price)
	c.metrics.HedgesOpened.Inc()

	c.recordTrade(ctx, "open", c.legA.Tracker.Name(), sideA, d.Quantity, price, fundingRate, 0, now)
	c.recordTrade(ctx, "open", c.legB.Tracker.Name(), sideB, d.Quantity, price, fundingRate, 0, now)
	c.bus.Publish(events.Event{
		Kind:        events.KindHedgeOpened,
		Symbol:      c.cfg.Symbol,
		Quantity:    d.Quantity,
		Price:       price,
		FundingRate: fundingRate,
		Message:     fmt.Sprintf("hedge opened: %s %s / %s %s", c.legA.Tracker.Name(), sideA, c.legB.Tracker.Name(), sideB),
	})
	c.log.Info("hedge opened",
		zap.String("symbol", c.cfg.Symbol),
		zap.Float64("quantity", d.Quantity),
		zap.Float64("price", price),
		zap.Float64("funding_rate", fundingRate),
		zap.String(c.legA.Tracker.Name(), sideA),
		zap.String(c.legB.Tracker.Name(), sideB))
	return nil
}

// close flattens both legs using each leg's own last-known quantity, so any
// drift between the accounts is not amplified by a shared size.
func (c *Coordinator) close(ctx context.Context, price, fundingRate float64) error {
	c.machine.Apply(EventSubmit)
	defer c.machine.Apply(EventSettle)

	now := time.Now()
	okA := c.closeLeg(ctx, c.legA, price, fundingRate, now)
	okB := c.closeLeg(ctx, c.legB, price, fundingRate, now)

	if okA && okB {
		c.machine.Apply(EventBothFilled)
		c.state.recordClose(now)
		c.metrics.HedgesClosed.Inc()
		c.bus.Publish(events.Event{
			Kind:        events.KindHedgeClosed,
			Symbol:      c.cfg.Symbol,
			Price:       price,
			FundingRate: fundingRate,
			Message:     "hedge closed on both legs",
		})
		c.log.Info("hedge closed", zap.String("symbol", c.cfg.Symbol), zap.Float64("price", price))
		return nil
	}
	if okA || okB {
		c.machine.Apply(EventPartialFill)
	} else {
		c.machine.Apply(EventBothFailed)
	}
	// State stays as-is: the next decision cycle or the reconciliation sweep
	// retries the remaining leg.
	c.log.Warn("hedge close incomplete",
		zap.Bool("leg_a_closed", okA),
		zap.Bool("leg_b_closed", okB))
	return fmt.Errorf("hedge close incomplete: legA=%t legB=%t", okA, okB)
}

func (c *Coordinator) closeLeg(ctx context.Context, leg Leg, price, fundingRate float64, now time.Time) bool {
	snap := leg.Tracker.Snapshot()
	if snap.Side == strategy.SideNone || snap.Quantity <= 0 {
		return true
	}
	side := snap.Side.Opposite()
	if _, err := c.placeLeg(ctx, leg, side, snap.Quantity, true); err != nil {
		c.publishOrderFailed(leg.Tracker.Name(), side, snap.Quantity, err)
		return false
	}
	leg.Tracker.Flatten()
	c.recordTrade(ctx, "close", leg.Tracker.Name(), side, snap.Quantity, price, fundingRate, snap.UnrealizedPnL, now)
	return true
}

// repair flattens the one stranded leg; the other side is already flat and
// needs no compensating action.
func (c *Coordinator) repair(ctx context.Context, d strategy.Decision, price, fundingRate float64) error {
	c.machine.Apply(EventSubmit)
	defer c.machine.Apply(EventSettle)

	leg := c.legA
	if d.Repair == strategy.LegB {
		leg = c.legB
	}
	snap := leg.Tracker.Snapshot()
	if snap.Side == strategy.SideNone || snap.Quantity <= 0 {
		c.machine.Apply(EventBothFilled)
		return nil
	}
	side := snap.Side.Opposite()
	c.log.Warn("repairing single-sided exposure",
		zap.String("account", leg.Tracker.Name()),
		zap.String("held_side", string(snap.Side)),
		zap.Float64("quantity", snap.Quantity))
	if _, err := c.placeLeg(ctx, leg, side, snap.Quantity, true); err != nil {
		c.machine.Apply(EventBothFailed)
		c.publishOrderFailed(leg.Tracker.Name(), side, snap.Quantity, err)
		return fmt.Errorf("repair %s: %w", leg.Tracker.Name(), err)
	}
	c.machine.Apply(EventBothFilled)
	leg.Tracker.Flatten()
	c.state.recordClose(time.Now())
	c.metrics.Repairs.Inc()
	c.recordTrade(ctx, "repair", leg.Tracker.Name(), side, snap.Quantity, price, fundingRate, snap.UnrealizedPnL, time.Now())
	c.bus.Publish(events.Event{
		Kind:     events.KindRepair,
		Account:  leg.Tracker.Name(),
		Symbol:   c.cfg.Symbol,
		Side:     side,
		Quantity: snap.Quantity,
		Message:  "single-sided exposure repaired",
	})
	return nil
}

func (c *Coordinator) placeLeg(ctx context.Context, leg Leg, side string, quantity float64, reduceOnly bool) (*rest.OrderResult, error) {
	result, err := leg.Client.PlaceOrder(ctx, rest.OrderRequest{
		Symbol:       c.cfg.Symbol,
		Side:         side,
		Type:         c.cfg.OrderType,
		Quantity:     quantity,
		PositionSide: c.cfg.PositionSide,
		TimeInForce:  c.cfg.TimeInForce,
		ReduceOnly:   reduceOnly,
	})
	if err != nil {
		c.metrics.OrdersFailed.Inc()
		return nil, err
	}
	c.metrics.OrdersPlaced.Inc()
	return result, nil
}

func (c *Coordinator) publishOrderFailed(account, side string, quantity float64, err error) {
	c.bus.Publish(events.Event{
		Kind:     events.KindOrderFailed,
		Account:  account,
		Symbol:   c.cfg.Symbol,
		Side:     side,
		Quantity: quantity,
		Message:  err.Error(),
	})
}

func (c *Coordinator) recordTrade(ctx context.Context, action, account, side string, quantity, price, fundingRate, pnl float64, now time.Time) {
	if c.store == nil {
		return
	}
	trade := history.Trade{
		TradeID:     fmt.Sprintf("%s-%s-%s", action, account, now.UTC().Format("20060102T150405.000Z")),
		Symbol:      c.cfg.Symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		Time:        now,
		Account:     account,
		FundingRate: fundingRate,
		PnL:         pnl,
	}
	if err := c.store.RecordTrade(ctx, trade); err != nil {
		c.log.Warn("failed to record trade", zap.String("trade_id", trade.TradeID), zap.Error(err))
	}
}

func orderSideToPosition(side string) strategy.Side {
	if side == "BUY" {
		return strategy.SideLong
	}
	return strategy.SideShort
}
