package hedge

import (
	"context"
	"errors"
	"testing"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/events"
	"aster-hedge-bot/internal/strategy"
	"aster-hedge-bot/internal/tracker"

	"go.uber.org/zap"
)

type fakeOrderClient struct {
	placed      []rest.OrderRequest
	placeErr    error
	closeCalls  int
	closeAllErr error
}

func newFakeOrderClient() *fakeOrderClient {
	return &fakeOrderClient{}
}

func (f *fakeOrderClient) PlaceOrder(_ context.Context, req rest.OrderRequest) (*rest.OrderResult, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &rest.OrderResult{OrderID: int64(len(f.placed)), Status: "FILLED"}, nil
}

func (f *fakeOrderClient) CloseAll(_ context.Context, _ string) (*rest.OrderResult, error) {
	f.closeCalls++
	if f.closeAllErr != nil {
		return nil, f.closeAllErr
	}
	return &rest.OrderResult{Status: "FILLED"}, nil
}

type fakeTracker struct {
	name      string
	snap      tracker.Snapshot
	projected []strategy.Side
	flattened int
}

func (f *fakeTracker) Name() string               { return f.name }
func (f *fakeTracker) Snapshot() tracker.Snapshot { return f.snap }

func (f *fakeTracker) Project(side strategy.Side, quantity, price float64) {
	f.projected = append(f.projected, side)
	f.snap.Side = side
	f.snap.Quantity = quantity
	f.snap.EntryPrice = price
}

func (f *fakeTracker) Flatten() {
	f.flattened++
	f.snap.Side = strategy.SideNone
	f.snap.Quantity = 0
}

func newTestCoordinator(clientA, clientB *fakeOrderClient, trackerA, trackerB *fakeTracker) (*Coordinator, *State) {
	state := NewState()
	coord := NewCoordinator(
		Config{Symbol: "ETHUSDT"},
		Leg{Client: clientA, Tracker: trackerA},
		Leg{Client: clientB, Tracker: trackerB},
		state, events.NewBus(), nil, nil, zap.NewNop(),
	)
	return coord, state
}

func TestCoordinatorOpenPlacesOppositeSides(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	trackerA := &fakeTracker{name: "account-a"}
	trackerB := &fakeTracker{name: "account-b"}
	coord, state := newTestCoordinator(clientA, clientB, trackerA, trackerB)

	err := coord.Execute(context.Background(), strategy.Decision{
		Action:   strategy.ActionOpen,
		ShortLeg: strategy.LegA,
		Quantity: 0.1,
	}, 3000, 0.0001)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if len(clientA.placed) != 1 || clientA.placed[0].Side != "SELL" {
		t.Fatalf("expected one SELL on leg A, got %+v", clientA.placed)
	}
	if len(clientB.placed) != 1 || clientB.placed[0].Side != "BUY" {
		t.Fatalf("expected one BUY on leg B, got %+v", clientB.placed)
	}
	if clientA.placed[0].ReduceOnly || clientB.placed[0].ReduceOnly {
		t.Fatal("opening orders must not be reduce-only")
	}
	if trackerA.snap.Side != strategy.SideShort || trackerB.snap.Side != strategy.SideLong {
		t.Fatalf("expected projected short/long, got %s/%s", trackerA.snap.Side, trackerB.snap.Side)
	}
	if state.TradeCount() != 1 {
		t.Fatalf("expected trade count 1, got %d", state.TradeCount())
	}
	if state.OpenTime().IsZero() {
		t.Fatal("open time not recorded")
	}
	if coord.Phase() != PhaseIdle {
		t.Fatalf("expected IDLE after settle, got %s", coord.Phase())
	}
}

func TestCoordinatorOpenCompensatesWhenLegBFails(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	clientB.placeErr = errors.New("margin is insufficient")
	trackerA := &fakeTracker{name: "account-a"}
	trackerB := &fakeTracker{name: "account-b"}
	coord, state := newTestCoordinator(clientA, clientB, trackerA, trackerB)

	err := coord.Execute(context.Background(), strategy.Decision{
		Action:   strategy.ActionOpen,
		ShortLeg: strategy.LegA,
		Quantity: 0.1,
	}, 3000, 0.0001)
	if err == nil {
		t.Fatal("expected error when leg B fails")
	}
	if clientA.closeCalls != 1 {
		t.Fatalf("expected one compensating close on leg A, got %d", clientA.closeCalls)
	}
	if trackerA.flattened != 1 {
		t.Fatalf("expected leg A projection flattened, got %d", trackerA.flattened)
	}
	if state.TradeCount() != 0 {
		t.Fatalf("failed open must not count as a trade, got %d", state.TradeCount())
	}
	if !state.OpenTime().IsZero() {
		t.Fatal("open time must stay zero after failed open")
	}
}

func TestCoordinatorOpenLegAFailureStopsBeforeLegB(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	clientA.placeErr = errors.New("venue rejected")
	trackerA := &fakeTracker{name: "account-a"}
	trackerB := &fakeTracker{name: "account-b"}
	coord, _ := newTestCoordinator(clientA, clientB, trackerA, trackerB)

	err := coord.Execute(context.Background(), strategy.Decision{
		Action:   strategy.ActionOpen,
		ShortLeg: strategy.LegB,
		Quantity: 0.1,
	}, 3000, -0.0001)
	if err == nil {
		t.Fatal("expected error when leg A fails")
	}
	if len(clientB.placed) != 0 {
		t.Fatalf("leg B must not be submitted after leg A failure, got %+v", clientB.placed)
	}
	if clientA.closeCalls != 0 || clientB.closeCalls != 0 {
		t.Fatal("no compensation needed when nothing filled")
	}
}

func TestCoordinatorCloseUsesPerLegQuantities(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	trackerA := &fakeTracker{name: "account-a", snap: tracker.Snapshot{Side: strategy.SideShort, Quantity: 0.1}}
	trackerB := &fakeTracker{name: "account-b", snap: tracker.Snapshot{Side: strategy.SideLong, Quantity: 0.12}}
	coord, state := newTestCoordinator(clientA, clientB, trackerA, trackerB)
	state.recordOpen(0.1, 3000, time.Now().Add(-time.Minute))

	err := coord.Execute(context.Background(), strategy.Decision{Action: strategy.ActionClose}, 3010, 0.0001)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if clientA.placed[0].Side != "BUY" || clientA.placed[0].Quantity != 0.1 {
		t.Fatalf("expected reduce BUY 0.1 on leg A, got %+v", clientA.placed[0])
	}
	if clientB.placed[0].Side != "SELL" || clientB.placed[0].Quantity != 0.12 {
		t.Fatalf("expected reduce SELL 0.12 on leg B, got %+v", clientB.placed[0])
	}
	if !clientA.placed[0].ReduceOnly || !clientB.placed[0].ReduceOnly {
		t.Fatal("closing orders must be reduce-only")
	}
	if !state.OpenTime().IsZero() {
		t.Fatal("open time must clear after close")
	}
}

func TestCoordinatorClosePartialKeepsState(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	clientB.placeErr = errors.New("timeout")
	trackerA := &fakeTracker{name: "account-a", snap: tracker.Snapshot{Side: strategy.SideShort, Quantity: 0.1}}
	trackerB := &fakeTracker{name: "account-b", snap: tracker.Snapshot{Side: strategy.SideLong, Quantity: 0.1}}
	coord, state := newTestCoordinator(clientA, clientB, trackerA, trackerB)
	opened := time.Now().Add(-time.Minute)
	state.recordOpen(0.1, 3000, opened)

	err := coord.Execute(context.Background(), strategy.Decision{Action: strategy.ActionClose}, 3010, 0.0001)
	if err == nil {
		t.Fatal("expected error for partial close")
	}
	if trackerA.flattened != 1 {
		t.Fatalf("leg A closed, projection should flatten, got %d", trackerA.flattened)
	}
	if trackerB.flattened != 0 {
		t.Fatal("leg B still open, projection must not flatten")
	}
	if state.OpenTime().IsZero() {
		t.Fatal("open time must survive a partial close for the next cycle")
	}
}

func TestCoordinatorRepairFlattensStrandedLeg(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	trackerA := &fakeTracker{name: "account-a"}
	trackerB := &fakeTracker{name: "account-b", snap: tracker.Snapshot{Side: strategy.SideLong, Quantity: 0.05}}
	coord, _ := newTestCoordinator(clientA, clientB, trackerA, trackerB)

	err := coord.Execute(context.Background(), strategy.Decision{
		Action:   strategy.ActionRepair,
		Repair:   strategy.LegB,
		Quantity: 0.05,
	}, 3000, 0.0001)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if len(clientA.placed) != 0 {
		t.Fatal("flat leg must not receive orders during repair")
	}
	if len(clientB.placed) != 1 || clientB.placed[0].Side != "SELL" || !clientB.placed[0].ReduceOnly {
		t.Fatalf("expected reduce-only SELL on stranded leg, got %+v", clientB.placed)
	}
	if trackerB.flattened != 1 {
		t.Fatal("stranded leg projection should flatten after repair")
	}
}

func TestCoordinatorHoldIsNoOp(t *testing.T) {
	clientA, clientB := newFakeOrderClient(), newFakeOrderClient()
	trackerA := &fakeTracker{name: "account-a"}
	trackerB := &fakeTracker{name: "account-b"}
	coord, state := newTestCoordinator(clientA, clientB, trackerA, trackerB)

	if err := coord.Execute(context.Background(), strategy.Decision{Action: strategy.ActionHold}, 3000, 0.0003); err != nil {
		t.Fatalf("hold returned error: %v", err)
	}
	if len(clientA.placed)+len(clientB.placed) != 0 {
		t.Fatal("hold must not place orders")
	}
	if state.View().FundingRate != 0.0003 {
		t.Fatalf("funding rate not recorded, got %f", state.View().FundingRate)
	}
}
