package events

import (
	"sync"
	"time"
)

// Kind classifies an engine event for downstream consumers.
type Kind string

const (
	KindStatus          Kind = "status"
	KindHedgeOpened     Kind = "hedge_opened"
	KindHedgeClosed     Kind = "hedge_closed"
	KindRepair          Kind = "repair"
	KindOrderFailed     Kind = "order_failed"
	KindReconcileOK     Kind = "reconcile_ok"
	KindReconcileFailed Kind = "reconcile_failed"
	KindWarning         Kind = "warning"
)

// Event is one well-typed entry in the engine's output stream. The engine
// only emits; rendering and storage belong to the consumers.
type Event struct {
	Time        time.Time
	Kind        Kind
	Account     string
	Symbol      string
	Message     string
	Side        string
	Quantity    float64
	Price       float64
	FundingRate float64
	PnL         float64
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind loses events rather than stalling the trading loop.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel receiving all future events. After
// Close it returns an already-closed channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish stamps and delivers the event to every subscriber. The sends stay
// under the lock so a concurrent Close cannot close a channel mid-delivery;
// the non-blocking send keeps the hold time bounded.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels. Publishes after Close are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
