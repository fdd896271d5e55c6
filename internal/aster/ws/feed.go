package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const defaultReconnectDelay = 3 * time.Second

// Feed maintains a mark-price stream subscription for one symbol and
// exposes the latest mark price and funding rate with a capture timestamp.
// The REST poll path is the fallback when the feed is stale.
type Feed struct {
	url            string
	symbol         string
	reconnectDelay time.Duration
	log            *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	markPrice float64
	funding   float64
	updatedAt time.Time
}

func New(url, symbol string, reconnectDelay time.Duration, log *zap.Logger) *Feed {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &Feed{
		url:            url,
		symbol:         strings.ToLower(symbol),
		reconnectDelay: reconnectDelay,
		log:            log,
	}
}

// MarkPrice returns the last streamed mark price and its capture time.
func (f *Feed) MarkPrice() (float64, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.markPrice, f.updatedAt
}

// FundingRate returns the last streamed funding rate and its capture time.
func (f *Feed) FundingRate() (float64, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.funding, f.updatedAt
}

// Fresh reports whether the feed has produced an update within maxAge.
func (f *Feed) Fresh(maxAge time.Duration) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.updatedAt.IsZero() && time.Since(f.updatedAt) <= maxAge
}

// Run drives the connect/subscribe/read loop until ctx is done, reconnecting
// after read failures.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			f.log.Warn("mark price stream ended", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "reset")
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	sub := map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{f.symbol + "@markPrice@1s"},
		"id":     1,
	}
	if err := writeJSON(ctx, conn, sub); err != nil {
		return err
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

func (f *Feed) handle(data []byte) {
	var msg struct {
		Event       string `json:"e"`
		MarkPrice   string `json:"p"`
		FundingRate string `json:"r"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Event != "markPriceUpdate" {
		return
	}
	price, err := strconv.ParseFloat(msg.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	funding, err := strconv.ParseFloat(msg.FundingRate, 64)
	if err != nil {
		funding = 0
	}
	f.mu.Lock()
	f.markPrice = price
	f.funding = funding
	f.updatedAt = time.Now()
	f.mu.Unlock()
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	if conn == nil {
		return errors.New("ws not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
