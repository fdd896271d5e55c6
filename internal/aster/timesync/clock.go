package timesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	refreshInterval = 300 * time.Second
	maxSkewMillis   = 60_000
	fetchTimeout    = 2 * time.Second
)

// Clock tracks the offset between the venue's server clock and the local
// clock. Every signed request timestamp goes through NowMillis so that a
// drifting local clock does not push requests outside the recv window.
type Clock struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	mu       sync.Mutex
	offset   int64
	lastSync time.Time
	warned   bool
}

func New(baseURL string, log *zap.Logger) *Clock {
	return &Clock{
		baseURL: baseURL,
		http:    &http.Client{Timeout: fetchTimeout},
		log:     log,
	}
}

// NowMillis returns the best estimate of the venue's current time in
// milliseconds. The offset is refreshed on first use and every 300s;
// refresh failures fall back to the cached offset.
func (c *Clock) NowMillis(ctx context.Context) int64 {
	c.mu.Lock()
	stale := c.lastSync.IsZero() || time.Since(c.lastSync) > refreshInterval
	c.mu.Unlock()
	if stale {
		if err := c.Refresh(ctx); err != nil {
			c.warnOnce("server time refresh failed, using cached offset", err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().UnixMilli() + c.offset
}

// Refresh fetches the venue server time and recomputes the offset. A skew
// beyond 60s is treated as a bad reading: the offset resets to zero (local
// time) and a single warning is emitted for the session.
func (c *Clock) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/time", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server time: http %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	local := time.Now().UnixMilli()
	diff := payload.ServerTime - local

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync = time.Now()
	if diff > maxSkewMillis || diff < -maxSkewMillis {
		if !c.warned {
			c.log.Warn("server clock skew too large, using local time",
				zap.Int64("skew_ms", diff))
			c.warned = true
		}
		c.offset = 0
		return nil
	}
	c.offset = diff
	c.warned = false
	return nil
}

// Offset reports the current cached offset in milliseconds.
func (c *Clock) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Clock) warnOnce(msg string, err error) {
	c.mu.Lock()
	warned := c.warned
	c.warned = true
	c.mu.Unlock()
	if !warned {
		c.log.Warn(msg, zap.Error(err))
	}
}
