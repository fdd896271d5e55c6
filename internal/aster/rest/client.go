package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"aster-hedge-bot/internal/aster/timesync"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrInvalidQuantity = errors.New("order quantity must be positive")

const (
	closeAllAttempts = 3
	closeAllBackoff  = time.Second
)

// Client is one account's signed view of the venue REST API. Each account
// owns its own client, clock offset, and cached position-mode flag.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	http       *http.Client
	limiter    *rate.Limiter
	clock      *timesync.Clock
	log        *zap.Logger
}

type Options struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	RecvWindow int64
	RateLimit  float64
	RateBurst  int
}

func New(opts Options, clock *timesync.Clock, log *zap.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RecvWindow == 0 {
		opts.RecvWindow = 5000
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 25
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		apiSecret:  strings.TrimSpace(opts.APISecret),
		recvWindow: opts.RecvWindow,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		clock:      clock,
		log:        log,
	}
}

// Price returns the last ticker price, or 0 on any failure. Callers fall
// back to their last known price.
func (c *Client) Price(ctx context.Context, symbol string) float64 {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.public(ctx, http.MethodGet, "/fapi/v1/ticker/price", params)
	if err != nil {
		c.log.Debug("price fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return 0
	}
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.log.Debug("price decode failed", zap.Error(err))
		return 0
	}
	return parseFloat(payload.Price)
}

// FundingRate returns the latest funding rate from the premium index, or 0
// on any failure.
func (c *Client) FundingRate(ctx context.Context, symbol string) float64 {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.public(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params)
	if err != nil {
		c.log.Debug("funding rate fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return 0
	}
	var payload struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.log.Debug("funding rate decode failed", zap.Error(err))
		return 0
	}
	return parseFloat(payload.LastFundingRate)
}

// AccountSnapshot assembles a USDT balance from the richest endpoint that
// answers: v4 account, then v2 balance, then v1 account. All three failing
// yields a zero-valued balance, never an error.
func (c *Client) AccountSnapshot(ctx context.Context) AccountBalance {
	if bal, ok := c.balanceFromV4Account(ctx); ok {
		return bal
	}
	if bal, ok := c.balanceFromV2Balance(ctx); ok {
		return bal
	}
	if bal, ok := c.balanceFromV1Account(ctx); ok {
		return bal
	}
	c.log.Warn("all balance endpoints failed, reporting zero balance")
	return AccountBalance{}
}

func (c *Client) balanceFromV4Account(ctx context.Context) (AccountBalance, bool) {
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v4/account", url.Values{})
	if err != nil {
		return AccountBalance{}, false
	}
	var payload struct {
		Assets []struct {
			Asset              string `json:"asset"`
			WalletBalance      string `json:"walletBalance"`
			MarginBalance      string `json:"marginBalance"`
			CrossWalletBalance string `json:"crossWalletBalance"`
			AvailableBalance   string `json:"availableBalance"`
			UnrealizedProfit   string `json:"unrealizedProfit"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Assets) == 0 {
		return AccountBalance{}, false
	}
	for _, asset := range payload.Assets {
		if asset.Asset != "USDT" {
			continue
		}
		wallet := parseFloat(asset.WalletBalance)
		if wallet == 0 {
			wallet = parseFloat(asset.CrossWalletBalance)
		}
		return AccountBalance{
			Wallet:        wallet,
			Margin:        parseFloat(asset.MarginBalance),
			Available:     parseFloat(asset.AvailableBalance),
			UnrealizedPnL: parseFloat(asset.UnrealizedProfit),
		}, true
	}
	return AccountBalance{}, false
}

func (c *Client) balanceFromV2Balance(ctx context.Context) (AccountBalance, bool) {
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return AccountBalance{}, false
	}
	var assets []struct {
		Asset              string `json:"asset"`
		Balance            string `json:"balance"`
		CrossWalletBalance string `json:"crossWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
		CrossUnPnl         string `json:"crossUnPnl"`
	}
	if err := json.Unmarshal(body, &assets); err != nil {
		return AccountBalance{}, false
	}
	for _, asset := range assets {
		if asset.Asset != "USDT" {
			continue
		}
		wallet := parseFloat(asset.Balance)
		cross := parseFloat(asset.CrossWalletBalance)
		if wallet == 0 && cross > 0 {
			wallet = cross
		}
		margin := cross
		if margin == 0 {
			margin = wallet
		}
		return AccountBalance{
			Wallet:        wallet,
			Margin:        margin,
			Available:     parseFloat(asset.AvailableBalance),
			UnrealizedPnL: parseFloat(asset.CrossUnPnl),
		}, true
	}
	return AccountBalance{}, false
}

func (c *Client) balanceFromV1Account(ctx context.Context) (AccountBalance, bool) {
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v1/account", url.Values{})
	if err != nil {
		return AccountBalance{}, false
	}
	var payload struct {
		TotalWalletBalance      string `json:"totalWalletBalance"`
		TotalCrossWalletBalance string `json:"totalCrossWalletBalance"`
		TotalUnrealizedProfit   string `json:"totalUnrealizedProfit"`
		AvailableBalance        string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return AccountBalance{}, false
	}
	wallet := parseFloat(payload.TotalWalletBalance)
	if wallet == 0 {
		wallet = parseFloat(payload.TotalCrossWalletBalance)
	}
	if wallet == 0 {
		return AccountBalance{}, false
	}
	return AccountBalance{
		Wallet:        wallet,
		Margin:        wallet,
		Available:     parseFloat(payload.AvailableBalance),
		UnrealizedPnL: parseFloat(payload.TotalUnrealizedProfit),
	}, true
}

// Position returns the positionRisk entry for the symbol. A venue rejection
// is logged and reported as absence: callers must treat a nil position as
// unknown, not as flat.
func (c *Client) Position(ctx context.Context, symbol string) (*Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.log.Warn("position query rejected", zap.String("symbol", symbol), zap.String("reason", apiErr.Translate()))
			return nil, nil
		}
		return nil, err
	}
	var wire []positionRiskWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode positionRisk: %w", err)
	}
	if len(wire) == 0 {
		return nil, nil
	}
	pos := wire[0].normalize()
	return &pos, nil
}

// PlaceOrder submits one order. Quantity is validated locally before any
// network call. Venue rejections come back as *APIError; the client never
// retries on its own.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidQuantity, req.Quantity)
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.PositionSide != "" {
		params.Set("positionSide", req.PositionSide)
	}
	if req.Type == "LIMIT" && req.TimeInForce != "" {
		params.Set("timeInForce", req.TimeInForce)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	body, err := c.signed(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.log.Warn("order rejected",
				zap.String("symbol", req.Symbol),
				zap.String("side", req.Side),
				zap.Float64("quantity", req.Quantity),
				zap.String("reason", apiErr.Translate()))
		}
		return nil, err
	}
	var result OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode order result: %w", err)
	}
	return &result, nil
}

// CancelAllOrders cancels every open order on the symbol. Idempotent on the
// venue side.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.signed(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// OpenOrders lists the current open orders, optionally filtered by symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []OrderResult
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// SetLeverage adjusts the symbol leverage. Callers treat failure as a
// degraded-but-operating condition, not a startup abort.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType sets ISOLATED or CROSSED margin. The venue answers -4046
// when the mode is already set, which is success here.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", marginType)
	_, err := c.signed(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	if IsCode(err, -4046) {
		return nil
	}
	return err
}

// PositionMode reports whether the account is in dual-side (hedge) mode.
func (c *Client) PositionMode(ctx context.Context) (bool, error) {
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v1/positionSide/dual", url.Values{})
	if err != nil {
		return false, err
	}
	var payload struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, err
	}
	return payload.DualSidePosition, nil
}

// SetPositionMode switches between one-way and dual-side position mode.
func (c *Client) SetPositionMode(ctx context.Context, dual bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dual))
	_, err := c.signed(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params)
	return err
}

// CloseAll flattens whatever position exists on the symbol with a reduce-only
// market order. It is the shutdown/panic-close path, so unlike PlaceOrder it
// retries internally: 3 attempts, 1s apart. Calling it with no position open
// is a no-op success.
func (c *Client) CloseAll(ctx context.Context, symbol string) (*OrderResult, error) {
	operation := func() (*OrderResult, error) {
		pos, err := c.Position(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if pos == nil || pos.Quantity == 0 {
			return nil, nil
		}
		side := "SELL"
		if pos.Quantity < 0 {
			side = "BUY"
		}
		return c.PlaceOrder(ctx, OrderRequest{
			Symbol:       symbol,
			Side:         side,
			Type:         "MARKET",
			Quantity:     absFloat(pos.Quantity),
			PositionSide: "BOTH",
			ReduceOnly:   true,
		})
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(closeAllBackoff)),
		backoff.WithMaxTries(closeAllAttempts))
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(c.clock.NowMillis(ctx), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)
	return c.do(ctx, method, path, query, true)
}

func (c *Client) public(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, method, path, params.Encode(), false)
}

func (c *Client) do(ctx context.Context, method, path, query string, authed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if authed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if apiErr := decodeAPIError(body); apiErr != nil {
		return nil, apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

// decodeAPIError recognizes the venue's {"code":..,"msg":..} error shape.
// A code of 200 is the venue's success envelope for cancel-all.
func decodeAPIError(body []byte) *APIError {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Code == 0 || apiErr.Code == 200 {
		return nil
	}
	return &apiErr
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
