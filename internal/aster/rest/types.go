package rest

import (
	"math"
	"strconv"
)

// AccountBalance is the normalized USDT balance view assembled from whichever
// account endpoint answered; different endpoint versions populate different
// fields, so the adapter folds them into one shape.
type AccountBalance struct {
	Wallet        float64
	Margin        float64
	Available     float64
	UnrealizedPnL float64
}

// Best returns the first non-zero balance in field-preference order, matching
// the endpoint fallback chain.
func (b AccountBalance) Best() float64 {
	if b.Wallet > 0 {
		return b.Wallet
	}
	if b.Margin > 0 {
		return b.Margin
	}
	return b.Available
}

// Position is the normalized view of one positionRisk entry.
type Position struct {
	Symbol           string
	Quantity         float64 // signed: positive long, negative short
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	UnrealizedPnL    float64
	Leverage         float64
	MarginType       string
	IsolatedMargin   float64
	InitialMargin    float64
	PositionInitial  float64
}

// Margin picks the exchange-reported margin when present and derives one
// otherwise. Different endpoint versions populate different fields.
func (p Position) CalcMargin(defaultLeverage float64) float64 {
	if p.MarginType == "isolated" && p.IsolatedMargin > 0 {
		return round2(p.IsolatedMargin)
	}
	margin := p.InitialMargin
	if margin == 0 {
		margin = p.PositionInitial
	}
	if margin == 0 {
		price := p.MarkPrice
		if price <= 0 {
			price = p.EntryPrice
		}
		leverage := p.Leverage
		if leverage <= 0 {
			leverage = defaultLeverage
		}
		if p.Quantity != 0 && price > 0 && leverage > 0 {
			margin = math.Abs(p.Quantity*price) / leverage
		}
	}
	return round2(margin)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// positionRiskWire mirrors /fapi/v2/positionRisk, which reports numbers as
// strings.
type positionRiskWire struct {
	Symbol                 string `json:"symbol"`
	PositionAmt            string `json:"positionAmt"`
	EntryPrice             string `json:"entryPrice"`
	MarkPrice              string `json:"markPrice"`
	LiquidationPrice       string `json:"liquidationPrice"`
	UnrealizedProfit       string `json:"unRealizedProfit"`
	UnrealizedProfitLegacy string `json:"unrealizedProfit"`
	Leverage               string `json:"leverage"`
	MarginType             string `json:"marginType"`
	IsolatedMargin         string `json:"isolatedMargin"`
	InitialMargin          string `json:"initialMargin"`
	PositionInitialMargin  string `json:"positionInitialMargin"`
}

func (w positionRiskWire) normalize() Position {
	pnl := parseFloat(w.UnrealizedProfit)
	if pnl == 0 {
		pnl = parseFloat(w.UnrealizedProfitLegacy)
	}
	return Position{
		Symbol:           w.Symbol,
		Quantity:         parseFloat(w.PositionAmt),
		EntryPrice:       parseFloat(w.EntryPrice),
		MarkPrice:        parseFloat(w.MarkPrice),
		LiquidationPrice: parseFloat(w.LiquidationPrice),
		UnrealizedPnL:    pnl,
		Leverage:         parseFloat(w.Leverage),
		MarginType:       w.MarginType,
		IsolatedMargin:   parseFloat(w.IsolatedMargin),
		InitialMargin:    parseFloat(w.InitialMargin),
		PositionInitial:  parseFloat(w.PositionInitialMargin),
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// OrderRequest describes one order submission.
type OrderRequest struct {
	Symbol       string
	Side         string // BUY or SELL
	Type         string // MARKET or LIMIT
	Quantity     float64
	PositionSide string // BOTH in one-way mode
	TimeInForce  string // LIMIT orders only
	ReduceOnly   bool
}

// OrderResult is the venue acknowledgement of an accepted order.
type OrderResult struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	AvgPrice      string `json:"avgPrice"`
}
