package strategy

import (
	"fmt"
	"math"
)

// MinNotionalUSDT is the venue's minimum order notional.
const MinNotionalUSDT = 5.0

const minQuantity = 0.001

// CalculateQuantity converts a USDT notional into a contract quantity at the
// venue's 3-decimal step, floored at the minimum lot.
func CalculateQuantity(price, usdtAmount float64) float64 {
	if price <= 0 {
		return 0
	}
	qty := usdtAmount / price
	if qty < minQuantity {
		qty = minQuantity
	}
	return math.Round(qty*1000) / 1000
}

// Decide is a pure function of the latest observed state. Priorities:
// single-sided exposure repair beats everything, then open/close/hold are
// evaluated from the funding sign and elapsed hold time.
func Decide(in Inputs) Decision {
	// An unobservable leg is unknown, not flat. Repairing or opening against
	// it would act on a position that may still exist at the venue, so the
	// cycle stands down until both trackers report again.
	if in.A.Unknown || in.B.Unknown {
		return Decision{Action: ActionHold, Reason: "position state unknown, waiting for tracker recovery"}
	}

	aOpen := in.A.Side != SideNone
	bOpen := in.B.Side != SideNone

	// One leg stranded: flatten it before anything else.
	if aOpen != bOpen {
		repair := LegA
		qty := in.A.Quantity
		if bOpen {
			repair = LegB
			qty = in.B.Quantity
		}
		return Decision{
			Action:   ActionRepair,
			Repair:   repair,
			Quantity: qty,
			Reason:   "single-sided exposure detected",
		}
	}

	if !aOpen && !bOpen {
		return decideOpen(in)
	}
	return decideClose(in)
}

func decideOpen(in Inputs) Decision {
	if in.Price <= 0 {
		return Decision{Action: ActionHold, Reason: "no valid price"}
	}
	qty := CalculateQuantity(in.Price, in.USDTAmount)
	if notional := qty * in.Price; notional < MinNotionalUSDT {
		return Decision{
			Action: ActionHold,
			Reason: fmt.Sprintf("notional %.2f USDT below minimum %.0f", notional, MinNotionalUSDT),
		}
	}
	// Positive funding means longs pay shorts: the structurally short leg
	// collects while the pair stays net neutral.
	short := LegA
	if in.FundingRate <= 0 {
		short = LegB
	}
	return Decision{
		Action:   ActionOpen,
		ShortLeg: short,
		Quantity: qty,
		Reason:   fmt.Sprintf("funding rate %.6f", in.FundingRate),
	}
}

func decideClose(in Inputs) Decision {
	elapsed := in.Now.Sub(in.OpenTime)
	if !in.OpenTime.IsZero() && elapsed >= in.HoldTime {
		return Decision{
			Action:   ActionClose,
			Quantity: in.A.Quantity,
			Reason:   fmt.Sprintf("hold time %s reached", in.HoldTime),
		}
	}
	// Funding flipped against the held side: leg A paying means the whole
	// structure pays, exit early regardless of the timer.
	if (in.A.Side == SideLong && in.FundingRate > 0) ||
		(in.A.Side == SideShort && in.FundingRate < 0) {
		return Decision{
			Action:   ActionClose,
			Quantity: in.A.Quantity,
			Reason:   fmt.Sprintf("funding flipped to %.6f against held side", in.FundingRate),
		}
	}
	return Decision{Action: ActionHold, Reason: "holding hedge"}
}
