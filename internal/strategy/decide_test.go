package strategy

import (
	"testing"
	"time"
)

func TestCalculateQuantityRoundsToLotStep(t *testing.T) {
	qty := CalculateQuantity(3000, 300)
	if qty != 0.1 {
		t.Fatalf("expected 0.1, got %f", qty)
	}
}

func TestCalculateQuantityFloorsAtMinimumLot(t *testing.T) {
	qty := CalculateQuantity(100000, 10)
	if qty != 0.001 {
		t.Fatalf("expected minimum lot 0.001, got %f", qty)
	}
}

func TestCalculateQuantityZeroPrice(t *testing.T) {
	if qty := CalculateQuantity(0, 300); qty != 0 {
		t.Fatalf("expected 0 for invalid price, got %f", qty)
	}
}

func TestDecideOpenPositiveFundingShortsLegA(t *testing.T) {
	d := Decide(Inputs{
		FundingRate: 0.0001,
		Price:       3000,
		USDTAmount:  300,
	})
	if d.Action != ActionOpen {
		t.Fatalf("expected OPEN, got %s (%s)", d.Action, d.Reason)
	}
	if d.ShortLeg != LegA {
		t.Fatalf("positive funding should short leg A, got %s", d.ShortLeg)
	}
	if d.Quantity != 0.1 {
		t.Fatalf("expected quantity 0.1, got %f", d.Quantity)
	}
}

func TestDecideOpenNegativeFundingShortsLegB(t *testing.T) {
	d := Decide(Inputs{
		FundingRate: -0.0001,
		Price:       3000,
		USDTAmount:  300,
	})
	if d.Action != ActionOpen {
		t.Fatalf("expected OPEN, got %s", d.Action)
	}
	if d.ShortLeg != LegB {
		t.Fatalf("negative funding should short leg B, got %s", d.ShortLeg)
	}
}

func TestDecideOpenZeroFundingShortsLegB(t *testing.T) {
	d := Decide(Inputs{Price: 3000, USDTAmount: 300})
	if d.Action != ActionOpen || d.ShortLeg != LegB {
		t.Fatalf("zero funding should open with leg B short, got %s/%s", d.Action, d.ShortLeg)
	}
}

func TestDecideOpenHoldsWithoutPrice(t *testing.T) {
	d := Decide(Inputs{FundingRate: 0.0001, USDTAmount: 300})
	if d.Action != ActionHold {
		t.Fatalf("expected HOLD without a valid price, got %s", d.Action)
	}
}

func TestDecideOpenHoldsBelowMinNotional(t *testing.T) {
	d := Decide(Inputs{FundingRate: 0.0001, Price: 3000, USDTAmount: 1})
	if d.Action != ActionHold {
		t.Fatalf("expected HOLD below min notional, got %s", d.Action)
	}
}

func TestDecideOpenTinyNotionalStillClearsMinimum(t *testing.T) {
	// 10 USDT at 3000 rounds to 0.003, worth 9 USDT, above the 5 USDT floor.
	d := Decide(Inputs{FundingRate: 0.0001, Price: 3000, USDTAmount: 10})
	if d.Action != ActionOpen {
		t.Fatalf("expected OPEN, got %s (%s)", d.Action, d.Reason)
	}
	if d.Quantity != 0.003 {
		t.Fatalf("expected quantity 0.003, got %f", d.Quantity)
	}
}

func TestDecideRepairBeatsEverything(t *testing.T) {
	d := Decide(Inputs{
		FundingRate: 0.0001,
		Price:       3000,
		USDTAmount:  300,
		A:           Leg{Side: SideShort, Quantity: 0.1},
	})
	if d.Action != ActionRepair {
		t.Fatalf("expected REPAIR for single-sided exposure, got %s", d.Action)
	}
	if d.Repair != LegA {
		t.Fatalf("expected leg A to be repaired, got %s", d.Repair)
	}
	if d.Quantity != 0.1 {
		t.Fatalf("expected repair quantity 0.1, got %f", d.Quantity)
	}
}

func TestDecideRepairStrandedLegB(t *testing.T) {
	d := Decide(Inputs{
		Price: 3000,
		B:     Leg{Side: SideLong, Quantity: 0.05},
	})
	if d.Action != ActionRepair || d.Repair != LegB {
		t.Fatalf("expected REPAIR on leg B, got %s/%s", d.Action, d.Repair)
	}
}

func TestDecideHoldsWhenLegStateUnknown(t *testing.T) {
	// Leg A's tracker cannot reach the venue and reports NONE as a
	// placeholder. Leg B still holds the short. Flattening B here would
	// strand whatever A actually holds.
	d := Decide(Inputs{
		FundingRate: 0.0001,
		Price:       3000,
		USDTAmount:  300,
		A:           Leg{Side: SideNone, Unknown: true},
		B:           Leg{Side: SideShort, Quantity: 0.1},
	})
	if d.Action != ActionHold {
		t.Fatalf("unknown leg must hold, not %s (%s)", d.Action, d.Reason)
	}
}

func TestDecideDoesNotOpenOverUnknownPositions(t *testing.T) {
	d := Decide(Inputs{
		FundingRate: 0.0001,
		Price:       3000,
		USDTAmount:  300,
		A:           Leg{Side: SideNone, Unknown: true},
		B:           Leg{Side: SideNone, Unknown: true},
	})
	if d.Action != ActionHold {
		t.Fatalf("expected HOLD while both legs are unknown, got %s", d.Action)
	}
}

func TestDecideClosesAfterHoldTime(t *testing.T) {
	now := time.Now()
	d := Decide(Inputs{
		FundingRate: 0.0001,
		Price:       3000,
		A:           Leg{Side: SideShort, Quantity: 0.1},
		B:           Leg{Side: SideLong, Quantity: 0.1},
		OpenTime:    now.Add(-61 * time.Second),
		Now:         now,
		HoldTime:    60 * time.Second,
	})
	if d.Action != ActionClose {
		t.Fatalf("expected CLOSE after hold time, got %s (%s)", d.Action, d.Reason)
	}
	if d.Quantity != 0.1 {
		t.Fatalf("expected close quantity 0.1, got %f", d.Quantity)
	}
}

func TestDecideHoldsBeforeHoldTime(t *testing.T) {
	now := time.Now()
	d := Decide(Inputs{
		FundingRate: 0.0001,
		Price:       3000,
		A:           Leg{Side: SideShort, Quantity: 0.1},
		B:           Leg{Side: SideLong, Quantity: 0.1},
		OpenTime:    now.Add(-30 * time.Second),
		Now:         now,
		HoldTime:    60 * time.Second,
	})
	if d.Action != ActionHold {
		t.Fatalf("expected HOLD before hold time, got %s (%s)", d.Action, d.Reason)
	}
}

func TestDecideClosesOnFundingFlipAgainstHeldSide(t *testing.T) {
	now := time.Now()
	d := Decide(Inputs{
		FundingRate: 0.0002, // A is long and would pay
		Price:       3000,
		A:           Leg{Side: SideLong, Quantity: 0.1},
		B:           Leg{Side: SideShort, Quantity: 0.1},
		OpenTime:    now.Add(-10 * time.Second),
		Now:         now,
		HoldTime:    60 * time.Second,
	})
	if d.Action != ActionClose {
		t.Fatalf("expected CLOSE on funding flip, got %s (%s)", d.Action, d.Reason)
	}
}

func TestDecideHoldsWhileFundingStillFavorable(t *testing.T) {
	now := time.Now()
	d := Decide(Inputs{
		FundingRate: 0.0002,
		Price:       3000,
		A:           Leg{Side: SideShort, Quantity: 0.1},
		B:           Leg{Side: SideLong, Quantity: 0.1},
		OpenTime:    now.Add(-10 * time.Second),
		Now:         now,
		HoldTime:    60 * time.Second,
	})
	if d.Action != ActionHold {
		t.Fatalf("expected HOLD, got %s (%s)", d.Action, d.Reason)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideLong.Opposite() != "SELL" {
		t.Fatalf("long closes with SELL, got %s", SideLong.Opposite())
	}
	if SideShort.Opposite() != "BUY" {
		t.Fatalf("short closes with BUY, got %s", SideShort.Opposite())
	}
}
