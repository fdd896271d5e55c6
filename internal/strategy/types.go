package strategy

import "time"

// Side is the direction of one account's position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
)

// Opposite returns the order side that flattens a held position side.
func (s Side) Opposite() string {
	if s == SideLong {
		return "SELL"
	}
	return "BUY"
}

// LegID names one of the two paired accounts.
type LegID string

const (
	LegA LegID = "A"
	LegB LegID = "B"
)

// Action is the outcome of one decision cycle.
type Action string

const (
	ActionOpen   Action = "OPEN"
	ActionClose  Action = "CLOSE"
	ActionRepair Action = "REPAIR"
	ActionHold   Action = "HOLD"
)

// Leg is the decision-relevant slice of one account's position snapshot.
// Unknown marks a leg whose tracker cannot currently observe the venue;
// its Side and Quantity are placeholders, not a flat position.
type Leg struct {
	Side     Side
	Quantity float64
	Unknown  bool
}

// Inputs is everything Decide looks at. It is assembled from the two
// trackers' latest snapshots plus the funding index each cycle.
type Inputs struct {
	FundingRate float64
	Price       float64
	USDTAmount  float64
	A           Leg
	B           Leg
	OpenTime    time.Time
	Now         time.Time
	HoldTime    time.Duration
}

// Decision is at most one hedge action per cycle.
type Decision struct {
	Action   Action
	ShortLeg LegID // OPEN: the account that takes the short side
	Repair   LegID // REPAIR: the account with the stranded position
	Quantity float64
	Reason   string
}
