package state

import (
	"context"
	"encoding/json"
	"strings"
)

const SessionKey = "hedge:last_session"

// Session is the durable slice of the engine's bookkeeping: enough to resume
// the trade counter and a held hedge after a restart.
type Session struct {
	TradeCount     int     `json:"trade_count"`
	TotalVolume    float64 `json:"total_volume"`
	FundingRate    float64 `json:"funding_rate"`
	OpenTimeMS     int64   `json:"open_time_ms"` // zero while flat
	InitialBalance float64 `json:"initial_balance"`
	UpdatedAtMS    int64   `json:"updated_at_ms"`
}

func LoadSession(ctx context.Context, store Store) (Session, bool, error) {
	if store == nil {
		return Session{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, SessionKey)
	if err != nil {
		return Session{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Session{}, false, nil
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return Session{}, false, err
	}
	return session, true, nil
}

func SaveSession(ctx context.Context, store Store, session Session) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return store.Set(ctx, SessionKey, string(payload))
}
