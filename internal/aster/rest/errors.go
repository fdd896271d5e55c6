package rest

import (
	"errors"
	"fmt"
)

// APIError is a decoded venue rejection: the JSON {"code":..,"msg":..} body
// the venue returns instead of a normal payload.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Translate())
}

// Well-known venue error codes, mapped to operator-facing messages.
var errorMessages = map[int]string{
	-1121: "invalid trading symbol",
	-2010: "order rejected",
	-2011: "cancel rejected",
	-2013: "order does not exist",
	-2018: "insufficient balance",
	-2019: "margin is insufficient",
	-2020: "unable to fill",
	-2021: "order would immediately trigger",
	-2022: "reduce-only order rejected",
	-2023: "account is in liquidation",
	-2024: "position is not sufficient",
	-2025: "reached max open order limit",
	-2027: "position would exceed max leverage limit",
	-4046: "margin type unchanged",
	-4131: "counterparty best price does not meet limit",
	-4164: "order notional must be at least 5 USDT",
}

// Translate maps a known code to its operator-facing message; unknown codes
// keep the venue's own message.
func (e *APIError) Translate() string {
	if msg, ok := errorMessages[e.Code]; ok {
		return msg
	}
	return fmt.Sprintf("%s (code %d)", e.Msg, e.Code)
}

// IsCode reports whether err carries the given venue code, unwrapping as
// needed.
func IsCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
