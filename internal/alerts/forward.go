package alerts

import (
	"context"
	"fmt"

	"aster-hedge-bot/internal/events"

	"go.uber.org/zap"
)

// Forward relays operator-relevant events to Telegram until the stream or
// ctx ends. Send failures are logged, never fatal.
func (t *Telegram) Forward(ctx context.Context, stream <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			msg := format(event)
			if msg == "" {
				continue
			}
			if err := t.Send(ctx, msg); err != nil {
				t.log.Warn("alert send failed", zap.Error(err))
			}
		}
	}
}

func format(e events.Event) string {
	switch e.Kind {
	case events.KindHedgeOpened:
		return fmt.Sprintf("Hedge opened %s qty %.3f @ %.2f (funding %.4f%%)",
			e.Symbol, e.Quantity, e.Price, e.FundingRate*100)
	case events.KindHedgeClosed:
		return fmt.Sprintf("Hedge closed %s @ %.2f", e.Symbol, e.Price)
	case events.KindRepair:
		return fmt.Sprintf("Repaired single-sided exposure on %s: %s %.3f %s",
			e.Account, e.Side, e.Quantity, e.Symbol)
	case events.KindReconcileFailed:
		return fmt.Sprintf("RECONCILE FAILED on %s: %s. Check positions manually.",
			e.Account, e.Message)
	case events.KindWarning:
		return fmt.Sprintf("Warning (%s): %s", e.Account, e.Message)
	default:
		return ""
	}
}
