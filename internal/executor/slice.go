package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
)

// executeSlice works one instrument leg with a passive limit order first and
// a market sweep of the remainder after the patience window expires.
//
// The limit order rests at the quoted best price for the patience window.
// Whatever is still open afterwards is cancelled and the unfilled balance is
// crossed with bounded market retries. The returned FillResult blends the
// passive and aggressive portions into one volume-weighted VWAP.
func (e *Engine) executeSlice(ctx context.Context, inst domain.Instrument, side domain.Side, qty int, limitPrice float64) (domain.FillResult, error) {
	var fill domain.FillResult
	remaining := qty

	if limitPrice > 0 {
		passive, err := e.passiveAttempt(ctx, inst, side, qty, limitPrice)
		if err != nil {
			e.logger.Warn("passive leg skipped",
				slog.String("instrument", string(inst)),
				slog.String("err", err.Error()))
		} else {
			fill = passive
			remaining = qty - passive.Quantity
		}
	}

	for attempt := 0; remaining > 0 && attempt < e.cfg.SliceRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fill, err
		}
		swept, err := e.gw.PlaceMarket(ctx, inst, side, remaining)
		if err != nil {
			e.logger.Warn("market sweep failed",
				slog.String("instrument", string(inst)),
				slog.Int("quantity", remaining),
				slog.Int("attempt", attempt+1),
				slog.String("err", err.Error()))
			e.sleep(ctx, e.cfg.RetryBackoff)
			continue
		}
		if swept.Quantity == 0 {
			e.sleep(ctx, e.cfg.RetryBackoff)
			continue
		}
		fill = fill.Blend(swept)
		remaining -= swept.Quantity
	}

	if fill.Quantity == 0 {
		return fill, fmt.Errorf("executor: slice %s %s %d: %w", side, inst, qty, domain.ErrNoLiquidity)
	}
	return fill, nil
}

// passiveAttempt places the resting limit order, waits out the patience
// window and returns whatever filled. A failed cancel means the order may
// still be working, so the final state is re-polled before giving up on it.
func (e *Engine) passiveAttempt(ctx context.Context, inst domain.Instrument, side domain.Side, qty int, price float64) (domain.FillResult, error) {
	orderID, err := e.gw.PlaceLimit(ctx, inst, side, qty, price)
	if err != nil {
		return domain.FillResult{}, err
	}

	e.sleep(ctx, e.cfg.PatienceWindow)

	st, err := e.gw.OrderStatus(ctx, orderID)
	if err != nil {
		st = domain.OrderState{OrderID: orderID}
	}
	if st.Transacted {
		return domain.FillResult{Quantity: st.QuantityFilled, VWAP: st.VWAP}, nil
	}

	if cerr := e.gw.CancelOrder(ctx, orderID); cerr != nil {
		e.logger.Warn("cancel failed, re-polling order",
			slog.Int64("order_id", orderID),
			slog.String("err", cerr.Error()))
	}
	// Fills can land between the poll and the cancel. The post-cancel state
	// is authoritative for the passive portion.
	if final, ferr := e.gw.OrderStatus(ctx, orderID); ferr == nil {
		st = final
	}
	return domain.FillResult{Quantity: st.QuantityFilled, VWAP: st.VWAP}, nil
}

// hedgeFX trades the FX pair for the given foreign-currency amount, chunked
// to the per-order FX limit. Returns the blended fill.
func (e *Engine) hedgeFX(ctx context.Context, side domain.Side, amount int) (domain.FillResult, error) {
	var fill domain.FillResult
	remaining := amount
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return fill, err
		}
		chunk := remaining
		if chunk > e.cfg.MaxFXOrderSize {
			chunk = e.cfg.MaxFXOrderSize
		}
		got, err := e.gw.PlaceMarket(ctx, domain.InstrumentFX, side, chunk)
		if err != nil {
			return fill, fmt.Errorf("executor: fx hedge %s %d: %w", side, chunk, err)
		}
		fill = fill.Blend(got)
		remaining -= got.Quantity
		if got.Quantity == 0 {
			return fill, fmt.Errorf("executor: fx hedge %s: zero fill with %d remaining", side, remaining)
		}
	}
	return fill, nil
}

// sleep is a context-aware pause.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
