// Package risk gates every order against the case's gross and net
// position limits.
package risk

import (
	"log/slog"

	"github.com/ritcapital/etfarb/internal/domain"
)

// Limits are the configured position bounds. Gross counts absolute
// exposure with the ETF weighted double; net keeps the same weighting but
// signed.
type Limits struct {
	MaxGross    int
	MaxLongNet  int
	MaxShortNet int // negative
}

// Guard approves or rejects hypothetical trades against the limits. It is
// consulted before every slice, not only once per unwind: intermediate
// conversions briefly hold both legs at once and can transiently breach
// gross even when the final state would not.
type Guard struct {
	limits Limits
	logger *slog.Logger
}

// NewGuard creates a Guard with the given limits.
func NewGuard(limits Limits, logger *slog.Logger) *Guard {
	return &Guard{
		limits: limits,
		logger: logger.With(slog.String("component", "risk_guard")),
	}
}

// Approve returns true when current positions plus the projected deltas
// stay within both the gross and the net bound. A rejection is an expected
// control-flow outcome: the trade is simply not submitted.
func (g *Guard) Approve(positions domain.Positions, deltas domain.Positions) bool {
	projected := positions.Apply(deltas)
	gross := projected.Gross()
	net := projected.Net()

	if gross > g.limits.MaxGross {
		g.logger.Warn("trade rejected: gross limit",
			slog.Int("projected_gross", gross),
			slog.Int("max_gross", g.limits.MaxGross),
		)
		return false
	}
	if net > g.limits.MaxLongNet || net < g.limits.MaxShortNet {
		g.logger.Warn("trade rejected: net limit",
			slog.Int("projected_net", net),
			slog.Int("max_long_net", g.limits.MaxLongNet),
			slog.Int("max_short_net", g.limits.MaxShortNet),
		)
		return false
	}
	return true
}

// SliceDeltas builds the projected position deltas for one unwind slice on
// the given route. Converter slices project both stock legs and the ETF
// change together, the worst transient state of the conversion window.
func SliceDeltas(route domain.Route, side domain.Side, qty int) domain.Positions {
	sign := qty
	if side == domain.SideSell {
		sign = -qty
	}
	if route == domain.RouteDirect {
		return domain.Positions{domain.InstrumentETF: sign}
	}
	return domain.Positions{
		domain.InstrumentStockA: sign,
		domain.InstrumentStockB: sign,
		domain.InstrumentETF:    sign,
	}
}
