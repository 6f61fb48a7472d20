package rit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
)

// convertRetries bounds retry attempts for a converter invocation. The
// facility occasionally rejects a call while a previous batch settles.
const (
	convertRetries       = 5
	convertRetryInterval = 1500 * time.Millisecond
)

// Converter drives the exchange's conversion facility. Leases are opened
// once at startup and treated as process-lifetime read-only state; nothing
// may re-open a lease that already exists.
type Converter struct {
	client       *Client
	creationID   int64
	redemptionID int64
	feeFlat      float64 // foreign currency, per full batch
	batchSize    int
	logger       *slog.Logger
}

// NewConverter creates a Converter bound to the given client. Call
// EnsureLeases before Convert.
func NewConverter(client *Client, feeFlat float64, batchSize int, logger *slog.Logger) *Converter {
	return &Converter{
		client:    client,
		feeFlat:   feeFlat,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "converter")),
	}
}

// BatchSize returns the maximum units one Convert call can process.
func (cv *Converter) BatchSize() int {
	return cv.batchSize
}

// EnsureLeases opens the creation and redemption leases if they do not
// already exist and records their IDs. Idempotent: existing leases are
// reused, never re-opened.
func (cv *Converter) EnsureLeases(ctx context.Context) error {
	leases, err := cv.listLeases(ctx)
	if err != nil {
		return err
	}

	missing := map[string]bool{leaseCreation: true, leaseRedemption: true}
	for _, l := range leases {
		delete(missing, l.Ticker)
	}
	for ticker := range missing {
		params := url.Values{"ticker": {ticker}}
		if err := cv.client.do(ctx, "POST", "/leases", params, nil); err != nil {
			return fmt.Errorf("rit: open lease %s: %w", ticker, err)
		}
	}
	if len(missing) > 0 {
		leases, err = cv.listLeases(ctx)
		if err != nil {
			return err
		}
	}

	for _, l := range leases {
		switch l.Ticker {
		case leaseCreation:
			cv.creationID = l.ID
		case leaseRedemption:
			cv.redemptionID = l.ID
		}
	}
	if cv.creationID == 0 || cv.redemptionID == 0 {
		return domain.ErrLeaseMissing
	}
	cv.logger.Info("conversion leases ready",
		slog.Int64("creation_id", cv.creationID),
		slog.Int64("redemption_id", cv.redemptionID),
	)
	return nil
}

func (cv *Converter) listLeases(ctx context.Context) ([]leaseResponse, error) {
	var leases []leaseResponse
	if err := cv.client.get(ctx, "/leases", nil, &leases); err != nil {
		return nil, err
	}
	return leases, nil
}

// FeeForeign is the fee the facility bills for qty units, in foreign
// currency, proportional to batch usage.
func (cv *Converter) FeeForeign(qty int) int {
	return int(cv.feeFlat * float64(qty) / float64(cv.batchSize))
}

// Convert invokes the facility: CREATE turns qty of each stock plus the
// foreign-currency fee into qty ETF units; REDEEM is the reverse. The
// batch size is a hard upper bound per call, never a minimum. Transient
// rejections are retried a bounded number of times.
func (cv *Converter) Convert(ctx context.Context, dir domain.ConvertDirection, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("rit: convert %d units: %w", qty, domain.ErrRejected)
	}
	if qty > cv.batchSize {
		return fmt.Errorf("rit: convert %d units: %w", qty, domain.ErrBatchTooBig)
	}

	var (
		leaseID int64
		params  url.Values
	)
	fee := strconv.Itoa(cv.FeeForeign(qty))
	switch dir {
	case domain.ConvertCreate:
		leaseID = cv.creationID
		params = url.Values{
			"from1": {cv.client.symbols.StockA}, "quantity1": {strconv.Itoa(qty)},
			"from2": {cv.client.symbols.StockB}, "quantity2": {strconv.Itoa(qty)},
			"from3": {cv.client.symbols.FX}, "quantity3": {fee},
		}
	case domain.ConvertRedeem:
		leaseID = cv.redemptionID
		params = url.Values{
			"from1": {cv.client.symbols.ETF}, "quantity1": {strconv.Itoa(qty)},
			"from2": {cv.client.symbols.FX}, "quantity2": {fee},
		}
	default:
		return fmt.Errorf("rit: unknown conversion direction %q", dir)
	}
	if leaseID == 0 {
		return domain.ErrLeaseMissing
	}

	path := "/leases/" + strconv.FormatInt(leaseID, 10)
	var err error
	for attempt := 1; attempt <= convertRetries; attempt++ {
		if err = cv.client.do(ctx, "POST", path, params, nil); err == nil {
			return nil
		}
		cv.logger.Warn("converter call failed, retrying",
			slog.String("direction", string(dir)),
			slog.Int("quantity", qty),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(convertRetryInterval):
		}
	}
	return fmt.Errorf("rit: convert %s %d: %w", dir, qty, err)
}
