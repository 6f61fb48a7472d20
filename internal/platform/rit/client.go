// Package rit implements the REST gateway to the simulated exchange:
// market data, order execution, tenders, and the conversion facility.
// Every method is a blocking network call and therefore a suspension
// point; callers must not trust market state read before one.
package rit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ritcapital/etfarb/internal/domain"
)

// readRetries bounds retry attempts for idempotent reads; writes are
// submitted once here and retried at the slice level by the caller.
const (
	readRetries  = 3
	retryBackoff = 200 * time.Millisecond
)

// Config holds the connection parameters for the exchange client.
type Config struct {
	BaseURL      string
	APIKey       string
	RateLimitRPS float64
	Timeout      time.Duration
	Symbols      Symbols
}

// Client is the REST client for the simulated exchange.
type Client struct {
	baseURL    string
	apiKey     string
	symbols    Symbols
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient creates an exchange client. The rate limiter paces all
// requests to stay under the exchange's per-second request cap.
func NewClient(cfg Config) *Client {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		symbols: cfg.Symbols,
		limiter: rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps))),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do performs one rate-limited request and decodes the JSON response into
// out when out is non-nil. Non-2xx statuses are returned as errors with
// the response body included.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rit: rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("rit: create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rit: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("rit: %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rit: decode %s: %w", path, err)
	}
	return nil
}

// get performs a read with bounded retries. Reads are idempotent, so a
// transient failure is retried with a short backoff before surfacing.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		if err = c.do(ctx, http.MethodGet, path, params, out); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return err
}

// Case returns the current session tick and status.
func (c *Client) Case(ctx context.Context) (CaseStatus, error) {
	var status CaseStatus
	if err := c.get(ctx, "/case", nil, &status); err != nil {
		return CaseStatus{}, err
	}
	return status, nil
}

// Depth returns the full order book for an instrument.
func (c *Client) Depth(ctx context.Context, inst domain.Instrument) (domain.Book, error) {
	sym, err := c.symbols.symbol(inst)
	if err != nil {
		return domain.Book{}, err
	}
	var resp bookResponse
	params := url.Values{"ticker": {sym}}
	if err := c.get(ctx, "/securities/book", params, &resp); err != nil {
		return domain.Book{}, err
	}
	book := domain.Book{
		Bids: make([]domain.BookLevel, 0, len(resp.Bids)),
		Asks: make([]domain.BookLevel, 0, len(resp.Asks)),
	}
	for _, l := range resp.Bids {
		book.Bids = append(book.Bids, domain.BookLevel{Price: l.Price, Quantity: l.Quantity})
	}
	for _, l := range resp.Asks {
		book.Asks = append(book.Asks, domain.BookLevel{Price: l.Price, Quantity: l.Quantity})
	}
	return book, nil
}

// TopOfBook returns the best bid/ask with quantities for an instrument.
func (c *Client) TopOfBook(ctx context.Context, inst domain.Instrument) (domain.Quote, error) {
	book, err := c.Depth(ctx, inst)
	if err != nil {
		return domain.Quote{}, err
	}
	return book.TopOfBook(), nil
}

// Positions returns the current signed position per instrument.
func (c *Client) Positions(ctx context.Context) (domain.Positions, error) {
	var secs []security
	if err := c.get(ctx, "/securities", nil, &secs); err != nil {
		return nil, err
	}
	out := domain.Positions{}
	for _, s := range secs {
		if inst := c.symbols.instrument(s.Ticker); inst != "" {
			out[inst] = int(math.Round(s.Position))
		}
	}
	return out, nil
}

// PlaceMarket submits a market order and returns the fill. Zero and
// negative quantities are rejected locally without a network call.
func (c *Client) PlaceMarket(ctx context.Context, inst domain.Instrument, side domain.Side, qty int) (domain.FillResult, error) {
	if qty <= 0 {
		return domain.FillResult{}, fmt.Errorf("rit: place market %s: %w", inst, domain.ErrRejected)
	}
	sym, err := c.symbols.symbol(inst)
	if err != nil {
		return domain.FillResult{}, err
	}
	params := url.Values{
		"ticker":   {sym},
		"type":     {"MARKET"},
		"quantity": {strconv.Itoa(qty)},
		"action":   {string(side)},
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", params, &resp); err != nil {
		return domain.FillResult{}, err
	}
	filled := resp.QuantityFilled
	if filled == 0 {
		// Market orders transact synchronously on this exchange.
		filled = resp.Quantity
	}
	return domain.FillResult{Quantity: filled, VWAP: resp.VWAP}, nil
}

// PlaceLimit submits a limit order and returns its order ID for status
// polling and cancellation.
func (c *Client) PlaceLimit(ctx context.Context, inst domain.Instrument, side domain.Side, qty int, price float64) (int64, error) {
	if qty <= 0 || price <= 0 {
		return 0, fmt.Errorf("rit: place limit %s: %w", inst, domain.ErrRejected)
	}
	sym, err := c.symbols.symbol(inst)
	if err != nil {
		return 0, err
	}
	params := url.Values{
		"ticker":   {sym},
		"type":     {"LIMIT"},
		"quantity": {strconv.Itoa(qty)},
		"action":   {string(side)},
		"price":    {strconv.FormatFloat(price, 'f', 4, 64)},
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", params, &resp); err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

// OrderStatus polls the state of a working order.
func (c *Client) OrderStatus(ctx context.Context, orderID int64) (domain.OrderState, error) {
	var resp orderResponse
	path := "/orders/" + strconv.FormatInt(orderID, 10)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return domain.OrderState{}, err
	}
	return domain.OrderState{
		OrderID:        resp.OrderID,
		QuantityFilled: resp.QuantityFilled,
		VWAP:           resp.VWAP,
		Cancelled:      resp.Status == "CANCELLED",
		Transacted:     resp.Status == "TRANSACTED",
	}, nil
}

// CancelOrder cancels a working order. A failed cancel is surfaced to the
// caller, who must treat the order as possibly partially filled.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	path := "/orders/" + strconv.FormatInt(orderID, 10)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Tenders lists the open tender offers for the ETF.
func (c *Client) Tenders(ctx context.Context) ([]domain.TenderOffer, error) {
	var resp []tenderResponse
	if err := c.get(ctx, "/tenders", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.TenderOffer, 0, len(resp))
	for _, t := range resp {
		if c.symbols.instrument(t.Ticker) != domain.InstrumentETF {
			continue
		}
		out = append(out, domain.TenderOffer{
			ID:         t.TenderID,
			Action:     domain.Side(t.Action),
			Price:      t.Price,
			Quantity:   int(t.Quantity),
			IsFixedBid: t.IsFixedBid,
		})
	}
	return out, nil
}

// AcceptTender accepts a tender offer. Non-fixed-bid tenders require the
// offer price to be echoed back.
func (c *Client) AcceptTender(ctx context.Context, offer domain.TenderOffer) error {
	path := "/tenders/" + strconv.FormatInt(offer.ID, 10)
	var params url.Values
	if !offer.IsFixedBid {
		params = url.Values{"price": {strconv.FormatFloat(offer.Price, 'f', 2, 64)}}
	}
	return c.do(ctx, http.MethodPost, path, params, nil)
}
