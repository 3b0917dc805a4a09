package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrStalePrice indicates the feed's last update is older than the
	// configured freshness window. Stale quotes are rejected, never
	// discounted.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrInvalidPrice indicates the feed reported a zero or negative price.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	// ErrOracleError wraps transport or decoding failures from the
	// underlying feed.
	ErrOracleError = errors.New("oracle: feed failure")
)

// DefaultMaxQuoteAge is the freshness window applied when an adapter is
// constructed without an explicit threshold.
const DefaultMaxQuoteAge = 3 * time.Hour

var (
	// precision is the internal quote-currency precision (18 decimals).
	precision = mustBigInt("1000000000000000000")
	// feedScale lifts 8-decimal feed answers to the internal precision.
	feedScale = mustBigInt("10000000000")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// PriceQuote captures a validated price observation. Price is denominated in
// the quote currency with 8 decimals, matching the upstream feed contract.
// Quotes are ephemeral: fetched fresh on every valuation and never cached.
type PriceQuote struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{UpdatedAt: q.UpdatedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed is a single external price source reporting the latest answer and the
// time it was produced.
type Feed interface {
	LatestRound() (price *big.Int, updatedAt time.Time, err error)
}

// Adapter wraps one Feed per collateral asset and enforces the freshness and
// sign invariants before any price reaches valuation code.
type Adapter struct {
	feed   Feed
	maxAge time.Duration
}

// NewAdapter constructs an adapter over the provided feed. A non-positive
// maxAge falls back to DefaultMaxQuoteAge.
func NewAdapter(feed Feed, maxAge time.Duration) *Adapter {
	if maxAge <= 0 {
		maxAge = DefaultMaxQuoteAge
	}
	return &Adapter{feed: feed, maxAge: maxAge}
}

// Quote fetches and validates the latest feed answer. A quote older than the
// freshness window or with a non-positive price is rejected outright.
func (a *Adapter) Quote() (PriceQuote, error) {
	if a == nil || a.feed == nil {
		return PriceQuote{}, fmt.Errorf("%w: adapter not configured", ErrOracleError)
	}
	price, updatedAt, err := a.feed.LatestRound()
	if err != nil {
		return PriceQuote{}, fmt.Errorf("%w: %v", ErrOracleError, err)
	}
	if price == nil || price.Sign() <= 0 {
		return PriceQuote{}, ErrInvalidPrice
	}
	if time.Since(updatedAt) > a.maxAge {
		return PriceQuote{}, ErrStalePrice
	}
	return PriceQuote{Price: new(big.Int).Set(price), UpdatedAt: updatedAt}, nil
}

// Value converts an asset amount into its quote-currency value at the current
// price: amount * price * feedScale / precision. Multiplication runs before
// division so no precision is lost to intermediate truncation.
func (a *Adapter) Value(amount *big.Int) (*big.Int, error) {
	quote, err := a.Quote()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	scaled := new(big.Int).Mul(quote.Price, feedScale)
	value := new(big.Int).Mul(amount, scaled)
	return value.Quo(value, precision), nil
}

// AmountForValue performs the inverse conversion, translating a
// quote-currency value into an asset quantity: value * precision /
// (price * feedScale). Used to size collateral seizures during liquidation.
func (a *Adapter) AmountForValue(value *big.Int) (*big.Int, error) {
	quote, err := a.Quote()
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() == 0 {
		return big.NewInt(0), nil
	}
	numerator := new(big.Int).Mul(value, precision)
	denominator := new(big.Int).Mul(quote.Price, feedScale)
	return numerator.Quo(numerator, denominator), nil
}

// MaxAge exposes the configured freshness window.
func (a *Adapter) MaxAge() time.Duration {
	if a == nil {
		return 0
	}
	return a.maxAge
}

// ManualFeed provides an in-memory feed implementation used for tests and
// manual overrides during incident response.
type ManualFeed struct {
	mu        sync.RWMutex
	price     *big.Int
	updatedAt time.Time
}

// NewManualFeed constructs a manual feed with no observation recorded.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// Set records the supplied price and observation time.
func (m *ManualFeed) Set(price *big.Int, updatedAt time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.price = new(big.Int).Set(price)
	m.updatedAt = updatedAt
	m.mu.Unlock()
}

// LatestRound returns the stored observation.
func (m *ManualFeed) LatestRound() (*big.Int, time.Time, error) {
	if m == nil {
		return nil, time.Time{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.price == nil {
		return nil, time.Time{}, fmt.Errorf("manual feed: no observation recorded")
	}
	return new(big.Int).Set(m.price), m.updatedAt, nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches price data from a JSON endpoint reporting an 8-decimal
// integer price and a unix timestamp.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (f *HTTPFeed) LatestRound() (*big.Int, time.Time, error) {
	if f == nil || f.endpoint == "" {
		return nil, time.Time{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, time.Time{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, time.Time{}, fmt.Errorf("http feed: decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Price)
	if trimmed == "" {
		return nil, time.Time{}, fmt.Errorf("http feed: empty price")
	}
	price, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("http feed: invalid price %q", payload.Price)
	}
	return price, time.Unix(payload.Timestamp, 0), nil
}
