// Package exchange provides the client capability for fetching trade fills
// from remote exchanges. One implementation per exchange, selected through a
// registry keyed on the exchange identifier.
package exchange

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/anthonyr0ux/trading-journal-macos/pkg/ratelimit"
)

// Credentials are the decrypted API credentials for one exchange account.
// They only ever live in memory and must never be logged.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// RawTrade is an exchange-reported fill, immutable once fetched.
// Timestamps are unix milliseconds as reported by the exchange.
type RawTrade struct {
	ExchangeTradeID string
	ExchangeOrderID string
	Symbol          string
	Side            string // buy / sell
	PositionSide    string // LONG / SHORT
	Quantity        float64
	EntryPrice      float64
	ExitPrice       *float64
	PnL             float64
	Timestamp       int64
	CloseTimestamp  *int64
}

type FetchTradesRequest struct {
	StartTime int64 // unix ms, inclusive
	EndTime   int64 // unix ms, inclusive
	Symbol    string
	Cursor    string
	Limit     int
}

type FetchTradesResponse struct {
	Trades     []RawTrade
	NextCursor string
}

// OpenOrder is a pending (unfilled or partially filled) order as reported
// by the exchange. Never persisted, only passed through to the caller.
type OpenOrder struct {
	OrderID      string `json:"order_id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"order_type"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	FilledSize   string `json:"filled_size"`
	Status       string `json:"status"`
	PositionSide string `json:"pos_side,omitempty"`
	Leverage     string `json:"leverage,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    *int64 `json:"updated_at,omitempty"`
}

// Client is the capability consumed by the import pipeline and the live
// mirror. All operations are blocking and honor ctx cancellation.
type Client interface {
	Name() string
	FetchTrades(ctx context.Context, req FetchTradesRequest) (*FetchTradesResponse, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	TestCredentials(ctx context.Context) (bool, error)
}

// APIError is the generic exchange failure: network trouble, a non-2xx
// response, or an error code in the response envelope.
type APIError struct {
	Exchange string
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error %s: %s", e.Exchange, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error: %s", e.Exchange, e.Message)
}

// authCodes are error codes that mean the credentials themselves are bad:
// revoked, expired, wrong passphrase, or signed with the wrong secret.
// Retrying cannot help until the user re-enters them.
var authCodes = map[string]bool{
	"401":   true, // http unauthorized
	"403":   true, // http forbidden
	"40006": true, // bitget: invalid ACCESS-KEY
	"40009": true, // bitget: signature error
	"40012": true, // bitget: incorrect apikey or passphrase
	"40037": true, // bitget: apikey does not exist
}

// Unauthorized reports whether the failure is an authentication or
// authorization rejection rather than a transient one.
func (e *APIError) Unauthorized() bool {
	return authCodes[e.Code]
}

// encodeQuery renders query params the way the HTTP client encodes them
// (escaped, sorted by key), so the exact wire string can also be signed.
func encodeQuery(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	vals := url.Values{}
	for k, v := range query {
		vals.Set(k, v)
	}
	return vals.Encode()
}

// Factory builds a client bound to a shared rate limiter.
type Factory func(creds Credentials, limiter ratelimit.Limiter) Client

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds an exchange implementation. Called from implementation
// init(); duplicate registration is a programming error.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("exchange: %s registered twice", name))
	}
	registry[name] = f
}

// New constructs a client for the named exchange. Adding an exchange needs
// no change at call sites, only a new Register call.
func New(name string, creds Credentials, limiter ratelimit.Limiter) (Client, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange: unsupported exchange %q", name)
	}
	return f(creds, limiter), nil
}

// Supported lists registered exchange identifiers, sorted.
func Supported() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
