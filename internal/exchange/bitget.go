package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/anthonyr0ux/trading-journal-macos/pkg/ratelimit"
)

const bitgetBaseURL = "https://api.bitget.com"

func init() {
	Register("bitget", func(creds Credentials, limiter ratelimit.Limiter) Client {
		return NewBitgetClient(creds, limiter)
	})
}

// BitgetClient talks to the Bitget v2 mix (USDT futures) API.
type BitgetClient struct {
	creds   Credentials
	limiter ratelimit.Limiter
	http    *resty.Client
}

func NewBitgetClient(creds Credentials, limiter ratelimit.Limiter) *BitgetClient {
	return &BitgetClient{
		creds:   creds,
		limiter: limiter,
		http: resty.New().
			SetBaseURL(bitgetBaseURL).
			SetTimeout(15 * time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("locale", "en-US"),
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (c *BitgetClient) SetBaseURL(u string) { c.http.SetBaseURL(u) }

func (c *BitgetClient) Name() string { return "bitget" }

// sign produces the ACCESS-SIGN header: base64(hmac-sha256(secret,
// timestamp + method + requestPath + body)).
func (c *BitgetClient) sign(ts, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *BitgetClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	// The signed requestPath must be byte-identical to the URI on the wire,
	// so the query string is encoded once and reused for both.
	qs := encodeQuery(query)
	fullPath := path
	if qs != "" {
		fullPath = path + "?" + qs
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(qs).
		SetHeader("ACCESS-KEY", c.creds.APIKey).
		SetHeader("ACCESS-SIGN", c.sign(ts, "GET", fullPath, "")).
		SetHeader("ACCESS-TIMESTAMP", ts).
		SetHeader("ACCESS-PASSPHRASE", c.creds.Passphrase).
		Get(path)
	if err != nil {
		return &APIError{Exchange: "bitget", Message: err.Error()}
	}
	if resp.StatusCode() >= 400 {
		return &APIError{
			Exchange: "bitget",
			Code:     strconv.Itoa(resp.StatusCode()),
			Message:  string(resp.Body()),
		}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrap(err, "bitget: decode response")
	}
	return nil
}

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *bitgetEnvelope) err() error {
	if e.Code != "" && e.Code != "00000" {
		return &APIError{Exchange: "bitget", Code: e.Code, Message: e.Msg}
	}
	return nil
}

type bitgetFill struct {
	TradeID    string `json:"tradeId"`
	OrderID    string `json:"orderId"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide"`
	Price      string `json:"price"`
	BaseVolume string `json:"baseVolume"`
	Profit     string `json:"profit"`
	CTime      string `json:"cTime"`
}

type bitgetFillPage struct {
	FillList []bitgetFill `json:"fillList"`
	EndID    string       `json:"endId"`
}

func (c *BitgetClient) FetchTrades(ctx context.Context, req FetchTradesRequest) (*FetchTradesResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := map[string]string{
		"productType": "USDT-FUTURES",
		"limit":       strconv.Itoa(limit),
	}
	if req.StartTime > 0 {
		query["startTime"] = strconv.FormatInt(req.StartTime, 10)
	}
	if req.EndTime > 0 {
		query["endTime"] = strconv.FormatInt(req.EndTime, 10)
	}
	if req.Symbol != "" {
		query["symbol"] = req.Symbol
	}
	if req.Cursor != "" {
		query["idLessThan"] = req.Cursor
	}

	var env bitgetEnvelope
	if err := c.get(ctx, "/api/v2/mix/order/fill-history", query, &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	var page bitgetFillPage
	if err := json.Unmarshal(env.Data, &page); err != nil {
		return nil, errors.Wrap(err, "bitget: decode fill page")
	}

	out := &FetchTradesResponse{NextCursor: page.EndID}
	for _, f := range page.FillList {
		trade, err := f.toRawTrade()
		if err != nil {
			return nil, errors.Wrapf(err, "bitget: fill %s", f.TradeID)
		}
		out.Trades = append(out.Trades, trade)
	}
	return out, nil
}

func (f bitgetFill) toRawTrade() (RawTrade, error) {
	qty, err := parseDecimal(f.BaseVolume)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad baseVolume %q: %w", f.BaseVolume, err)
	}
	price, err := parseDecimal(f.Price)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad price %q: %w", f.Price, err)
	}
	pnl, err := parseDecimal(f.Profit)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad profit %q: %w", f.Profit, err)
	}
	ts, err := strconv.ParseInt(f.CTime, 10, 64)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad cTime %q: %w", f.CTime, err)
	}
	t := RawTrade{
		ExchangeTradeID: f.TradeID,
		ExchangeOrderID: f.OrderID,
		Symbol:          f.Symbol,
		Side:            strings.ToLower(f.Side),
		PositionSide:    strings.ToUpper(f.PosSide),
		Quantity:        qty,
		EntryPrice:      price,
		PnL:             pnl,
		Timestamp:       ts,
	}
	// A fill carrying realized pnl closed (part of) a position at this
	// price and time.
	if pnl != 0 {
		exit := price
		closeTS := ts
		t.ExitPrice = &exit
		t.CloseTimestamp = &closeTS
	}
	return t, nil
}

type bitgetPendingOrder struct {
	OrderID    string  `json:"orderId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	OrderType  string  `json:"orderType"`
	Price      string  `json:"price"`
	Size       string  `json:"size"`
	BaseVolume *string `json:"baseVolume"`
	Status     string  `json:"status"`
	PosSide    string  `json:"posSide"`
	Leverage   string  `json:"leverage"`
	CTime      string  `json:"cTime"`
	UTime      *string `json:"uTime"`
}

type bitgetPendingPage struct {
	EntrustedList []bitgetPendingOrder `json:"entrustedList"`
}

func (c *BitgetClient) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := map[string]string{"productType": "USDT-FUTURES"}
	if symbol != "" {
		query["symbol"] = symbol
	}

	var env bitgetEnvelope
	if err := c.get(ctx, "/api/v2/mix/order/orders-pending", query, &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	var page bitgetPendingPage
	if err := json.Unmarshal(env.Data, &page); err != nil {
		return nil, errors.Wrap(err, "bitget: decode pending orders")
	}

	out := make([]OpenOrder, 0, len(page.EntrustedList))
	for _, o := range page.EntrustedList {
		createdAt, _ := strconv.ParseInt(o.CTime, 10, 64)
		order := OpenOrder{
			OrderID:      o.OrderID,
			Symbol:       o.Symbol,
			Side:         o.Side,
			OrderType:    o.OrderType,
			Price:        o.Price,
			Size:         o.Size,
			FilledSize:   "0",
			Status:       o.Status,
			PositionSide: o.PosSide,
			Leverage:     o.Leverage,
			CreatedAt:    createdAt,
		}
		if o.BaseVolume != nil {
			order.FilledSize = *o.BaseVolume
		}
		if o.UTime != nil {
			if u, err := strconv.ParseInt(*o.UTime, 10, 64); err == nil {
				order.UpdatedAt = &u
			}
		}
		out = append(out, order)
	}
	return out, nil
}

func (c *BitgetClient) TestCredentials(ctx context.Context) (bool, error) {
	var env bitgetEnvelope
	q := map[string]string{"productType": "USDT-FUTURES"}
	if err := c.get(ctx, "/api/v2/mix/account/accounts", q, &env); err != nil {
		return false, err
	}
	if err := env.err(); err != nil {
		return false, err
	}
	return true, nil
}

// parseDecimal parses exchange numeric strings without float round-trip
// noise. Empty strings mean zero.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}
