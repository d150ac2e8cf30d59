package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/anthonyr0ux/trading-journal-macos/pkg/ratelimit"
)

const blofinBaseURL = "https://openapi.blofin.com"

func init() {
	Register("blofin", func(creds Credentials, limiter ratelimit.Limiter) Client {
		return NewBlofinClient(creds, limiter)
	})
}

// BlofinClient talks to the BloFin v1 futures API.
type BlofinClient struct {
	creds   Credentials
	limiter ratelimit.Limiter
	http    *resty.Client
}

func NewBlofinClient(creds Credentials, limiter ratelimit.Limiter) *BlofinClient {
	return &BlofinClient{
		creds:   creds,
		limiter: limiter,
		http: resty.New().
			SetBaseURL(blofinBaseURL).
			SetTimeout(15 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (c *BlofinClient) SetBaseURL(u string) { c.http.SetBaseURL(u) }

func (c *BlofinClient) Name() string { return "blofin" }

// sign produces ACCESS-SIGN: base64(hex(hmac-sha256(secret,
// path + method + timestamp + nonce + body))).
func (c *BlofinClient) sign(path, method, ts, nonce, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(path + method + ts + nonce + body))
	hexSum := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(hexSum))
}

func (c *BlofinClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	// Signature and wire URI must agree byte for byte; encode the query
	// once and hand the same string to both.
	qs := encodeQuery(query)
	fullPath := path
	if qs != "" {
		fullPath = path + "?" + qs
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := uuid.NewString()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(qs).
		SetHeader("ACCESS-KEY", c.creds.APIKey).
		SetHeader("ACCESS-SIGN", c.sign(fullPath, "GET", ts, nonce, "")).
		SetHeader("ACCESS-TIMESTAMP", ts).
		SetHeader("ACCESS-NONCE", nonce).
		SetHeader("ACCESS-PASSPHRASE", c.creds.Passphrase).
		Get(path)
	if err != nil {
		return &APIError{Exchange: "blofin", Message: err.Error()}
	}
	if resp.StatusCode() >= 400 {
		return &APIError{
			Exchange: "blofin",
			Code:     strconv.Itoa(resp.StatusCode()),
			Message:  string(resp.Body()),
		}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrap(err, "blofin: decode response")
	}
	return nil
}

type blofinEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *blofinEnvelope) err() error {
	if e.Code != "" && e.Code != "0" {
		return &APIError{Exchange: "blofin", Code: e.Code, Message: e.Msg}
	}
	return nil
}

type blofinFill struct {
	TradeID      string `json:"tradeId"`
	OrderID      string `json:"orderId"`
	InstID       string `json:"instId"`
	Side         string `json:"side"`
	PositionSide string `json:"positionSide"`
	FillPrice    string `json:"fillPrice"`
	FillSize     string `json:"fillSize"`
	FillPnl      string `json:"fillPnl"`
	Ts           string `json:"ts"`
}

func (c *BlofinClient) FetchTrades(ctx context.Context, req FetchTradesRequest) (*FetchTradesResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := map[string]string{"limit": strconv.Itoa(limit)}
	if req.StartTime > 0 {
		query["begin"] = strconv.FormatInt(req.StartTime, 10)
	}
	if req.EndTime > 0 {
		query["end"] = strconv.FormatInt(req.EndTime, 10)
	}
	if req.Symbol != "" {
		query["instId"] = req.Symbol
	}
	if req.Cursor != "" {
		query["after"] = req.Cursor
	}

	var env blofinEnvelope
	if err := c.get(ctx, "/api/v1/trade/fills-history", query, &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	var fills []blofinFill
	if err := json.Unmarshal(env.Data, &fills); err != nil {
		return nil, errors.Wrap(err, "blofin: decode fills")
	}

	out := &FetchTradesResponse{}
	for _, f := range fills {
		trade, err := f.toRawTrade()
		if err != nil {
			return nil, errors.Wrapf(err, "blofin: fill %s", f.TradeID)
		}
		out.Trades = append(out.Trades, trade)
	}
	// BloFin pages by trade id, oldest last.
	if len(fills) == limit {
		out.NextCursor = fills[len(fills)-1].TradeID
	}
	return out, nil
}

func (f blofinFill) toRawTrade() (RawTrade, error) {
	qty, err := parseDecimal(f.FillSize)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad fillSize %q: %w", f.FillSize, err)
	}
	price, err := parseDecimal(f.FillPrice)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad fillPrice %q: %w", f.FillPrice, err)
	}
	pnl, err := parseDecimal(f.FillPnl)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad fillPnl %q: %w", f.FillPnl, err)
	}
	ts, err := strconv.ParseInt(f.Ts, 10, 64)
	if err != nil {
		return RawTrade{}, fmt.Errorf("bad ts %q: %w", f.Ts, err)
	}
	t := RawTrade{
		ExchangeTradeID: f.TradeID,
		ExchangeOrderID: f.OrderID,
		Symbol:          strings.ReplaceAll(f.InstID, "-", ""),
		Side:            strings.ToLower(f.Side),
		PositionSide:    strings.ToUpper(f.PositionSide),
		Quantity:        qty,
		EntryPrice:      price,
		PnL:             pnl,
		Timestamp:       ts,
	}
	if pnl != 0 {
		exit := price
		closeTS := ts
		t.ExitPrice = &exit
		t.CloseTimestamp = &closeTS
	}
	return t, nil
}

type blofinPendingOrder struct {
	OrderID      string  `json:"orderId"`
	InstID       string  `json:"instId"`
	Side         string  `json:"side"`
	PositionSide string  `json:"positionSide"`
	OrderType    string  `json:"orderType"`
	Price        string  `json:"price"`
	Size         string  `json:"size"`
	FilledSize   string  `json:"filledSize"`
	State        string  `json:"state"`
	Leverage     string  `json:"leverage"`
	CreateTime   string  `json:"createTime"`
	UpdateTime   *string `json:"updateTime"`
}

func (c *BlofinClient) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := map[string]string{}
	if symbol != "" {
		query["instId"] = symbol
	}

	var env blofinEnvelope
	if err := c.get(ctx, "/api/v1/trade/orders-pending", query, &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	var pending []blofinPendingOrder
	if err := json.Unmarshal(env.Data, &pending); err != nil {
		return nil, errors.Wrap(err, "blofin: decode pending orders")
	}

	out := make([]OpenOrder, 0, len(pending))
	for _, o := range pending {
		createdAt, _ := strconv.ParseInt(o.CreateTime, 10, 64)
		order := OpenOrder{
			OrderID:      o.OrderID,
			Symbol:       o.InstID,
			Side:         o.Side,
			OrderType:    o.OrderType,
			Price:        o.Price,
			Size:         o.Size,
			FilledSize:   o.FilledSize,
			Status:       o.State,
			PositionSide: strings.ToUpper(o.PositionSide),
			Leverage:     o.Leverage,
			CreatedAt:    createdAt,
		}
		if o.UpdateTime != nil {
			if u, err := strconv.ParseInt(*o.UpdateTime, 10, 64); err == nil {
				order.UpdatedAt = &u
			}
		}
		out = append(out, order)
	}
	return out, nil
}

func (c *BlofinClient) TestCredentials(ctx context.Context) (bool, error) {
	var env blofinEnvelope
	if err := c.get(ctx, "/api/v1/account/balance", nil, &env); err != nil {
		return false, err
	}
	if err := env.err(); err != nil {
		return false, err
	}
	return true, nil
}
