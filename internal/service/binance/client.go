package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/cache"
	"SignalFuse/internal/service/ratelimit"
	applogger "SignalFuse/pkg/logger"
)

// ErrDisabled is returned by SubmitOrder when live trading has no credentials.
var ErrDisabled = errors.New("binance: api credentials missing")

// Config holds the futures REST client settings.
type Config struct {
	BaseURL        string
	APIKey         string
	SecretKey      string
	Timeout        time.Duration
	RequestsPerMin int
	PriceTTL       time.Duration
	DryRun         bool
}

// Client implements the Exchange port against Binance USDT-M futures.
// Last prices pushed by the kline stream are served from the price cache
// until they age out.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *ratelimit.Limiter
	prices  *cache.TTLCache[float64]
	l       *applogger.Logger
	now     func() time.Time
}

func NewClient(cfg Config, prices *cache.TTLCache[float64], l *applogger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 1200
	}
	if prices == nil {
		prices = cache.NewTTLCache[float64]()
	}
	if l == nil {
		l = applogger.NewNop()
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		h.SetHeader("X-MBX-APIKEY", cfg.APIKey)
	}
	return &Client{
		cfg:     cfg,
		http:    h,
		limiter: ratelimit.New(),
		prices:  prices,
		l:       l,
		now:     time.Now,
	}
}

// Prices exposes the last-price cache so the stream can feed it.
func (c *Client) Prices() *cache.TTLCache[float64] { return c.prices }

// ObservePrice records a streamed last price.
func (c *Client) ObservePrice(symbol string, price float64) {
	c.prices.Set(symbol, price, c.cfg.PriceTTL)
}

func (c *Client) wait(ctx context.Context) error {
	perMin := float64(c.cfg.RequestsPerMin)
	return c.limiter.Wait(ctx, "binance:rest", perMin/10, perMin/60)
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("binance %s: %w", op, err)
	}
	if resp.IsError() {
		var ae apiError
		if json.Unmarshal(resp.Body(), &ae) == nil && ae.Msg != "" {
			return fmt.Errorf("binance %s: status %d code %d: %s", op, resp.StatusCode(), ae.Code, ae.Msg)
		}
		return fmt.Errorf("binance %s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

// CurrentPrice returns the streamed price when fresh, otherwise the ticker.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := c.prices.Get(symbol); ok {
		return p, nil
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/fapi/v1/ticker/price")
	if err := c.check(resp, err, "ticker price"); err != nil {
		return 0, err
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return 0, fmt.Errorf("binance ticker price: parse %q: %w", out.Price, err)
	}
	f := price.InexactFloat64()
	c.prices.Set(symbol, f, c.cfg.PriceTTL)
	return f, nil
}

// PriceHistory fetches the latest limit klines, oldest first.
func (c *Client) PriceHistory(ctx context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Candle, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": string(interval),
			"limit":    strconv.Itoa(limit),
		}).
		Get("/fapi/v1/klines")
	if err := c.check(resp, err, "klines"); err != nil {
		return nil, err
	}
	var raw [][]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("binance klines: decode: %w", err)
	}
	out := make([]models.Candle, 0, len(raw))
	for _, r := range raw {
		candle, err := parseKline(symbol, string(interval), r)
		if err != nil {
			return nil, fmt.Errorf("binance klines: %w", err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseKline(symbol, interval string, r []json.RawMessage) (models.Candle, error) {
	if len(r) < 7 {
		return models.Candle{}, fmt.Errorf("kline has %d fields", len(r))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(r[0], &openMs); err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(r[6], &closeMs); err != nil {
		return models.Candle{}, fmt.Errorf("close time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(r[i+1], &s); err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = d.InexactFloat64()
	}
	closeTime := time.UnixMilli(closeMs).UTC()
	return models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: closeTime,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Closed:    !closeTime.After(time.Now()),
	}, nil
}

// SubmitOrder places a market order. In dry-run mode nothing is sent and a
// synthetic fill is returned.
func (c *Client) SubmitOrder(ctx context.Context, symbol string, side models.Action, quantity float64) (*models.OrderAck, error) {
	if side != models.ActionBuy && side != models.ActionSell {
		return nil, fmt.Errorf("binance order: invalid side %q", side)
	}
	qty := decimal.NewFromFloat(quantity).Round(3)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("binance order: quantity %v rounds to zero", quantity)
	}
	if c.cfg.DryRun {
		ack := &models.OrderAck{
			OrderID:  "dry-" + uuid.NewString(),
			Symbol:   symbol,
			Side:     side,
			Quantity: qty.InexactFloat64(),
			Status:   "FILLED",
			Time:     c.now().UTC(),
		}
		c.l.Info("dry-run order", applogger.String("symbol", symbol), applogger.String("side", string(side)),
			applogger.Float64("quantity", ack.Quantity))
		return ack, nil
	}
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return nil, ErrDisabled
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	params.Set("newOrderRespType", "RESULT")
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()
	body := query + "&signature=" + sign(c.cfg.SecretKey, query)

	var out struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		UpdateTime  int64  `json:"updateTime"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		SetResult(&out).
		Post("/fapi/v1/order")
	if err := c.check(resp, err, "order"); err != nil {
		return nil, err
	}
	filled := qty.InexactFloat64()
	if d, err := decimal.NewFromString(out.ExecutedQty); err == nil && d.IsPositive() {
		filled = d.InexactFloat64()
	}
	return &models.OrderAck{
		OrderID:  strconv.FormatInt(out.OrderID, 10),
		Symbol:   out.Symbol,
		Side:     side,
		Quantity: filled,
		Status:   out.Status,
		Time:     time.UnixMilli(out.UpdateTime).UTC(),
	}, nil
}

// sign returns the hex HMAC-SHA256 of the encoded query.
func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
