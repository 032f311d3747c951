package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"SignalFuse/internal/domain/models"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/retry"
)

// KlineHandler receives every kline update; Closed marks the final one of a bar.
type KlineHandler func(ctx context.Context, c models.Candle)

// Stream subscribes to the combined kline stream for a set of symbols and
// reconnects with backoff until its context ends.
type Stream struct {
	url            string
	symbols        []string
	interval       string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	l              *applogger.Logger
}

func NewStream(streamURL string, symbols []string, interval string, reconnectDelay time.Duration, l *applogger.Logger) *Stream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Stream{
		url:            streamURL,
		symbols:        symbols,
		interval:       interval,
		reconnectDelay: reconnectDelay,
		pingInterval:   time.Minute,
		dialer:         websocket.DefaultDialer,
		l:              l,
	}
}

// URL builds the combined stream address.
func (s *Stream) URL() string {
	names := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		names[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), s.interval)
	}
	return s.url + "?streams=" + strings.Join(names, "/")
}

// Run blocks until ctx ends.
func (s *Stream) Run(ctx context.Context, handle KlineHandler) error {
	for attempt := 1; ; attempt++ {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		delay := retry.Backoff(s.reconnectDelay, 12*s.reconnectDelay, attempt)
		s.l.Warn("kline stream disconnected",
			applogger.Error(err), applogger.Int("attempt", attempt), applogger.Duration("retry_in_ms", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *Stream) session(ctx context.Context, handle KlineHandler) error {
	conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	s.l.Info("kline stream connected", applogger.Strings("symbols", s.symbols))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		candle, ok, err := decodeKline(b)
		if err != nil {
			s.l.Debug("kline stream: skipping frame", applogger.Error(err))
			continue
		}
		if ok {
			handle(ctx, candle)
		}
	}
}

type klineEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Closed    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func decodeKline(b []byte) (models.Candle, bool, error) {
	var env klineEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.Candle{}, false, err
	}
	if env.Data.Event != "kline" {
		return models.Candle{}, false, nil
	}
	k := env.Data.Kline
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, false, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return models.Candle{
		Symbol:    env.Data.Symbol,
		Interval:  k.Interval,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Closed:    k.Closed,
	}, true, nil
}
