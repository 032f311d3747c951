package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	domsvc "SignalFuse/internal/domain/service"
	"SignalFuse/internal/service/notify"
	"SignalFuse/internal/services/risk"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/retry"
)

// Reconciliation policies applied when the price feed stays down.
const (
	PolicyAlert   = "alert"
	PolicyFlatten = "flatten"
)

// ErrMonitorAborted means the monitor gave up on a trade it could not price.
// The trade is left open and marked orphaned.
var ErrMonitorAborted = errors.New("monitor aborted: price unavailable")

// Learner folds a closed trade into an online model.
type Learner interface {
	Learn(ctx context.Context, t models.ClosedTrade) error
}

type MonitorConfig struct {
	PollInterval    time.Duration
	MaxFetchRetries int
	BackoffMin      time.Duration
	BackoffMax      time.Duration
	OnFailure       string
}

// Monitor watches one open trade at a time until it exits. It is safe to
// run many trades through one Monitor concurrently.
type Monitor struct {
	cfg       MonitorConfig
	exchange  domrepo.Exchange
	source    domsvc.SignalSource
	trades    domrepo.TradeStore
	publisher domrepo.EventPublisher
	notifier  domrepo.Notifier
	history   *risk.TradeHistory
	learner   Learner
	log       *applogger.Logger
	metrics   domrepo.Metrics
	now       func() time.Time
}

func NewMonitor(
	cfg MonitorConfig,
	exchange domrepo.Exchange,
	source domsvc.SignalSource,
	trades domrepo.TradeStore,
	publisher domrepo.EventPublisher,
	notifier domrepo.Notifier,
	history *risk.TradeHistory,
	learner Learner,
	log *applogger.Logger,
	metrics domrepo.Metrics,
) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxFetchRetries < 1 {
		cfg.MaxFetchRetries = 1
	}
	if cfg.OnFailure == "" {
		cfg.OnFailure = PolicyAlert
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Monitor{
		cfg:       cfg,
		exchange:  exchange,
		source:    source,
		trades:    trades,
		publisher: publisher,
		notifier:  notifier,
		history:   history,
		learner:   learner,
		log:       log,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ExitReason returns the exit condition met at price, checking take-profit
// before stop-loss. It returns "" while the trade should stay open.
func ExitReason(t models.OpenTrade, price float64) string {
	switch t.Direction {
	case models.ActionBuy:
		if price >= t.TakeProfit {
			return models.ExitTakeProfit
		}
		if price <= t.StopLoss {
			return models.ExitStopLoss
		}
	case models.ActionSell:
		if price <= t.TakeProfit {
			return models.ExitTakeProfit
		}
		if price >= t.StopLoss {
			return models.ExitStopLoss
		}
	}
	return ""
}

// Run polls until the trade closes, ctx ends, or the price feed fails
// past the retry budget.
func (m *Monitor) Run(ctx context.Context, t models.OpenTrade) (*models.ClosedTrade, error) {
	log := m.log.With(applogger.String("trade_id", t.ID), applogger.String("symbol", t.Symbol))
	log.Info("monitor started",
		applogger.String("direction", string(t.Direction)),
		applogger.Float64("entry", t.EntryPrice),
		applogger.Float64("stop_loss", t.StopLoss),
		applogger.Float64("take_profit", t.TakeProfit))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	last := t.EntryPrice
	for {
		select {
		case <-ctx.Done():
			log.Info("monitor cancelled")
			return nil, ctx.Err()
		case <-ticker.C:
		}

		price, err := m.fetchPrice(ctx, t.Symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return m.reconcile(ctx, t, last, err)
		}
		last = price

		reason := ExitReason(t, price)
		if reason == "" && m.reversed(ctx, t) {
			reason = models.ExitReversal
		}
		if reason == "" {
			continue
		}
		closed := m.close(ctx, t, price, reason)
		return &closed, nil
	}
}

func (m *Monitor) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := retry.Do(ctx, m.cfg.MaxFetchRetries, m.cfg.BackoffMin, m.cfg.BackoffMax, func(ctx context.Context) error {
		p, err := m.exchange.CurrentPrice(ctx, symbol)
		if err != nil {
			m.log.Debug("price fetch failed", applogger.String("symbol", symbol), applogger.Error(err))
			return err
		}
		price = p
		return nil
	})
	return price, err
}

// reversed reports whether lstm or xgb now points against the held
// direction. A signal that cannot be fetched does not count.
func (m *Monitor) reversed(ctx context.Context, t models.OpenTrade) bool {
	if m.source == nil {
		return false
	}
	against := t.Direction.Opposite()
	for _, name := range []string{models.SignalLSTM, models.SignalXGB} {
		a, err := m.source.Signal(ctx, name, t.Symbol)
		if err != nil {
			continue
		}
		if a == against {
			return true
		}
	}
	return false
}

func (m *Monitor) exitState(ctx context.Context, symbol string) models.StateKey {
	if m.source == nil {
		return models.DefaultState
	}
	tech, err := m.source.Signal(ctx, models.SignalTechnical, symbol)
	if err != nil {
		return models.DefaultState
	}
	sent, err := m.source.Score(ctx, models.SignalSentiment, symbol)
	if err != nil {
		return models.DefaultState
	}
	return models.NewStateKey(string(tech), sent)
}

// close submits the closing order and records the outcome everywhere. Only
// the order and the bookkeeping can fail here, and both are logged.
func (m *Monitor) close(ctx context.Context, t models.OpenTrade, price float64, reason string) models.ClosedTrade {
	ctx = context.WithoutCancel(ctx)
	now := m.now()
	closed := models.ClosedTrade{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Direction:  t.Direction,
		EntryPrice: t.EntryPrice,
		ExitPrice:  price,
		Quantity:   t.Quantity,
		PnL:        t.PnL(price),
		Duration:   now.Sub(t.OpenedAt),
		ExitReason: reason,
		OpenedAt:   t.OpenedAt,
		ClosedAt:   now,
		EntryState: t.EntryState,
		ExitState:  m.exitState(ctx, t.Symbol),
	}

	if reason != models.ExitFlattened {
		m.submitClose(ctx, t)
	}
	m.record(ctx, closed)
	return closed
}

func (m *Monitor) submitClose(ctx context.Context, t models.OpenTrade) error {
	_, err := m.exchange.SubmitOrder(ctx, t.Symbol, t.Direction.Opposite(), t.Quantity)
	if m.metrics != nil {
		m.metrics.RecordOrder(t.Symbol, t.Direction.Opposite(), err == nil)
	}
	if err != nil {
		m.log.Error("closing order failed", applogger.String("trade_id", t.ID), applogger.Error(err))
	}
	return err
}

func (m *Monitor) record(ctx context.Context, c models.ClosedTrade) {
	log := m.log.With(applogger.String("trade_id", c.ID), applogger.String("symbol", c.Symbol))
	log.Info("trade closed",
		applogger.String("reason", c.ExitReason),
		applogger.Float64("exit", c.ExitPrice),
		applogger.Float64("pnl", c.PnL),
		applogger.Duration("held", c.Duration))

	if m.trades != nil {
		if err := m.trades.SaveClosedTrade(ctx, &c); err != nil {
			log.Error("persist closed trade", applogger.Error(err))
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishClosedTrade(ctx, &c); err != nil {
			log.Warn("publish closed trade", applogger.Error(err))
		}
	}
	notify.BestEffort(ctx, m.notifier, log, notify.TradeClosed(c))
	if m.history != nil {
		m.history.Record(c.PnL)
	}
	if m.learner != nil {
		if err := m.learner.Learn(ctx, c); err != nil {
			log.Warn("rl learn from trade", applogger.Error(err))
		}
	}
	if m.metrics != nil {
		m.metrics.RecordClosedTrade(c.Symbol, c.ExitReason, c.PnL)
	}
}

// reconcile applies the configured policy once the price feed is exhausted.
func (m *Monitor) reconcile(ctx context.Context, t models.OpenTrade, last float64, cause error) (*models.ClosedTrade, error) {
	m.log.Error("price feed exhausted",
		applogger.String("trade_id", t.ID),
		applogger.String("symbol", t.Symbol),
		applogger.String("policy", m.cfg.OnFailure),
		applogger.Error(cause))
	if m.metrics != nil {
		m.metrics.RecordMonitorFailure(t.Symbol, m.cfg.OnFailure)
	}

	if m.cfg.OnFailure == PolicyFlatten {
		nctx := context.WithoutCancel(ctx)
		if err := m.submitClose(nctx, t); err == nil {
			closed := m.close(nctx, t, last, models.ExitFlattened)
			return &closed, nil
		}
	}

	notify.BestEffort(context.WithoutCancel(ctx), m.notifier, m.log, notify.MonitorFailed(t, m.cfg.OnFailure, cause))
	return nil, fmt.Errorf("%w: %s %s: %v", ErrMonitorAborted, t.Symbol, t.ID, cause)
}

// TrackedTrade is an open trade as seen by the registry.
type TrackedTrade struct {
	models.OpenTrade
	Orphaned bool   `json:"orphaned"`
	Error    string `json:"error,omitempty"`
}

type tracked struct {
	trade    models.OpenTrade
	cancel   context.CancelFunc
	orphaned bool
	err      string
}

// Registry owns the running monitors. Each open trade has exactly one.
type Registry struct {
	monitor *Monitor
	metrics domrepo.Metrics
	log     *applogger.Logger

	mu       sync.Mutex
	trades   map[string]*tracked
	reserved map[string]bool
	wg       sync.WaitGroup
	closing  bool
}

func NewRegistry(monitor *Monitor, log *applogger.Logger, metrics domrepo.Metrics) *Registry {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Registry{monitor: monitor, metrics: metrics, log: log, trades: make(map[string]*tracked), reserved: make(map[string]bool)}
}

// Reserve claims symbol for one cycle. It fails while another cycle holds
// the symbol or a trade on it is tracked. A trade tracked before release
// keeps the symbol busy after the reservation is dropped.
func (r *Registry) Reserve(symbol string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing || r.reserved[symbol] || r.hasOpenLocked(symbol) {
		return nil, false
	}
	r.reserved[symbol] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.reserved, symbol)
			r.mu.Unlock()
		})
	}, true
}

// Track starts monitoring t under ctx. The returned channel receives the
// closed trade (nil when the monitor stops without closing) and is then closed.
func (r *Registry) Track(ctx context.Context, t models.OpenTrade) (<-chan *models.ClosedTrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, fmt.Errorf("registry is shutting down")
	}
	if _, ok := r.trades[t.ID]; ok {
		return nil, fmt.Errorf("trade %s already tracked", t.ID)
	}
	mctx, cancel := context.WithCancel(ctx)
	entry := &tracked{trade: t, cancel: cancel}
	r.trades[t.ID] = entry
	r.setGauge()

	done := make(chan *models.ClosedTrade, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		defer cancel()

		closed, err := r.monitor.Run(mctx, t)

		r.mu.Lock()
		switch {
		case errors.Is(err, ErrMonitorAborted):
			entry.orphaned = true
			entry.err = err.Error()
		case err != nil && !r.closing:
			// cancelled from outside without shutdown: forget the trade
			delete(r.trades, t.ID)
		case err == nil:
			delete(r.trades, t.ID)
		}
		r.setGauge()
		r.mu.Unlock()

		done <- closed
	}()
	return done, nil
}

func (r *Registry) setGauge() {
	if r.metrics != nil {
		r.metrics.SetOpenTrades(len(r.trades))
	}
}

// HasOpen reports whether symbol has a trade in flight, orphaned ones included.
func (r *Registry) HasOpen(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasOpenLocked(symbol)
}

func (r *Registry) hasOpenLocked(symbol string) bool {
	for _, e := range r.trades {
		if e.trade.Symbol == symbol {
			return true
		}
	}
	return false
}

// Open lists tracked trades ordered by open time.
func (r *Registry) Open() []TrackedTrade {
	r.mu.Lock()
	out := make([]TrackedTrade, 0, len(r.trades))
	for _, e := range r.trades {
		out = append(out, TrackedTrade{OpenTrade: e.trade, Orphaned: e.orphaned, Error: e.err})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Resolve drops an orphaned trade once an operator has reconciled it.
func (r *Registry) Resolve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.trades[id]
	if !ok || !e.orphaned {
		return false
	}
	delete(r.trades, id)
	r.setGauge()
	return true
}

// Shutdown cancels every monitor and waits for them to return.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	for _, e := range r.trades {
		e.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() { r.wg.Wait(); close(done) }()
	select {
	case <-done:
		r.log.Info("monitors stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for monitors: %w", ctx.Err())
	}
}
