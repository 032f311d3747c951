package usecase

import (
	"context"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/binance"
	applogger "SignalFuse/pkg/logger"
)

// oldest candles are dropped past this many unsaved bars
const maxPendingCandles = 5000

// PriceObserver accepts streamed last prices.
type PriceObserver interface {
	ObservePrice(symbol string, price float64)
}

// CandleCollector feeds the kline stream into the price cache and stores
// closed bars in batches.
type CandleCollector struct {
	stream   *binance.Stream
	store    domrepo.CandleStore
	prices   PriceObserver
	metrics  domrepo.Metrics
	log      *applogger.Logger
	batchSz  int
	batchTO  time.Duration
	mu       sync.Mutex
	pending  []models.Candle
	lastSave time.Time
}

func NewCandleCollector(stream *binance.Stream, store domrepo.CandleStore, prices PriceObserver, metrics domrepo.Metrics, log *applogger.Logger, batchSz int, batchTO time.Duration) *CandleCollector {
	if batchSz < 1 {
		batchSz = 1
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &CandleCollector{stream: stream, store: store, prices: prices, metrics: metrics, log: log, batchSz: batchSz, batchTO: batchTO, lastSave: time.Now()}
}

// Start runs the stream in the background until ctx ends. Pending candles
// are flushed on the way out.
func (c *CandleCollector) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err := c.stream.Run(ctx, c.Handle)
		if ferr := c.Flush(context.WithoutCancel(ctx)); ferr != nil {
			c.log.Error("flush candles on shutdown", applogger.Error(ferr))
		}
		if err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Handle processes one kline update.
func (c *CandleCollector) Handle(ctx context.Context, k models.Candle) {
	if c.prices != nil {
		c.prices.ObservePrice(k.Symbol, k.Close)
	}
	if c.metrics != nil {
		c.metrics.RecordLastPrice(k.Symbol, k.Close)
	}
	if !k.Closed || c.store == nil {
		return
	}

	c.mu.Lock()
	c.pending = append(c.pending, k)
	due := len(c.pending) >= c.batchSz || time.Since(c.lastSave) >= c.batchTO
	c.mu.Unlock()
	if due {
		if err := c.Flush(ctx); err != nil {
			c.log.Error("store candles", applogger.Error(err))
		}
	}
}

// Flush writes pending candles. Failed batches are kept for the next flush.
func (c *CandleCollector) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 || c.store == nil {
		return nil
	}

	start := time.Now()
	if err := c.store.StoreCandles(ctx, batch); err != nil {
		c.mu.Lock()
		c.pending = append(batch, c.pending...)
		if over := len(c.pending) - maxPendingCandles; over > 0 {
			c.pending = c.pending[over:]
		}
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordError("candle_store")
		}
		return err
	}
	c.mu.Lock()
	c.lastSave = time.Now()
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordLatency("candle_store", time.Since(start).Seconds())
	}
	return nil
}
