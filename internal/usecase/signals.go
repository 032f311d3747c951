package usecase

import (
	"context"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	domsvc "SignalFuse/internal/domain/service"
	"SignalFuse/internal/services/features"
	"SignalFuse/internal/services/risk"
	applogger "SignalFuse/pkg/logger"
)

// liquidity fallback reads this many candles of the risk interval
const liquidityCandles = 50

// GatherResult is one symbol's signal snapshot plus per-signal failures.
type GatherResult struct {
	Symbol  string
	Signals models.SignalSet
	Errors  map[string]string
}

// SignalGatherer fetches every model signal for a symbol in parallel.
// A failing signal is left out of the set and fusion treats it as absent.
type SignalGatherer struct {
	source   domsvc.SignalSource
	history  risk.PriceHistory
	interval domrepo.Interval
	timeout  time.Duration
	log      *applogger.Logger
	metrics  domrepo.Metrics
}

func NewSignalGatherer(source domsvc.SignalSource, history risk.PriceHistory, interval domrepo.Interval, timeout time.Duration, log *applogger.Logger, metrics domrepo.Metrics) *SignalGatherer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &SignalGatherer{source: source, history: history, interval: interval, timeout: timeout, log: log, metrics: metrics}
}

func (g *SignalGatherer) Gather(ctx context.Context, symbol string) GatherResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res := GatherResult{Symbol: symbol, Signals: models.SignalSet{}, Errors: map[string]string{}}

	type item struct {
		name string
		sig  models.Signal
		err  error
	}
	ch := make(chan item, len(models.DiscreteSignals)+len(models.ContinuousSignals))
	var wg sync.WaitGroup

	for _, name := range []string{models.SignalLSTM, models.SignalXGB, models.SignalTechnical} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			a, err := g.source.Signal(ctx, name, symbol)
			ch <- item{name, models.Discrete(a), err}
		}(name)
	}
	for name := range models.ContinuousSignals {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			v, err := g.source.Score(ctx, name, symbol)
			if err != nil && name == models.SignalLiquidity {
				v, err = g.liquidityFromCandles(ctx, symbol, err)
			}
			ch <- item{name, models.Continuous(v), err}
		}(name)
	}

	go func() { wg.Wait(); close(ch) }()

	for it := range ch {
		if it.err != nil {
			res.Errors[it.name] = it.err.Error()
			continue
		}
		res.Signals[it.name] = it.sig
	}

	if len(res.Errors) > 0 {
		g.log.Warn("signals unavailable", applogger.String("symbol", symbol), applogger.Any("errors", res.Errors))
		if g.metrics != nil {
			g.metrics.RecordError("signals")
		}
	} else {
		res.Errors = nil
	}
	return res
}

func (g *SignalGatherer) liquidityFromCandles(ctx context.Context, symbol string, cause error) (float64, error) {
	if g.history == nil {
		return 0, cause
	}
	candles, err := g.history.PriceHistory(ctx, symbol, g.interval, liquidityCandles)
	if err != nil {
		return 0, cause
	}
	return features.LiquidityScore(candles), nil
}
