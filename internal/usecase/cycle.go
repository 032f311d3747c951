package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	domsvc "SignalFuse/internal/domain/service"
	"SignalFuse/internal/service/notify"
	"SignalFuse/internal/services/fusion"
	"SignalFuse/internal/services/risk"
	applogger "SignalFuse/pkg/logger"
)

// Predictor is the read-only side of the RL advisor.
type Predictor interface {
	Predict(s models.StateKey) models.Action
}

type CycleConfig struct {
	ConfidenceThreshold float64
	BlockOnManipulation bool
}

// Outcome describes what one cycle did for a symbol.
type Outcome struct {
	Symbol   string              `json:"symbol"`
	Result   models.FusionResult `json:"result"`
	Signals  models.SignalSet    `json:"signals,omitempty"`
	Plan     *models.OrderPlan   `json:"plan,omitempty"`
	Trade    *models.OpenTrade   `json:"trade,omitempty"`
	Executed bool                `json:"executed"`
	Skipped  string              `json:"skipped,omitempty"`
}

// Cycle runs one decide-and-execute pass per symbol.
type Cycle struct {
	cfg       CycleConfig
	gatherer  *SignalGatherer
	agent     Predictor
	weights   domrepo.WeightStore
	engine    *fusion.Engine
	advisor   domsvc.Advisor
	risk      *risk.Manager
	exchange  domrepo.Exchange
	registry  *Registry
	decisions domrepo.DecisionStore
	publisher domrepo.EventPublisher
	notifier  domrepo.Notifier
	log       *applogger.Logger
	metrics   domrepo.Metrics
	now       func() time.Time
}

func NewCycle(
	cfg CycleConfig,
	gatherer *SignalGatherer,
	agent Predictor,
	weights domrepo.WeightStore,
	engine *fusion.Engine,
	advisor domsvc.Advisor,
	riskManager *risk.Manager,
	exchange domrepo.Exchange,
	registry *Registry,
	decisions domrepo.DecisionStore,
	publisher domrepo.EventPublisher,
	notifier domrepo.Notifier,
	log *applogger.Logger,
	metrics domrepo.Metrics,
) *Cycle {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Cycle{
		cfg:       cfg,
		gatherer:  gatherer,
		agent:     agent,
		weights:   weights,
		engine:    engine,
		advisor:   advisor,
		risk:      riskManager,
		exchange:  exchange,
		registry:  registry,
		decisions: decisions,
		publisher: publisher,
		notifier:  notifier,
		log:       log,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run gathers fresh signals for symbol and runs the cycle on them.
func (c *Cycle) Run(ctx context.Context, symbol string) Outcome {
	if c.registry != nil && c.registry.HasOpen(symbol) {
		return c.skip(symbol, "open trade")
	}
	g := c.gatherer.Gather(ctx, symbol)
	return c.RunWithSignals(ctx, symbol, g.Signals)
}

func (c *Cycle) skip(symbol, reason string) Outcome {
	c.log.Debug("cycle skipped", applogger.String("symbol", symbol), applogger.String("reason", reason))
	return Outcome{Symbol: symbol, Result: models.HoldResult(), Skipped: reason}
}

// RunWithSignals fuses a given snapshot and acts on it. The RL vote is
// added when the snapshot does not carry one.
//
// The symbol stays reserved until the cycle returns, so concurrent cycles on
// one symbol never both reach the exchange.
func (c *Cycle) RunWithSignals(ctx context.Context, symbol string, snapshot models.SignalSet) Outcome {
	if c.registry != nil {
		release, ok := c.registry.Reserve(symbol)
		if !ok {
			return c.skip(symbol, "symbol busy")
		}
		defer release()
	}
	start := time.Now()
	log := c.log.With(applogger.String("symbol", symbol))

	signals := snapshot.Clone()
	state := models.StateFromSignals(signals)
	if _, ok := signals[models.SignalRL]; !ok && c.agent != nil {
		signals[models.SignalRL] = models.Discrete(c.agent.Predict(state))
	}

	weights := models.DefaultWeightSet()
	if c.weights != nil {
		w, err := c.weights.LoadWeights(ctx)
		if err != nil {
			log.Warn("weights unavailable, using defaults", applogger.Error(err))
		} else {
			weights = w
		}
	}

	res := c.engine.Fuse(ctx, signals, weights, c.advisor)
	out := Outcome{Symbol: symbol, Result: res, Signals: signals}
	if c.metrics != nil {
		c.metrics.RecordDecision(symbol, res.Action, res.Confidence)
	}
	log.Info("decision",
		applogger.String("action", string(res.Action)),
		applogger.Float64("confidence", res.Confidence),
		applogger.Any("scores", res.Scores))

	if res.Action != models.ActionHold && res.Confidence >= c.cfg.ConfidenceThreshold {
		c.execute(ctx, &out, state, log)
	}

	rec := models.NewDecisionRecord(c.now().UTC(), symbol, signals, res, out.Executed)
	if c.decisions != nil {
		if err := c.decisions.SaveDecision(ctx, &rec); err != nil {
			log.Error("persist decision", applogger.Error(err))
		}
	}
	if c.publisher != nil {
		if err := c.publisher.PublishDecision(ctx, &rec); err != nil {
			log.Warn("publish decision", applogger.Error(err))
		}
	}
	if res.Action != models.ActionHold && !out.Executed {
		notify.BestEffort(ctx, c.notifier, log, notify.Decision(symbol, res, false))
	}
	if c.metrics != nil {
		c.metrics.RecordLatency("cycle", time.Since(start).Seconds())
	}
	return out
}

func (c *Cycle) execute(ctx context.Context, out *Outcome, state models.StateKey, log *applogger.Logger) {
	symbol, res := out.Symbol, out.Result

	price, err := c.exchange.CurrentPrice(ctx, symbol)
	if err != nil {
		log.Error("price unavailable, not executing", applogger.Error(err))
		if c.metrics != nil {
			c.metrics.RecordError("price")
		}
		return
	}

	vol := c.risk.MeasureVolatility(ctx, symbol)
	plan := c.risk.SizeAndBracket(symbol, res.Action, res.Confidence,
		out.Signals.Float(models.SignalSentiment, models.ContinuousSignals[models.SignalSentiment]),
		out.Signals.Float(models.SignalLiquidity, models.ContinuousSignals[models.SignalLiquidity]),
		price, vol)
	if plan == nil {
		return
	}
	out.Plan = plan
	if plan.Manipulated && c.cfg.BlockOnManipulation {
		log.Warn("order blocked on manipulation flag", applogger.Float64("volatility", vol))
		return
	}
	if plan.Quantity <= 0 {
		log.Warn("order quantity not positive", applogger.Float64("quantity", plan.Quantity))
		return
	}

	ack, err := c.exchange.SubmitOrder(ctx, symbol, plan.Side, plan.Quantity)
	if c.metrics != nil {
		c.metrics.RecordOrder(symbol, plan.Side, err == nil)
	}
	if err != nil {
		log.Error("order rejected", applogger.Error(err))
		return
	}

	trade := models.OpenTrade{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  plan.Side,
		EntryPrice: plan.EntryPrice,
		Quantity:   ack.Quantity,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		OpenedAt:   c.now().UTC(),
		EntryState: state,
	}
	if trade.Quantity <= 0 {
		trade.Quantity = plan.Quantity
	}
	out.Executed = true
	out.Trade = &trade
	log.Info("trade opened",
		applogger.String("trade_id", trade.ID),
		applogger.String("order_id", ack.OrderID),
		applogger.Float64("quantity", trade.Quantity))

	if c.registry != nil {
		// the monitor outlives the cycle; registry shutdown stops it
		if _, err := c.registry.Track(context.WithoutCancel(ctx), trade); err != nil {
			log.Error("start monitor", applogger.Error(err))
		}
	}
	notify.BestEffort(ctx, c.notifier, log, notify.TradeOpened(trade, res.Confidence))
}
