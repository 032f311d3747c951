package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/notify"
	"SignalFuse/internal/services/rl"
	"SignalFuse/internal/services/weights"
	applogger "SignalFuse/pkg/logger"
)

// WeightTrainer re-estimates fusion weights from decision and trade history.
type WeightTrainer struct {
	estimator *weights.Estimator
	decisions domrepo.DecisionStore
	trades    domrepo.TradeStore
	store     domrepo.WeightStore
	notifier  domrepo.Notifier
	log       *applogger.Logger
}

func NewWeightTrainer(estimator *weights.Estimator, decisions domrepo.DecisionStore, trades domrepo.TradeStore, store domrepo.WeightStore, notifier domrepo.Notifier, log *applogger.Logger) *WeightTrainer {
	if log == nil {
		log = applogger.NewNop()
	}
	return &WeightTrainer{estimator: estimator, decisions: decisions, trades: trades, store: store, notifier: notifier, log: log}
}

// Run fits and persists a new weight set. Persisted weights stay untouched
// when the fit fails.
func (w *WeightTrainer) Run(ctx context.Context) (models.WeightSet, error) {
	decisions, err := w.decisions.ListDecisions(ctx, time.Time{})
	if err != nil {
		return models.WeightSet{}, fmt.Errorf("list decisions: %w", err)
	}
	trades, err := w.trades.ListClosedTrades(ctx, time.Time{})
	if err != nil {
		return models.WeightSet{}, fmt.Errorf("list closed trades: %w", err)
	}
	current, err := w.store.LoadWeights(ctx)
	if err != nil {
		w.log.Warn("current weights unavailable, starting from defaults", applogger.Error(err))
		current = models.DefaultWeightSet()
	}

	next, fit, err := w.estimator.Estimate(decisions, trades, current)
	if err != nil {
		if errors.Is(err, weights.ErrInsufficientData) {
			w.log.Info("weights unchanged", applogger.Error(err))
		} else {
			w.log.Error("weight estimation failed", applogger.Error(err))
		}
		return current, err
	}
	if err := w.store.SaveWeights(ctx, next); err != nil {
		return current, fmt.Errorf("save weights: %w", err)
	}
	w.log.Info("weights updated",
		applogger.Int("samples", fit.Samples),
		applogger.Any("coefficients", fit.Coefficients),
		applogger.Float64("intercept", fit.Intercept))
	notify.BestEffort(ctx, w.notifier, w.log, notify.WeightsUpdated(next, fit.Samples, fit.Intercept))
	return next, nil
}

// Trainer is the batch-learning side of the RL advisor.
type Trainer interface {
	Train(ctx context.Context, rows []rl.TrainingRow) error
}

// RLTrainer replays closed trades through the Q-learner in close order,
// using each trade's entry state and P&L.
type RLTrainer struct {
	agent  Trainer
	trades domrepo.TradeStore
	log    *applogger.Logger
}

func NewRLTrainer(agent Trainer, trades domrepo.TradeStore, log *applogger.Logger) *RLTrainer {
	if log == nil {
		log = applogger.NewNop()
	}
	return &RLTrainer{agent: agent, trades: trades, log: log}
}

func (t *RLTrainer) Run(ctx context.Context) (int, error) {
	trades, err := t.trades.ListClosedTrades(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("list closed trades: %w", err)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })
	rows := make([]rl.TrainingRow, 0, len(trades))
	for _, tr := range trades {
		rows = append(rows, rl.TrainingRow{State: tr.EntryState, Reward: tr.PnL})
	}
	if len(rows) < 2 {
		t.log.Info("rl training skipped, not enough trades", applogger.Int("trades", len(rows)))
		return 0, nil
	}
	if err := t.agent.Train(ctx, rows); err != nil {
		return 0, fmt.Errorf("train rl: %w", err)
	}
	return len(rows), nil
}
