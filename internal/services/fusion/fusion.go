package fusion

import (
	"context"
	"fmt"
	"math"

	"SignalFuse/internal/domain/models"
	domsvc "SignalFuse/internal/domain/service"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/util"
)

var continuousOrder = []string{models.SignalSentiment, models.SignalLiquidity}

// Engine combines weighted signal votes into a single decision.
type Engine struct {
	log *logger.Logger
}

func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{log: log}
}

// Fuse never fails: any internal fault yields HOLD with zero confidence. The
// advisor is consulted only when weights enable it and advisor is non-nil; its
// errors drop the advisory vote and nothing else.
func (e *Engine) Fuse(ctx context.Context, signals models.SignalSet, weights models.WeightSet, advisor domsvc.Advisor) (res models.FusionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("fusion failed", logger.Any("panic", r))
			res = models.HoldResult()
		}
	}()

	scores := models.NewDecisionScores()
	for _, name := range models.DiscreteSignals {
		v := NormalizeDiscrete(signals, name)
		scores[v.Action] += weights.Weight(name) * v.Factor
	}
	for _, name := range continuousOrder {
		v := NormalizeContinuous(signals, name)
		scores[v.Action] += weights.Weight(name) * v.Factor
	}

	var advice *models.Advice
	if weights.UseAdvisor && advisor != nil {
		a, err := consult(ctx, advisor, signals)
		if err != nil {
			e.log.Warn("advisor unavailable, fusing without it", logger.Error(err))
		} else {
			scores[a.Action] += weights.Weight(models.WeightAdvisor) * a.Confidence
			advice = &a
		}
	}

	res = models.FusionResult{Action: models.ActionHold, Scores: scores, Advice: advice}
	total := scores.Total()
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return res
	}
	res.Action = scores.Best()
	res.Confidence = util.Round(scores[res.Action]/total, 3)
	return res
}

// consult calls the advisor, turning panics and unusable replies into errors.
func consult(ctx context.Context, advisor domsvc.Advisor, signals models.SignalSet) (a models.Advice, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("advisor panic: %v", r)
		}
	}()

	a, err = advisor.Advise(ctx, signals.Clone())
	if err != nil {
		return models.Advice{}, err
	}
	if !a.Action.Valid() {
		return models.Advice{}, fmt.Errorf("advisor returned unknown action %q", a.Action)
	}
	if math.IsNaN(a.Confidence) {
		return models.Advice{}, fmt.Errorf("advisor returned NaN confidence")
	}
	a.Confidence = util.Clamp(a.Confidence, 0, 1)
	return a, nil
}
