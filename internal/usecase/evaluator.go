package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/util"
)

const reportTypeEvaluation = "decision_evaluation"

// Evaluator labels executed decisions with the outcome of the trade they
// opened and writes a performance report.
type Evaluator struct {
	decisions domrepo.DecisionStore
	trades    domrepo.TradeStore
	perf      domrepo.PerformanceStore
	window    time.Duration
	lookback  time.Duration
	log       *applogger.Logger
	now       func() time.Time
}

func NewEvaluator(decisions domrepo.DecisionStore, trades domrepo.TradeStore, perf domrepo.PerformanceStore, window, lookback time.Duration, log *applogger.Logger) *Evaluator {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Evaluator{decisions: decisions, trades: trades, perf: perf, window: window, lookback: lookback, log: log, now: time.Now}
}

// EvaluationResult is what one evaluation pass produced.
type EvaluationResult struct {
	Labelled int                      `json:"labelled"`
	Report   models.PerformanceReport `json:"report"`
	Summary  models.DecisionSummary   `json:"summary"`
}

func (e *Evaluator) since() time.Time {
	if e.lookback <= 0 {
		return time.Time{}
	}
	return e.now().Add(-e.lookback)
}

// Evaluate matches every executed decision to the first trade of the same
// symbol closed within the match window after it: WIN for positive P&L,
// LOSS otherwise, NA when nothing closed in time.
func (e *Evaluator) Evaluate(ctx context.Context) (EvaluationResult, error) {
	since := e.since()
	decisions, err := e.decisions.ListDecisions(ctx, since)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("list decisions: %w", err)
	}
	trades, err := e.trades.ListClosedTrades(ctx, since)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("list closed trades: %w", err)
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })

	var res EvaluationResult
	for i := range decisions {
		d := &decisions[i]
		if !d.Executed {
			continue
		}
		label := Label(*d, trades, e.window)
		if err := e.decisions.UpdateDecisionResult(ctx, d.ID, label); err != nil {
			e.log.Warn("label decision", applogger.Int64("id", d.ID), applogger.Error(err))
			continue
		}
		d.Result = label
		res.Labelled++
	}

	res.Report = Performance(trades, e.now().UTC(), reportTypeEvaluation)
	if e.perf != nil {
		if err := e.perf.SavePerformance(ctx, &res.Report); err != nil {
			return res, fmt.Errorf("save performance: %w", err)
		}
	}
	res.Summary = Summarize(decisions)
	e.log.Info("decisions evaluated",
		applogger.Int("labelled", res.Labelled),
		applogger.Int("trades", res.Report.TotalTrades),
		applogger.Float64("win_rate", res.Report.WinRate),
		applogger.Float64("executed_win_rate", res.Summary.ExecutedWinRate))
	return res, nil
}

// Summary reports on decisions made since the given time without labelling.
func (e *Evaluator) Summary(ctx context.Context, since time.Time) (models.DecisionSummary, error) {
	decisions, err := e.decisions.ListDecisions(ctx, since)
	if err != nil {
		return models.DecisionSummary{}, fmt.Errorf("list decisions: %w", err)
	}
	return Summarize(decisions), nil
}

// Report computes the performance window since the given time.
func (e *Evaluator) Report(ctx context.Context, since time.Time) (models.PerformanceReport, error) {
	trades, err := e.trades.ListClosedTrades(ctx, since)
	if err != nil {
		return models.PerformanceReport{}, fmt.Errorf("list closed trades: %w", err)
	}
	return Performance(trades, e.now().UTC(), "window"), nil
}

// Label expects trades ordered by close time.
func Label(d models.DecisionRecord, trades []models.ClosedTrade, window time.Duration) string {
	end := d.Timestamp.Add(window)
	for _, t := range trades {
		if t.Symbol != d.Symbol || t.ClosedAt.Before(d.Timestamp) || t.ClosedAt.After(end) {
			continue
		}
		if t.PnL > 0 {
			return models.ResultWin
		}
		return models.ResultLoss
	}
	return models.ResultNA
}

// Performance aggregates realised trades. WinRate is a percentage.
func Performance(trades []models.ClosedTrade, ts time.Time, reportType string) models.PerformanceReport {
	r := models.PerformanceReport{Timestamp: ts, TotalTrades: len(trades), ReportType: reportType}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			r.TotalProfit += t.PnL
		} else {
			r.TotalLoss += t.PnL
		}
	}
	r.TotalProfit = util.Round(r.TotalProfit, 4)
	r.TotalLoss = util.Round(r.TotalLoss, 4)
	if len(trades) > 0 {
		r.WinRate = util.Round(float64(wins)/float64(len(trades))*100, 2)
	}
	return r
}

// Summarize counts decisions and computes win rates (percent) of executed
// ones overall and per technical and rl signal. Signal values without any
// WIN or LOSS are left out.
func Summarize(decisions []models.DecisionRecord) models.DecisionSummary {
	s := models.DecisionSummary{
		Total:    len(decisions),
		ByAction: map[string]int{},
	}
	tech := map[string]*tally{}
	rl := map[string]*tally{}
	bump := func(m map[string]*tally, key, result string) {
		t, ok := m[key]
		if !ok {
			t = &tally{}
			m[key] = t
		}
		switch result {
		case models.ResultWin:
			t.win++
		case models.ResultLoss:
			t.loss++
		}
	}

	executedWins := 0
	for _, d := range decisions {
		s.ByAction[string(d.Action)]++
		if !d.Executed {
			s.NotExecuted++
			continue
		}
		s.Executed++
		if d.Result == models.ResultWin {
			executedWins++
		}
		bump(tech, d.Technical, d.Result)
		bump(rl, d.RL, d.Result)
	}
	if s.Executed > 0 {
		s.ExecutedWinRate = util.Round(float64(executedWins)/float64(s.Executed)*100, 2)
	}
	s.TechnicalWinRate = winRates(tech)
	s.RLWinRate = winRates(rl)
	return s
}

type tally struct{ win, loss int }

func winRates(in map[string]*tally) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, t := range in {
		if n := t.win + t.loss; n > 0 {
			out[k] = util.Round(float64(t.win)/float64(n)*100, 2)
		}
	}
	return out
}
