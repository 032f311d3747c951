package models

import "time"

// DecisionScores is the vote mass accumulated per action during one fusion call.
type DecisionScores map[Action]float64

func NewDecisionScores() DecisionScores {
	return DecisionScores{ActionBuy: 0, ActionSell: 0, ActionHold: 0}
}

func (d DecisionScores) Total() float64 {
	var t float64
	for _, a := range Actions {
		t += d[a]
	}
	return t
}

// Best returns the action with the largest mass. Ties go to the earlier
// action in Actions.
func (d DecisionScores) Best() Action {
	best := Actions[0]
	for _, a := range Actions[1:] {
		if d[a] > d[best] {
			best = a
		}
	}
	return best
}

// Advice is an external advisor's opinion on a signal set.
type Advice struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type FusionResult struct {
	Action     Action         `json:"action"`
	Confidence float64        `json:"confidence"`
	Scores     DecisionScores `json:"scores"`
	Advice     *Advice        `json:"advice,omitempty"`
}

// HoldResult is returned whenever fusion cannot produce a decision.
func HoldResult() FusionResult {
	return FusionResult{Action: ActionHold, Confidence: 0, Scores: NewDecisionScores()}
}

// Decision evaluation outcomes.
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
	ResultNA   = "NA"
)

// DecisionRecord is one persisted cycle outcome.
type DecisionRecord struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	Symbol            string    `json:"symbol"`
	Action            Action    `json:"action"`
	Confidence        float64   `json:"confidence"`
	LSTM              string    `json:"lstm_signal"`
	XGB               string    `json:"xgb_signal"`
	Technical         string    `json:"technical_signal"`
	RL                string    `json:"rl_decision"`
	Sentiment         float64   `json:"sentiment_score"`
	Liquidity         float64   `json:"liquidity_score"`
	AdvisorAction     string    `json:"gpt_decision,omitempty"`
	AdvisorConfidence float64   `json:"gpt_confidence"`
	AdvisorReason     string    `json:"gpt_reason,omitempty"`
	Executed          bool      `json:"executed"`
	Result            string    `json:"result,omitempty"`
}

// NewDecisionRecord flattens a cycle's signals and fusion outcome into a row.
func NewDecisionRecord(ts time.Time, symbol string, signals SignalSet, res FusionResult, executed bool) DecisionRecord {
	rec := DecisionRecord{
		Timestamp:  ts,
		Symbol:     symbol,
		Action:     res.Action,
		Confidence: res.Confidence,
		LSTM:       signals.Token(SignalLSTM),
		XGB:        signals.Token(SignalXGB),
		Technical:  signals.Token(SignalTechnical),
		RL:         signals.Token(SignalRL),
		Sentiment:  signals.Float(SignalSentiment, ContinuousSignals[SignalSentiment]),
		Liquidity:  signals.Float(SignalLiquidity, ContinuousSignals[SignalLiquidity]),
		Executed:   executed,
	}
	if res.Advice != nil {
		rec.AdvisorAction = string(res.Advice.Action)
		rec.AdvisorConfidence = res.Advice.Confidence
		rec.AdvisorReason = res.Advice.Reason
	}
	return rec
}

// Signals rebuilds the signal set a record was decided on.
func (r DecisionRecord) Signals() SignalSet {
	s := SignalSet{
		SignalSentiment: Continuous(r.Sentiment),
		SignalLiquidity: Continuous(r.Liquidity),
	}
	for name, tok := range map[string]string{
		SignalLSTM: r.LSTM, SignalXGB: r.XGB, SignalTechnical: r.Technical, SignalRL: r.RL,
	} {
		if tok != "" {
			s[name] = DiscreteToken(tok)
		}
	}
	return s
}

// PerformanceReport is an aggregate written after each evaluation pass.
type PerformanceReport struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalTrades int       `json:"total_trades"`
	TotalProfit float64   `json:"total_profit"`
	TotalLoss   float64   `json:"total_loss"`
	WinRate     float64   `json:"win_rate"`
	ReportType  string    `json:"report_type"`
}

// DecisionSummary aggregates decision records for analysis.
type DecisionSummary struct {
	Total            int                `json:"total"`
	Executed         int                `json:"executed"`
	NotExecuted      int                `json:"not_executed"`
	ExecutedWinRate  float64            `json:"executed_win_rate"`
	ByAction         map[string]int     `json:"by_action"`
	TechnicalWinRate map[string]float64 `json:"technical_win_rate"`
	RLWinRate        map[string]float64 `json:"rl_win_rate"`
}
