package models

import "time"

// Exit reasons recorded on closed trades.
const (
	ExitTakeProfit = "Take Profit"
	ExitStopLoss   = "Stop Loss"
	ExitReversal   = "Signal Reversal"
	ExitFlattened  = "Flattened"
)

// OrderPlan is a sized and bracketed order proposal.
type OrderPlan struct {
	Symbol       string  `json:"symbol"`
	Side         Action  `json:"side"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	StopDistance float64 `json:"stop_distance"`
	TakeDistance float64 `json:"take_distance"`
	Volatility   float64 `json:"volatility"`
	Manipulated  bool    `json:"manipulated"`
}

// OrderAck is the exchange's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     Action    `json:"side"`
	Quantity float64   `json:"quantity"`
	Status   string    `json:"status"`
	Time     time.Time `json:"time"`
}

// OpenTrade is a live position owned by exactly one monitor.
type OpenTrade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Action    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
	EntryState StateKey  `json:"entry_state"`
}

// PnL is the realised profit of closing the trade at exit.
func (t OpenTrade) PnL(exit float64) float64 {
	if t.Direction == ActionSell {
		return (t.EntryPrice - exit) * t.Quantity
	}
	return (exit - t.EntryPrice) * t.Quantity
}

// ClosedTrade is immutable once emitted by a monitor.
type ClosedTrade struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`
	Direction  Action        `json:"direction"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	Quantity   float64       `json:"quantity"`
	PnL        float64       `json:"pnl"`
	Duration   time.Duration `json:"duration"`
	ExitReason string        `json:"exit_reason"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   time.Time     `json:"closed_at"`
	EntryState StateKey      `json:"entry_state"`
	ExitState  StateKey      `json:"exit_state"`
}
