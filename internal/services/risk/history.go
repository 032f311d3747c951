package risk

import (
	"sync"

	"SignalFuse/pkg/util"
)

// DefaultHistoryCapacity is the number of closed trades kept in the window.
const DefaultHistoryCapacity = 100

// TradeHistory is a bounded FIFO window of realised P&L. Win rate and
// drawdown are recomputed from the window on every Record. Safe for
// concurrent use by multiple monitors.
type TradeHistory struct {
	mu       sync.Mutex
	capacity int
	profits  []float64
	winRate  float64
	drawdown float64
}

// Window is a point-in-time copy of the history.
type Window struct {
	Profits     []float64 `json:"recent_profits"`
	WinRate     float64   `json:"win_rate"`
	MaxDrawdown float64   `json:"max_drawdown"`
}

func NewTradeHistory(capacity int) *TradeHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &TradeHistory{capacity: capacity, winRate: 0.5}
}

func (h *TradeHistory) Record(pnl float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.profits = append(h.profits, pnl)
	if over := len(h.profits) - h.capacity; over > 0 {
		h.profits = append(h.profits[:0:0], h.profits[over:]...)
	}

	wins := 0
	low := h.profits[0]
	for _, p := range h.profits {
		if p > 0 {
			wins++
		}
		if p < low {
			low = p
		}
	}
	h.winRate = util.Round(float64(wins)/float64(len(h.profits)), 2)
	h.drawdown = util.Round(low, 2)
}

func (h *TradeHistory) Snapshot() Window {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Window{
		Profits:     append([]float64(nil), h.profits...),
		WinRate:     h.winRate,
		MaxDrawdown: h.drawdown,
	}
}

func (h *TradeHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.profits)
}
