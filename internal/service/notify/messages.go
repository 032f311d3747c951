package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"SignalFuse/internal/domain/models"
)

func TradeOpened(t models.OpenTrade, confidence float64) string {
	return fmt.Sprintf("*Trade opened*\n\nSymbol: `%s`\nSide: `%s`\nEntry: `%.2f`\nQty: `%.4f`\nSL: `%.2f`\nTP: `%.2f`\nConfidence: `%.2f`",
		t.Symbol, t.Direction, t.EntryPrice, t.Quantity, t.StopLoss, t.TakeProfit, confidence)
}

func TradeClosed(t models.ClosedTrade) string {
	return fmt.Sprintf("*Trade closed* (%s)\n\nSymbol: `%s`\nSide: `%s`\nEntry: `%.2f`\nExit: `%.2f`\nP&L: `%.4f`\nHeld: `%s`",
		t.ExitReason, t.Symbol, t.Direction, t.EntryPrice, t.ExitPrice, t.PnL, t.Duration.Round(time.Second))
}

func Decision(symbol string, res models.FusionResult, executed bool) string {
	return fmt.Sprintf("*Decision*\n\nSymbol: `%s`\nAction: `%s`\nConfidence: `%.2f`\nExecuted: `%t`",
		symbol, res.Action, res.Confidence, executed)
}

func MonitorFailed(t models.OpenTrade, policy string, err error) string {
	return fmt.Sprintf("*Monitor failed*\n\nSymbol: `%s`\nTrade: `%s`\nPolicy: `%s`\nError: %v",
		t.Symbol, t.ID, policy, err)
}

func WeightsUpdated(w models.WeightSet, samples int, intercept float64) string {
	names := make([]string, 0, len(w.Weights))
	for name := range w.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "*Weights updated* from %d trades (intercept %.4f)\n", samples, intercept)
	for _, name := range names {
		fmt.Fprintf(&b, "\n%s: `%.2f`", name, w.Weights[name])
	}
	return b.String()
}
