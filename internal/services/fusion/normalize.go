package fusion

import "SignalFuse/internal/domain/models"

// Vote is one signal's contribution: Factor times the signal's weight goes to Action.
type Vote struct {
	Action models.Action
	Factor float64
}

// NormalizeDiscrete votes a discrete signal. Absent or unrecognised tokens
// put half their weight on HOLD.
func NormalizeDiscrete(signals models.SignalSet, name string) Vote {
	if a, ok := signals.Action(name); ok {
		return Vote{Action: a, Factor: 1}
	}
	return Vote{Action: models.ActionHold, Factor: 0.5}
}

// NormalizeContinuous binarises a continuous score into a directional vote.
// Sentiment votes BUY above 0, liquidity above 1; anything else votes SELL.
// Absent values take their neutral default and so vote SELL.
func NormalizeContinuous(signals models.SignalSet, name string) Vote {
	def := models.ContinuousSignals[name]
	v := signals.Float(name, def)
	if v > def {
		return Vote{Action: models.ActionBuy, Factor: 1}
	}
	return Vote{Action: models.ActionSell, Factor: 1}
}
