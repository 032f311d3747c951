package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Signal names understood by fusion.
const (
	SignalLSTM      = "lstm"
	SignalXGB       = "xgb"
	SignalTechnical = "technical"
	SignalRL        = "rl"
	SignalSentiment = "sentiment"
	SignalLiquidity = "liquidity"

	// WeightAdvisor is the weight key of the external advisor's vote.
	WeightAdvisor = "gpt"
)

// DiscreteSignals are voted as-is, in this order.
var DiscreteSignals = []string{SignalLSTM, SignalXGB, SignalTechnical, SignalRL}

// ContinuousSignals maps each continuous signal to the value used when absent.
var ContinuousSignals = map[string]float64{
	SignalSentiment: 0,
	SignalLiquidity: 1,
}

type SignalKind uint8

const (
	SignalDiscrete SignalKind = iota + 1
	SignalContinuous
)

// Signal is either a discrete action token or a continuous score. A discrete
// signal may carry a token that is not a valid Action; fusion treats those as
// unrecognised.
type Signal struct {
	Kind   SignalKind
	Action Action
	Value  float64
}

func Discrete(a Action) Signal { return Signal{Kind: SignalDiscrete, Action: a} }

// DiscreteToken wraps a raw token, keeping it even when it is not a valid action.
func DiscreteToken(s string) Signal {
	a, ok := ParseAction(s)
	if !ok {
		a = Action(s)
	}
	return Signal{Kind: SignalDiscrete, Action: a}
}

func Continuous(v float64) Signal { return Signal{Kind: SignalContinuous, Value: v} }

// ActionValue returns the action for a recognised discrete signal.
func (s Signal) ActionValue() (Action, bool) {
	if s.Kind != SignalDiscrete || !s.Action.Valid() {
		return "", false
	}
	return s.Action, true
}

// Float returns the score of a finite continuous signal.
func (s Signal) Float() (float64, bool) {
	if s.Kind != SignalContinuous || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return 0, false
	}
	return s.Value, true
}

func (s Signal) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SignalDiscrete:
		return json.Marshal(string(s.Action))
	case SignalContinuous:
		return json.Marshal(s.Value)
	default:
		return []byte("null"), nil
	}
}

func (s *Signal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Signal{}
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = DiscreteToken(str)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("signal must be an action token or a number: %s", string(b))
	}
	*s = Continuous(f)
	return nil
}

// SignalSet holds one evaluation cycle's signals by name.
type SignalSet map[string]Signal

// Action returns the named discrete signal when present and recognised.
func (s SignalSet) Action(name string) (Action, bool) {
	sig, ok := s[name]
	if !ok {
		return "", false
	}
	return sig.ActionValue()
}

// Float returns the named continuous signal, or def when absent or non-finite.
func (s SignalSet) Float(name string, def float64) float64 {
	sig, ok := s[name]
	if !ok {
		return def
	}
	if v, ok := sig.Float(); ok {
		return v
	}
	return def
}

// Token returns the raw discrete token of the named signal, "" when absent.
func (s SignalSet) Token(name string) string {
	if sig, ok := s[name]; ok && sig.Kind == SignalDiscrete {
		return string(sig.Action)
	}
	return ""
}

// Clone returns a shallow copy safe to extend without touching the original.
func (s SignalSet) Clone() SignalSet {
	out := make(SignalSet, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	return out
}
