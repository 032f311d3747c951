package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const defaultStateName = "default_state"

// StateKey is a discretised market state: the technical signal plus the
// sentiment score truncated to tenths. The zero value with Default set is the
// catch-all state for missing or malformed inputs.
type StateKey struct {
	Technical Action
	Bucket    int
	Default   bool
}

var DefaultState = StateKey{Default: true}

// NewStateKey derives the state for a technical token and a sentiment score.
func NewStateKey(technical string, sentiment float64) StateKey {
	a, ok := ParseAction(technical)
	if !ok || math.IsNaN(sentiment) || math.IsInf(sentiment, 0) {
		return DefaultState
	}
	scaled := sentiment * 10
	if scaled > math.MaxInt32 || scaled < math.MinInt32 {
		return DefaultState
	}
	return StateKey{Technical: a, Bucket: int(scaled)}
}

// StateFromSignals derives the state from a cycle's signal set. Both the
// technical signal and the sentiment score must be present.
func StateFromSignals(s SignalSet) StateKey {
	tech, ok := s[SignalTechnical]
	if !ok || tech.Kind != SignalDiscrete {
		return DefaultState
	}
	sent, ok := s[SignalSentiment]
	if !ok {
		return DefaultState
	}
	v, ok := sent.Float()
	if !ok {
		return DefaultState
	}
	return NewStateKey(string(tech.Action), v)
}

// String renders the persisted form, e.g. "BUY_5" or "default_state".
func (k StateKey) String() string {
	if k.Default {
		return defaultStateName
	}
	return fmt.Sprintf("%s_%d", k.Technical, k.Bucket)
}

// ParseStateKey is the inverse of String.
func ParseStateKey(s string) (StateKey, error) {
	if s == defaultStateName {
		return DefaultState, nil
	}
	tech, bucket, ok := strings.Cut(s, "_")
	if !ok {
		return StateKey{}, fmt.Errorf("state key %q: missing separator", s)
	}
	a, valid := ParseAction(tech)
	if !valid {
		return StateKey{}, fmt.Errorf("state key %q: unknown action %q", s, tech)
	}
	n, err := strconv.Atoi(bucket)
	if err != nil {
		return StateKey{}, fmt.Errorf("state key %q: %w", s, err)
	}
	return StateKey{Technical: a, Bucket: n}, nil
}

func (k StateKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *StateKey) UnmarshalText(b []byte) error {
	parsed, err := ParseStateKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
