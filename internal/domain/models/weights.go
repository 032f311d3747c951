package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	weightSuffix  = "_weight"
	useAdvisorKey = "use_gpt"
)

// WeightNames lists every weight consulted by fusion.
var WeightNames = []string{
	SignalLSTM, SignalXGB, SignalTechnical, SignalSentiment, SignalLiquidity, SignalRL, WeightAdvisor,
}

// WeightSet maps signal names to non-negative weights. A missing weight reads
// as 1.0. Values are never mutated after construction; use With to derive a
// new set.
type WeightSet struct {
	Weights    map[string]float64
	UseAdvisor bool
}

// DefaultWeightSet gives every signal weight 1.0 and enables the advisor vote.
func DefaultWeightSet() WeightSet {
	w := make(map[string]float64, len(WeightNames))
	for _, name := range WeightNames {
		w[name] = 1.0
	}
	return WeightSet{Weights: w, UseAdvisor: true}
}

// Weight returns the weight for name. Negative and non-finite values read as 0.
func (w WeightSet) Weight(name string) float64 {
	v, ok := w.Weights[name]
	if !ok {
		return 1.0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// With returns a copy of w with name set to v.
func (w WeightSet) With(name string, v float64) WeightSet {
	out := WeightSet{Weights: make(map[string]float64, len(w.Weights)+1), UseAdvisor: w.UseAdvisor}
	for k, val := range w.Weights {
		out.Weights[k] = val
	}
	out.Weights[name] = v
	return out
}

// MarshalJSON writes the flat persisted form {"lstm_weight": 1, ..., "use_gpt": true}.
func (w WeightSet) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(w.Weights)+1)
	for k, v := range w.Weights {
		flat[k+weightSuffix] = v
	}
	flat[useAdvisorKey] = w.UseAdvisor
	return json.Marshal(flat)
}

func (w *WeightSet) UnmarshalJSON(b []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(b, &flat); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	out := WeightSet{Weights: make(map[string]float64, len(flat)), UseAdvisor: true}
	for k, raw := range flat {
		switch {
		case k == useAdvisorKey:
			if err := json.Unmarshal(raw, &out.UseAdvisor); err != nil {
				return fmt.Errorf("weights: %s: %w", k, err)
			}
		case strings.HasSuffix(k, weightSuffix):
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("weights: %s: %w", k, err)
			}
			out.Weights[strings.TrimSuffix(k, weightSuffix)] = v
		}
	}
	*w = out
	return nil
}

func (w WeightSet) String() string {
	names := make([]string, 0, len(w.Weights))
	for k := range w.Weights {
		names = append(names, k)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, k := range names {
		fmt.Fprintf(&sb, "%s=%.2f ", k, w.Weights[k])
	}
	fmt.Fprintf(&sb, "advisor=%t", w.UseAdvisor)
	return sb.String()
}
