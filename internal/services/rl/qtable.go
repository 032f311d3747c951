package rl

import (
	"sync"

	"SignalFuse/internal/domain/models"
)

// values holds one state's Q-values indexed like models.Actions.
type values [len(models.Actions)]float64

func actionIndex(a models.Action) int {
	for i, x := range models.Actions {
		if x == a {
			return i
		}
	}
	return -1
}

// QTable maps states to per-action value estimates. Every present state has
// all actions. Safe for concurrent use.
type QTable struct {
	mu sync.RWMutex
	q  map[models.StateKey]*values
}

func NewQTable() *QTable {
	return &QTable{q: make(map[models.StateKey]*values)}
}

// ensure returns the state's row, creating a zero row if absent. Caller holds mu.
func (t *QTable) ensure(s models.StateKey) *values {
	row, ok := t.q[s]
	if !ok {
		row = &values{}
		t.q[s] = row
	}
	return row
}

func (t *QTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.q)
}

// Get returns a copy of the state's values without creating it.
func (t *QTable) Get(s models.StateKey) (map[models.Action]float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.q[s]
	if !ok {
		return nil, false
	}
	out := make(map[models.Action]float64, len(models.Actions))
	for i, a := range models.Actions {
		out[a] = row[i]
	}
	return out, true
}

// best returns the first action with the maximal value.
func best(row *values) (models.Action, float64) {
	idx := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[idx] {
			idx = i
		}
	}
	return models.Actions[idx], row[idx]
}

// Export converts the table to its serialised form.
func (t *QTable) Export() map[string]map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]float64, len(t.q))
	for s, row := range t.q {
		m := make(map[string]float64, len(models.Actions))
		for i, a := range models.Actions {
			m[string(a)] = row[i]
		}
		out[s.String()] = m
	}
	return out
}

// Import replaces the table's content with raw, filling missing actions with
// zero. Keys that do not parse are returned so the caller can report them.
func (t *QTable) Import(raw map[string]map[string]float64) (skipped []string) {
	q := make(map[models.StateKey]*values, len(raw))
	for key, acts := range raw {
		s, err := models.ParseStateKey(key)
		if err != nil {
			skipped = append(skipped, key)
			continue
		}
		row := &values{}
		for name, v := range acts {
			if i := actionIndex(models.Action(name)); i >= 0 {
				row[i] = v
			}
		}
		q[s] = row
	}
	t.mu.Lock()
	t.q = q
	t.mu.Unlock()
	return skipped
}
