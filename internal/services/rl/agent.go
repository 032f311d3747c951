package rl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	"SignalFuse/internal/domain/repository"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/retry"
)

const saveLockKey = "rl:qtable:save"

// ErrSaveContended is returned when the shared save lock stays held by
// another writer through every retry.
var ErrSaveContended = errors.New("q-table save lock held by another writer")

type lockRetry struct {
	attempts int
	min, max time.Duration
}

type Config struct {
	Alpha   float64 // learning rate
	Gamma   float64 // discount
	Epsilon float64 // exploration rate
}

func DefaultConfig() Config {
	return Config{Alpha: 0.1, Gamma: 0.95, Epsilon: 0.2}
}

// Locker guards table saves across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// TrainingRow is one step of a replayed history.
type TrainingRow struct {
	State  models.StateKey
	Reward float64
}

type Option func(*Agent)

// WithRand makes exploration deterministic.
func WithRand(r *rand.Rand) Option {
	return func(a *Agent) { a.rng = r }
}

// WithSaveLock serialises saves through l in addition to the process mutex.
func WithSaveLock(l Locker) Option {
	return func(a *Agent) { a.locker = l }
}

// WithSaveRetry bounds how long Save waits for the shared lock.
func WithSaveRetry(attempts int, min, max time.Duration) Option {
	return func(a *Agent) { a.retry = lockRetry{attempts: attempts, min: min, max: max} }
}

// Agent is an epsilon-greedy tabular Q-learner over discretised market states.
type Agent struct {
	cfg    Config
	table  *QTable
	store  repository.QTableStore
	locker Locker
	retry  lockRetry
	log    *logger.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	saveMu sync.Mutex
}

// NewAgent loads the persisted table. A missing or unreadable table starts
// the agent empty.
func NewAgent(ctx context.Context, cfg Config, store repository.QTableStore, log *logger.Logger, opts ...Option) *Agent {
	if log == nil {
		log = logger.NewNop()
	}
	a := &Agent{
		cfg:   cfg,
		table: NewQTable(),
		store: store,
		log:   log,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		retry: lockRetry{attempts: 5, min: 100 * time.Millisecond, max: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Reload(ctx)
	return a
}

// Reload replaces the in-memory table with the persisted one.
func (a *Agent) Reload(ctx context.Context) {
	if a.store == nil {
		return
	}
	raw, err := a.store.LoadQTable(ctx)
	if err != nil {
		a.log.Warn("q-table load failed, starting empty", logger.Error(err))
		return
	}
	if skipped := a.table.Import(raw); len(skipped) > 0 {
		a.log.Warn("q-table entries with malformed state keys dropped", logger.Strings("keys", skipped))
	}
	a.log.Info("q-table loaded", logger.Int("states", a.table.Len()))
}

func (a *Agent) Table() *QTable { return a.table }

func (a *Agent) explore() (models.Action, bool) {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	if a.rng.Float64() < a.cfg.Epsilon {
		return models.Actions[a.rng.Intn(len(models.Actions))], true
	}
	return "", false
}

// ChooseAction creates the state if needed, then explores with probability
// epsilon or exploits the first best action otherwise.
func (a *Agent) ChooseAction(s models.StateKey) models.Action {
	a.table.mu.Lock()
	row := a.table.ensure(s)
	greedy, _ := best(row)
	a.table.mu.Unlock()

	if act, ok := a.explore(); ok {
		return act
	}
	return greedy
}

// Update applies Q[s][a] ← (1−α)Q[s][a] + α(r + γ·max Q[s']).
func (a *Agent) Update(s models.StateKey, act models.Action, reward float64, next models.StateKey) {
	i := actionIndex(act)
	if i < 0 {
		a.log.Warn("q-update skipped: unknown action", logger.String("action", string(act)))
		return
	}
	a.table.mu.Lock()
	defer a.table.mu.Unlock()

	row := a.table.ensure(s)
	_, future := best(a.table.ensure(next))
	row[i] = (1-a.cfg.Alpha)*row[i] + a.cfg.Alpha*(reward+a.cfg.Gamma*future)
}

// Predict returns the best known action for s, HOLD when s was never seen.
func (a *Agent) Predict(s models.StateKey) models.Action {
	a.table.mu.RLock()
	defer a.table.mu.RUnlock()
	row, ok := a.table.q[s]
	if !ok {
		return models.ActionHold
	}
	act, _ := best(row)
	return act
}

// Train replays rows pairwise and saves the table at the end of the pass.
func (a *Agent) Train(ctx context.Context, rows []TrainingRow) error {
	for i := 0; i+1 < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, next := rows[i].State, rows[i+1].State
		a.Update(s, a.ChooseAction(s), rows[i].Reward, next)
	}
	a.log.Info("q-table trained", logger.Int("rows", len(rows)), logger.Int("states", a.table.Len()))
	return a.Save(ctx)
}

// Learn folds one closed trade into the table and persists it.
func (a *Agent) Learn(ctx context.Context, t models.ClosedTrade) error {
	a.Update(t.EntryState, t.Direction, t.PnL, t.ExitState)
	return a.Save(ctx)
}

// Save writes the table. Saves within the process are serialised; with a
// Locker configured the shared lock is retried with backoff and
// ErrSaveContended is returned if it never frees up.
func (a *Agent) Save(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	if a.locker != nil {
		err := retry.Do(ctx, a.retry.attempts, a.retry.min, a.retry.max, func(ctx context.Context) error {
			ok, err := a.locker.TryLock(ctx, saveLockKey, 30*time.Second)
			if err != nil {
				return fmt.Errorf("q-table save lock: %w", err)
			}
			if !ok {
				return ErrSaveContended
			}
			return nil
		})
		if err != nil {
			a.log.Warn("q-table not saved", logger.Error(err))
			return err
		}
		defer func() {
			if err := a.locker.Unlock(context.Background(), saveLockKey); err != nil {
				a.log.Warn("q-table save unlock failed", logger.Error(err))
			}
		}()
	}

	if err := a.store.SaveQTable(ctx, a.table.Export()); err != nil {
		return fmt.Errorf("save q-table: %w", err)
	}
	return nil
}
