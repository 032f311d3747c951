package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/services/weights"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/queue"
)

// Queue message types for batch jobs.
const (
	MessageEvaluate = "evaluate"
	MessageRetrain  = "retrain"
)

type scheduledJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	running  atomic.Bool
}

// Scheduler runs named jobs on fixed intervals. A tick that arrives while
// the previous run of the same job is still going is dropped.
type Scheduler struct {
	jobs    []*scheduledJob
	log     *applogger.Logger
	metrics domrepo.Metrics
	wg      sync.WaitGroup
}

func NewScheduler(log *applogger.Logger, metrics domrepo.Metrics) *Scheduler {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Scheduler{log: log, metrics: metrics}
}

func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, &scheduledJob{name: name, interval: interval, run: run})
}

// Start launches every job. They stop when ctx is done; Wait blocks until then.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		if j.interval <= 0 {
			s.log.Warn("job disabled, interval not positive", applogger.String("job", j.name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.log.Info("scheduler started", applogger.Int("jobs", len(s.jobs)))
}

func (s *Scheduler) loop(ctx context.Context, j *scheduledJob) {
	defer s.wg.Done()
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !j.running.CompareAndSwap(false, true) {
				s.log.Warn("job still running, tick skipped", applogger.String("job", j.name))
				continue
			}
			s.runOnce(ctx, j)
			j.running.Store(false)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *scheduledJob) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", applogger.String("job", j.name), applogger.Any("panic", r))
		}
	}()
	if err := j.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("job failed", applogger.String("job", j.name), applogger.Error(err))
		if s.metrics != nil {
			s.metrics.RecordError("job_" + j.name)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("job_"+j.name, time.Since(start).Seconds())
	}
}

// Wait blocks until every job loop has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// CycleAll runs the trading cycle for each symbol in turn.
func CycleAll(c *Cycle, symbols []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.Run(ctx, sym)
		}
		return nil
	}
}

// Retrain re-estimates weights and retrains the RL table. Too little
// history for the regression is not an error.
func Retrain(wt *WeightTrainer, rt *RLTrainer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		if _, err := wt.Run(ctx); err != nil && !errors.Is(err, weights.ErrInsufficientData) {
			errs = append(errs, err)
		}
		if _, err := rt.Run(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
}

// Evaluate wraps the evaluator for scheduling.
func Evaluate(e *Evaluator) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := e.Evaluate(ctx)
		return err
	}
}

// Enqueue turns a scheduled run into a queue message so exactly one worker
// in the fleet executes it.
func Enqueue(pub queue.Publisher, msgType string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := pub.PublishMessage(ctx, msgType, map[string]string{"requested_at": time.Now().UTC().Format(time.RFC3339)}); err != nil {
			return fmt.Errorf("enqueue %s: %w", msgType, err)
		}
		return nil
	}
}

// BatchJobs are the queue consumers for enqueued batch runs.
func BatchJobs(evaluate, retrain func(ctx context.Context) error) []queue.Job {
	wrap := func(fn func(ctx context.Context) error) func(context.Context, json.RawMessage) error {
		return func(ctx context.Context, _ json.RawMessage) error { return fn(ctx) }
	}
	return []queue.Job{
		queue.JobFunc{JobName: "evaluate-decisions", MsgType: MessageEvaluate, Fn: wrap(evaluate)},
		queue.JobFunc{JobName: "retrain-models", MsgType: MessageRetrain, Fn: wrap(retrain)},
	}
}
