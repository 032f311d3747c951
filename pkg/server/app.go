package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/service/notify"
	"SignalFuse/internal/usecase"
	"SignalFuse/pkg/config"
	xhttp "SignalFuse/pkg/http"
	pkgkafka "SignalFuse/pkg/kafka"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/queue"
)

// Jobs are the use cases the scheduler and the CLI drive.
type Jobs struct {
	Cycle     *usecase.Cycle
	Evaluator *usecase.Evaluator
	Weights   *usecase.WeightTrainer
	RL        *usecase.RLTrainer
}

// Components is everything the App runs. Optional parts are nil when
// disabled in config.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	HTTP       *xhttp.Server
	Registry   *usecase.Registry
	Consumer   *pkgkafka.Consumer
	Signals    *usecase.KafkaSignalsHandler
	Collector  *usecase.CandleCollector
	Queue      *queue.RedisQueue
	NotifySink domrepo.Notifier
	Publisher  domrepo.EventPublisher
	Jobs       Jobs
}

// App encapsulates the entire application lifecycle.
type App struct {
	Components
	scheduler *usecase.Scheduler
	stop      context.CancelFunc
}

func New(c Components) *App {
	if c.Logger == nil {
		c.Logger = applogger.NewNop()
	}
	return &App{Components: c}
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	l := a.Logger
	cfg := a.Config
	ctx, a.stop = context.WithCancel(ctx)
	defer a.stop()

	if a.Queue != nil {
		a.Queue.RegisterJobs(a.queueJobs())
		if err := a.Queue.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	var collectorErr <-chan error
	if a.Collector != nil {
		collectorErr = a.Collector.Start(ctx)
		l.Info("candle collector started", applogger.Strings("symbols", cfg.Trading.Symbols))
	}

	if a.Consumer != nil && a.Signals != nil {
		a.Consumer.RegisterHandler(a.Signals)
		if err := a.Consumer.Start(ctx); err != nil {
			l.Error("kafka consumer start error", applogger.String("topic", a.Signals.Topic()), applogger.Error(err))
		}
	}

	a.scheduler = a.buildScheduler()
	a.scheduler.Start(ctx)

	if err := a.HTTP.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		_ = a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		l.Info("shutdown signal received")
	case err := <-a.HTTP.Err():
		runErr = err
	case err, ok := <-collectorErr:
		if ok && err != nil && !errors.Is(err, context.Canceled) {
			l.Error("candle stream stopped", applogger.Error(err))
			runErr = err
		}
	}
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) buildScheduler() *usecase.Scheduler {
	cfg := a.Config.Scheduler
	s := usecase.NewScheduler(a.Logger, nil)
	s.Add("cycle", cfg.CycleInterval, usecase.CycleAll(a.Jobs.Cycle, a.Config.Trading.Symbols))
	if a.Queue != nil {
		s.Add("evaluate", cfg.EvaluationInterval, usecase.Enqueue(a.Queue, usecase.MessageEvaluate))
		s.Add("retrain", cfg.RetrainInterval, usecase.Enqueue(a.Queue, usecase.MessageRetrain))
	} else {
		s.Add("evaluate", cfg.EvaluationInterval, usecase.Evaluate(a.Jobs.Evaluator))
		s.Add("retrain", cfg.RetrainInterval, usecase.Retrain(a.Jobs.Weights, a.Jobs.RL))
	}
	return s
}

func (a *App) queueJobs() []queue.Job {
	jobs := usecase.BatchJobs(usecase.Evaluate(a.Jobs.Evaluator), usecase.Retrain(a.Jobs.Weights, a.Jobs.RL))
	if a.NotifySink != nil {
		jobs = append(jobs, notify.Job(a.NotifySink))
	}
	return jobs
}

// shutdown stops intake first (HTTP, scheduler, consumer), then the trade
// monitors, then the queue and the event publisher.
func (a *App) shutdown() error {
	l := a.Logger
	if a.stop != nil {
		a.stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	l.Info("shutting down...")

	var errs []error
	if err := a.HTTP.Stop(ctx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.scheduler != nil {
		a.scheduler.Wait()
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.Registry.Shutdown(ctx); err != nil {
		l.Warn("monitor shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			l.Warn("queue stop error", applogger.Error(err))
		}
	}
	l.Info("shutdown complete")
	// flush collected error logs while the producer is still open
	l.RemoveCollector()
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			l.Warn("publisher close error", applogger.Error(err))
		}
	}
	return errors.Join(errs...)
}

// RunJob executes one batch job by name and returns its result for display.
func (a *App) RunJob(ctx context.Context, name string) (any, error) {
	start := time.Now()
	defer func() {
		a.Logger.Info("job finished", applogger.String("job", name), applogger.Duration("took", time.Since(start)))
	}()
	switch name {
	case "evaluate":
		return a.Jobs.Evaluator.Evaluate(ctx)
	case "estimate-weights":
		return a.Jobs.Weights.Run(ctx)
	case "train-rl":
		return a.Jobs.RL.Run(ctx)
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

// Close releases what batch runs touch. Run does this itself on shutdown.
func (a *App) Close() error {
	a.Logger.RemoveCollector()
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher.Close()
}
