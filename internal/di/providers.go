package di

import (
	"context"
	"fmt"
	"time"

	"SignalFuse/internal/domain/repository"
	domsvc "SignalFuse/internal/domain/service"
	"SignalFuse/internal/handler/api"
	internalrepo "SignalFuse/internal/repository"
	"SignalFuse/internal/service/advisor"
	"SignalFuse/internal/service/binance"
	icache "SignalFuse/internal/service/cache"
	"SignalFuse/internal/service/notify"
	"SignalFuse/internal/services/fusion"
	"SignalFuse/internal/services/risk"
	"SignalFuse/internal/services/rl"
	"SignalFuse/internal/services/signals"
	"SignalFuse/internal/services/weights"
	"SignalFuse/internal/usecase"
	pkgcache "SignalFuse/pkg/cache"
	pkgch "SignalFuse/pkg/clickhouse"
	"SignalFuse/pkg/config"
	xhttp "SignalFuse/pkg/http"
	pkgkafka "SignalFuse/pkg/kafka"
	applogger "SignalFuse/pkg/logger"
	"SignalFuse/pkg/metrics"
	"SignalFuse/pkg/postgres"
	"SignalFuse/pkg/queue"
	"SignalFuse/pkg/server"
)

const (
	serviceName      = "signalfuse"
	candleBatchSize  = 200
	candleBatchFlush = 5 * time.Second
)

// Store is the relational side: decisions, closed trades and reports.
type Store interface {
	repository.DecisionStore
	repository.TradeStore
	repository.PerformanceStore
}

// StateStore holds the weight set and the Q-table.
type StateStore interface {
	repository.WeightStore
	repository.QTableStore
}

// NotifySink is the notifier that actually delivers messages. Use cases get
// the queued notifier in front of it when the queue is enabled.
type NotifySink struct {
	repository.Notifier
}

// ProvideLogger creates the zerolog-backed application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("service", serviceName), applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvidePostgresClient connects to Postgres and applies migrations. It
// returns nil when no DSN is configured.
func ProvidePostgresClient(cfg *config.Config, l *applogger.Logger) (*postgres.Client, func(), error) {
	if cfg.Postgres.DSN == "" {
		l.Warn("postgres dsn not set, using in-memory store")
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := postgres.NewClient(ctx,
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithPoolSize(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		postgres.WithConnLifetime(cfg.Postgres.MaxConnLifetime, cfg.Postgres.MaxConnIdleTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if err := client.Migrate(ctx, internalrepo.PostgresMigrations); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return client, client.Close, nil
}

// ProvideStore picks Postgres when connected, otherwise an in-memory store.
func ProvideStore(pg *postgres.Client, l *applogger.Logger) Store {
	if pg == nil {
		return internalrepo.NewMemoryStore()
	}
	return internalrepo.NewPostgresStore(pg.Pool(), l)
}

// ProvideRedisCache connects to Redis when enabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 5*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideStateStore keeps weights and the Q-table in Redis or on disk.
func ProvideStateStore(cfg *config.Config, rc *pkgcache.RedisCache) StateStore {
	if cfg.State.Backend == "redis" && rc != nil {
		return internalrepo.NewCacheStateStore(rc, cfg.State.WeightsKey, cfg.State.QTableKey)
	}
	return internalrepo.NewFileStateStore(cfg.State.Dir, cfg.State.WeightsKey, cfg.State.QTableKey)
}

func ProvideWeightStore(s StateStore) repository.WeightStore { return s }

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher fans decisions and closed trades out to Kafka. The
// publisher owns the producer and closes it.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.DecisionsTopic, cfg.Kafka.ClosedTradesTopic)
}

// ProvideLogCollector ships aggregated warnings and errors to Kafka.
func ProvideLogCollector(cfg *config.Config, l *applogger.Logger, producer *pkgkafka.Producer) LogCollector {
	if !cfg.Logging.Collect || producer == nil {
		return LogCollector{}
	}
	l.AddCollector(&applogger.CollectionConfig{
		Service:        serviceName,
		TimeInterval:   cfg.Logging.FlushInterval,
		CountThreshold: cfg.Logging.FlushThreshold,
		Topic:          cfg.Logging.CollectorTopic,
		Publisher:      producer,
	})
	return LogCollector{Enabled: true}
}

// LogCollector marks that log collection has been attached.
type LogCollector struct{ Enabled bool }

// ProvideClickHouseClient creates a ClickHouse client and its candle schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCandleStore returns the ClickHouse candle store, or a nil interface
// when ClickHouse is off.
func ProvideCandleStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) repository.CandleStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, l)
}

// ProvideExchange creates the Binance futures client.
func ProvideExchange(cfg *config.Config, l *applogger.Logger) *binance.Client {
	return binance.NewClient(binance.Config{
		BaseURL:        cfg.Binance.BaseURL,
		APIKey:         cfg.Binance.APIKey,
		SecretKey:      cfg.Binance.SecretKey,
		Timeout:        cfg.Binance.Timeout,
		RequestsPerMin: cfg.Binance.RequestsPerMin,
		PriceTTL:       cfg.Binance.PriceTTL,
		DryRun:         cfg.Binance.DryRun,
	}, icache.NewTTLCache[float64](), l)
}

func ProvideExchangePort(c *binance.Client) repository.Exchange { return c }

// ProvidePriceHistory reads candles from ClickHouse first and the exchange
// second.
func ProvidePriceHistory(store repository.CandleStore, ex repository.Exchange, l *applogger.Logger) *internalrepo.CandleHistory {
	return internalrepo.NewCandleHistory(store, ex, l)
}

func ProvideSignalSource(cfg *config.Config) domsvc.SignalSource {
	return signals.NewHTTPSignalSource(cfg.ModelService.URL, cfg.ModelService.Timeout)
}

// ProvideAdvisor returns the chat-completion advisor, or a nil interface
// when disabled.
func ProvideAdvisor(cfg *config.Config) domsvc.Advisor {
	if !cfg.Advisor.Enabled {
		return nil
	}
	return advisor.New(advisor.Config{
		BaseURL: cfg.Advisor.BaseURL,
		APIKey:  cfg.Advisor.APIKey,
		Model:   cfg.Advisor.Model,
		Timeout: cfg.Advisor.Timeout,
	})
}

// ProvideQueue creates the Redis job queue when enabled.
func ProvideQueue(cfg *config.Config, l *applogger.Logger, rc *pkgcache.RedisCache) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:      cfg.Queue.Workers,
		RetryLimit:   cfg.Queue.MaxRetries,
		RetryDelay:   time.Second,
		PollInterval: cfg.Queue.PollInterval,
	}, rc.Client(), queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Redis.Prefix+":"+cfg.Queue.Name))
}

// ProvideNotifySink delivers to Telegram when configured, otherwise to the log.
func ProvideNotifySink(cfg *config.Config, l *applogger.Logger) NotifySink {
	if !cfg.Telegram.Enabled {
		return NotifySink{notify.NewLog(l)}
	}
	return NotifySink{notify.NewTelegram(notify.TelegramConfig{
		BaseURL: cfg.Telegram.BaseURL,
		Token:   cfg.Telegram.Token,
		ChatID:  cfg.Telegram.ChatID,
		Timeout: cfg.Telegram.Timeout,
	}, l)}
}

// ProvideNotifier routes notifications through the queue when one runs.
func ProvideNotifier(sink NotifySink, q *queue.RedisQueue) repository.Notifier {
	if q == nil {
		return sink.Notifier
	}
	return notify.NewQueued(q)
}

func ProvideTradeHistory(cfg *config.Config) *risk.TradeHistory {
	return risk.NewTradeHistory(cfg.Risk.HistoryCapacity)
}

func ProvideRiskManager(cfg *config.Config, history *internalrepo.CandleHistory, l *applogger.Logger, m repository.Metrics) *risk.Manager {
	return risk.NewManager(risk.Params{
		BaseQuantity:   cfg.Risk.BaseQuantity,
		ConfidenceCoef: cfg.Risk.ConfidenceCoef,
		SentimentCoef:  cfg.Risk.SentimentCoef,
		LiquidityCoef:  cfg.Risk.LiquidityCoef,
		Interval:       repository.NormalizeInterval(cfg.Risk.VolatilityInterval),
		Window:         cfg.Risk.VolatilityWindow,
	}, history, l, m)
}

// ProvideAgent loads the Q-table. Saves take a Redis lock when Redis is on.
func ProvideAgent(cfg *config.Config, state StateStore, rc *pkgcache.RedisCache, l *applogger.Logger) *rl.Agent {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var opts []rl.Option
	if rc != nil {
		opts = append(opts, rl.WithSaveLock(rc))
	}
	return rl.NewAgent(ctx, rl.Config{Alpha: cfg.RL.Alpha, Gamma: cfg.RL.Gamma, Epsilon: cfg.RL.Epsilon}, state, l, opts...)
}

func ProvideMonitor(
	cfg *config.Config,
	ex repository.Exchange,
	source domsvc.SignalSource,
	store Store,
	pub repository.EventPublisher,
	notifier repository.Notifier,
	history *risk.TradeHistory,
	agent *rl.Agent,
	l *applogger.Logger,
	m repository.Metrics,
) *usecase.Monitor {
	return usecase.NewMonitor(usecase.MonitorConfig{
		PollInterval:    cfg.Monitor.PollInterval,
		MaxFetchRetries: cfg.Monitor.MaxFetchRetries,
		BackoffMin:      cfg.Monitor.BackoffMin,
		BackoffMax:      cfg.Monitor.BackoffMax,
		OnFailure:       cfg.Monitor.OnFailure,
	}, ex, source, store, pub, notifier, history, agent, l, m)
}

func ProvideRegistry(mon *usecase.Monitor, l *applogger.Logger, m repository.Metrics) *usecase.Registry {
	return usecase.NewRegistry(mon, l, m)
}

func ProvideGatherer(cfg *config.Config, source domsvc.SignalSource, history *internalrepo.CandleHistory, l *applogger.Logger, m repository.Metrics) *usecase.SignalGatherer {
	return usecase.NewSignalGatherer(source, history, repository.NormalizeInterval(cfg.Risk.VolatilityInterval), cfg.ModelService.Timeout, l, m)
}

func ProvideFusionEngine(l *applogger.Logger) *fusion.Engine {
	return fusion.NewEngine(l)
}

// ProvideCycle wires the decide-and-execute pass.
func ProvideCycle(
	cfg *config.Config,
	gatherer *usecase.SignalGatherer,
	agent *rl.Agent,
	ws repository.WeightStore,
	engine *fusion.Engine,
	adv domsvc.Advisor,
	rm *risk.Manager,
	ex repository.Exchange,
	registry *usecase.Registry,
	store Store,
	pub repository.EventPublisher,
	notifier repository.Notifier,
	l *applogger.Logger,
	m repository.Metrics,
) *usecase.Cycle {
	return usecase.NewCycle(usecase.CycleConfig{
		ConfidenceThreshold: cfg.Trading.ConfidenceThreshold,
		BlockOnManipulation: cfg.Trading.BlockOnManipulation,
	}, gatherer, agent, ws, engine, adv, rm, ex, registry, store, pub, notifier, l, m)
}

func ProvideEvaluator(cfg *config.Config, store Store, l *applogger.Logger) *usecase.Evaluator {
	return usecase.NewEvaluator(store, store, store, cfg.Evaluator.MatchWindow, cfg.Evaluator.Lookback, l)
}

func ProvideWeightTrainer(cfg *config.Config, store Store, ws repository.WeightStore, notifier repository.Notifier, l *applogger.Logger) *usecase.WeightTrainer {
	return usecase.NewWeightTrainer(weights.NewEstimator(cfg.Weights.MinSamples), store, store, ws, notifier, l)
}

func ProvideRLTrainer(agent *rl.Agent, store Store, l *applogger.Logger) *usecase.RLTrainer {
	return usecase.NewRLTrainer(agent, store, l)
}

func ProvideCandlesUseCase(history *internalrepo.CandleHistory) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(history)
}

// ProvideKafkaConsumer creates the signals consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaSignalsHandler runs the cycle on pushed signal snapshots.
func ProvideKafkaSignalsHandler(cfg *config.Config, cycle *usecase.Cycle, m repository.Metrics) *usecase.KafkaSignalsHandler {
	return usecase.NewKafkaSignalsHandler(cfg.Kafka.SignalsTopic, cycle, m)
}

// ProvideCandleCollector streams klines into the price cache and ClickHouse.
func ProvideCandleCollector(cfg *config.Config, ex *binance.Client, store repository.CandleStore, l *applogger.Logger, m repository.Metrics) *usecase.CandleCollector {
	if !cfg.Binance.StreamEnabled {
		return nil
	}
	stream := binance.NewStream(cfg.Binance.StreamURL, cfg.Trading.Symbols, cfg.Risk.VolatilityInterval, cfg.Binance.ReconnectDelay, l)
	return usecase.NewCandleCollector(stream, store, ex, m, l, candleBatchSize, candleBatchFlush)
}

// ProvideTradingHandler exposes the trading API.
func ProvideTradingHandler(
	l *applogger.Logger,
	ws repository.WeightStore,
	engine *fusion.Engine,
	adv domsvc.Advisor,
	agent *rl.Agent,
	registry *usecase.Registry,
	evaluator *usecase.Evaluator,
	candles *usecase.CandlesUseCase,
	history *risk.TradeHistory,
) *api.TradingEchoHandler {
	return api.NewTradingEchoHandler(api.TradingDeps{
		Logger:    l,
		Weights:   ws,
		Engine:    engine,
		Advisor:   adv,
		Agent:     agent,
		Registry:  registry,
		Evaluator: evaluator,
		Candles:   candles,
		History:   history,
	})
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.TradingEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

func ProvideJobs(cycle *usecase.Cycle, evaluator *usecase.Evaluator, wt *usecase.WeightTrainer, rt *usecase.RLTrainer) server.Jobs {
	return server.Jobs{Cycle: cycle, Evaluator: evaluator, Weights: wt, RL: rt}
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	_ LogCollector,
	httpServer *xhttp.Server,
	registry *usecase.Registry,
	consumer *pkgkafka.Consumer,
	sh *usecase.KafkaSignalsHandler,
	collector *usecase.CandleCollector,
	q *queue.RedisQueue,
	sink NotifySink,
	pub repository.EventPublisher,
	jobs server.Jobs,
) *server.App {
	return server.New(server.Components{
		Config:     cfg,
		Logger:     l,
		HTTP:       httpServer,
		Registry:   registry,
		Consumer:   consumer,
		Signals:    sh,
		Collector:  collector,
		Queue:      q,
		NotifySink: sink.Notifier,
		Publisher:  pub,
		Jobs:       jobs,
	})
}

// Migrate connects to the configured stores, which applies their schema,
// and disconnects again.
func Migrate(cfg *config.Config) error {
	l, err := ProvideLogger(cfg)
	if err != nil {
		return err
	}
	if cfg.Postgres.DSN == "" && !cfg.ClickHouse.Enabled {
		return fmt.Errorf("nothing to migrate: postgres dsn is empty and clickhouse is disabled")
	}
	_, closePG, err := ProvidePostgresClient(cfg, l)
	if err != nil {
		return err
	}
	defer closePG()
	_, closeCH, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return err
	}
	defer closeCH()
	l.Info("migrations applied",
		applogger.Bool("postgres", cfg.Postgres.DSN != ""),
		applogger.Bool("clickhouse", cfg.ClickHouse.Enabled))
	return nil
}
