//go:build wireinject
// +build wireinject

package di

import (
	"SignalFuse/pkg/config"
	"SignalFuse/pkg/server"

	"github.com/google/wire"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvidePostgresClient,
	ProvideStore,
	ProvideRedisCache,
	ProvideStateStore,
	ProvideWeightStore,
	ProvideKafkaProducer,
	ProvideEventPublisher,
	ProvideLogCollector,
	ProvideClickHouseClient,
	ProvideCandleStore,
)

var serviceSet = wire.NewSet(
	ProvideExchange,
	ProvideExchangePort,
	ProvidePriceHistory,
	ProvideSignalSource,
	ProvideAdvisor,
	ProvideQueue,
	ProvideNotifySink,
	ProvideNotifier,
	ProvideTradeHistory,
	ProvideRiskManager,
	ProvideAgent,
	ProvideFusionEngine,
)

var usecaseSet = wire.NewSet(
	ProvideMonitor,
	ProvideRegistry,
	ProvideGatherer,
	ProvideCycle,
	ProvideEvaluator,
	ProvideWeightTrainer,
	ProvideRLTrainer,
	ProvideCandlesUseCase,
	ProvideKafkaConsumer,
	ProvideKafkaSignalsHandler,
	ProvideCandleCollector,
	ProvideJobs,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		serviceSet,
		usecaseSet,
		ProvideTradingHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
