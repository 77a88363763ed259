package injector

import (
	"fmt"

	"github.com/google/wire"
	"github.com/zeusync/pocketbus/internal/config"
	"github.com/zeusync/pocketbus/internal/core/broker"
	"github.com/zeusync/pocketbus/internal/core/events/bus"
	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/observability/metrics"
	"github.com/zeusync/pocketbus/internal/core/protocol"
	"github.com/zeusync/pocketbus/internal/core/protocol/quic"
	"github.com/zeusync/pocketbus/internal/core/protocol/websocket"
)

// BrokerApp is everything the broker command needs.
type BrokerApp struct {
	Broker *broker.Broker
	Logger log.Log
	Config *config.Config
}

// ClientApp is everything the busctl command needs.
type ClientApp struct {
	Client *bus.Client
	Logger log.Log
}

var commonSet = wire.NewSet(ProvideLogger, ProvideTransportRegistry)

// BrokerSet builds a BrokerApp from a loaded config.
var BrokerSet = wire.NewSet(commonSet, ProvideBroker, wire.Struct(new(BrokerApp), "*"))

// ClientSet builds a ClientApp from a loaded config.
var ClientSet = wire.NewSet(commonSet, ProvideConnector, ProvideClient, wire.Struct(new(ClientApp), "*"))

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(cfg *config.Config) (log.Log, func(), error) {
	logger, err := log.New(cfg.LogOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideTransportRegistry registers the ws and quic transports.
func ProvideTransportRegistry(cfg *config.Config, logger log.Log) (*protocol.Registry, error) {
	tc := cfg.TransportConfig()
	return protocol.NewRegistry(
		websocket.NewTransport(tc, logger),
		quic.NewTransport(tc, quic.DefaultQUICConfig(), logger),
	)
}

func ProvideBroker(cfg *config.Config, logger log.Log, registry *protocol.Registry) *broker.Broker {
	return broker.New(cfg.BrokerConfig(), logger, registry, broker.WithObserver(metrics.BrokerObserver{}))
}

func ProvideConnector(cfg *config.Config, logger log.Log, registry *protocol.Registry) bus.Connector {
	return bus.NewConnector(registry, cfg.Client.PublisherAddr, cfg.Client.SubscriberAddr, logger)
}

func ProvideClient(cfg *config.Config, connector bus.Connector, logger log.Log) *bus.Client {
	return bus.New(cfg.ClientConfig(), connector, logger, bus.WithObserver(metrics.ClientObserver{}))
}
