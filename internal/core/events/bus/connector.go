package bus

import (
	"context"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

type socketConnector struct {
	registry    *protocol.Registry
	pubEndpoint string
	subEndpoint string
	logger      log.Log
}

// NewConnector dials the broker's publisher and subscriber frontends through
// the transports in registry. Both endpoints are dialed, never bound.
func NewConnector(registry *protocol.Registry, pubEndpoint, subEndpoint string, logger log.Log) Connector {
	if logger == nil {
		logger = log.Nop()
	}
	return &socketConnector{
		registry:    registry,
		pubEndpoint: pubEndpoint,
		subEndpoint: subEndpoint,
		logger:      logger,
	}
}

func (s *socketConnector) ConnectPublisher(ctx context.Context) (Publisher, error) {
	pub := protocol.NewPubSocket(protocol.EndpointDialer(s.registry, s.pubEndpoint),
		s.logger.With(log.String("endpoint", s.pubEndpoint)))
	if err := pub.Connect(ctx); err != nil {
		_ = pub.Close()
		return nil, err
	}
	return pub, nil
}

func (s *socketConnector) ConnectSubscriber(ctx context.Context) (Subscriber, error) {
	sub := protocol.NewSubSocket(protocol.EndpointDialer(s.registry, s.subEndpoint),
		s.logger.With(log.String("endpoint", s.subEndpoint)))
	if err := sub.Connect(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}
