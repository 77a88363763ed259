// Package metrics exposes Prometheus collectors for the broker and the bus
// client. Collectors are registered on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BrokerForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_broker_forwarded_total",
		Help: "Data messages received on the publisher frontend and relayed to subscribers",
	})

	BrokerForwardedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_broker_forwarded_bytes_total",
		Help: "Payload bytes of relayed data messages",
	})

	BrokerDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_broker_dropped_total",
		Help: "Messages the broker dropped for a single peer, by reason",
	}, []string{"reason"})

	BrokerPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventbus_broker_peers",
		Help: "Connected peers per frontend",
	}, []string{"side"})

	BrokerSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventbus_broker_subscriptions",
		Help: "Distinct prefixes subscribed across all subscriber peers",
	})

	ClientPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_client_published_total",
		Help: "Publish calls by result",
	}, []string{"result"})

	ClientReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_client_received_total",
		Help: "Messages received on the inbound connection",
	})

	ClientDecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_client_decode_errors_total",
		Help: "Inbound messages dropped because they could not be decoded",
	})

	ClientHandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_client_handler_errors_total",
		Help: "Handler and filter failures, by kind",
	}, []string{"kind"})

	ClientConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_client_consumed_total",
		Help: "Messages whose dispatch stopped early because a handler consumed them",
	})

	ClientTransportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_client_transport_errors_total",
		Help: "Receive errors retried by the dispatch loop",
	})

	ClientDispatchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventbus_client_dispatch_seconds",
		Help:    "Time spent running handlers for one message",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)
