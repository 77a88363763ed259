package metrics

import "time"

// BrokerObserver records broker events into the package collectors.
type BrokerObserver struct{}

func (BrokerObserver) OnForwarded(size int) {
	BrokerForwardedTotal.Inc()
	BrokerForwardedBytesTotal.Add(float64(size))
}

func (BrokerObserver) OnDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BrokerDroppedTotal.WithLabelValues(reason).Inc()
}

func (BrokerObserver) OnPeerConnected(side string) {
	BrokerPeers.WithLabelValues(side).Inc()
}

func (BrokerObserver) OnPeerDisconnected(side string) {
	BrokerPeers.WithLabelValues(side).Dec()
}

func (BrokerObserver) OnPrefixesChanged(n int) {
	BrokerSubscriptions.Set(float64(n))
}

// ClientObserver records bus client events into the package collectors.
type ClientObserver struct{}

func (ClientObserver) OnPublish(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ClientPublishedTotal.WithLabelValues(result).Inc()
}

func (ClientObserver) OnReceive(string) {
	ClientReceivedTotal.Inc()
}

func (ClientObserver) OnDecodeError(error) {
	ClientDecodeErrorsTotal.Inc()
}

func (ClientObserver) OnHandlerError(_ string, kind string) {
	ClientHandlerErrorsTotal.WithLabelValues(kind).Inc()
}

func (ClientObserver) OnDelivered(_ string, _ int, consumed bool, elapsed time.Duration) {
	if consumed {
		ClientConsumedTotal.Inc()
	}
	ClientDispatchSeconds.Observe(elapsed.Seconds())
}

func (ClientObserver) OnTransportError(error) {
	ClientTransportErrorsTotal.Inc()
}
