package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBrokerObserver(t *testing.T) {
	var o BrokerObserver

	before := testutil.ToFloat64(BrokerForwardedTotal)
	o.OnForwarded(10)
	assert.Equal(t, before+1, testutil.ToFloat64(BrokerForwardedTotal))

	dropped := BrokerDroppedTotal.WithLabelValues("hwm")
	before = testutil.ToFloat64(dropped)
	o.OnDropped("hwm")
	assert.Equal(t, before+1, testutil.ToFloat64(dropped))

	peers := BrokerPeers.WithLabelValues("subscriber")
	before = testutil.ToFloat64(peers)
	o.OnPeerConnected("subscriber")
	o.OnPeerConnected("subscriber")
	o.OnPeerDisconnected("subscriber")
	assert.Equal(t, before+1, testutil.ToFloat64(peers))

	o.OnPrefixesChanged(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(BrokerSubscriptions))
}

func TestClientObserver(t *testing.T) {
	var o ClientObserver

	failed := ClientPublishedTotal.WithLabelValues("error")
	before := testutil.ToFloat64(failed)
	o.OnPublish("a.b", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(failed))

	panics := ClientHandlerErrorsTotal.WithLabelValues("panic")
	before = testutil.ToFloat64(panics)
	o.OnHandlerError("a.b", "panic")
	assert.Equal(t, before+1, testutil.ToFloat64(panics))

	before = testutil.ToFloat64(ClientConsumedTotal)
	o.OnDelivered("a.b", 2, true, time.Millisecond)
	o.OnDelivered("a.b", 2, false, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(ClientConsumedTotal))
}
