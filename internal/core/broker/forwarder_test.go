package broker

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

type stubConn struct{ closed bool }

func (c *stubConn) Send(context.Context, protocol.Message) error { return nil }
func (c *stubConn) Recv(ctx context.Context) (protocol.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (c *stubConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	forwarded int
	dropped   map[string]int
	peers     map[string]int
	prefixes  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: map[string]int{}, peers: map[string]int{}}
}

func (o *countingObserver) OnForwarded(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forwarded++
}

func (o *countingObserver) OnDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *countingObserver) OnPeerConnected(side string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peers[side]++
}

func (o *countingObserver) OnPeerDisconnected(side string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peers[side]--
}

func (o *countingObserver) OnPrefixesChanged(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prefixes = n
}

func testPeer(id uint64, side string, queue int) *peer {
	return newPeer(id, side, &stubConn{}, queue, log.Nop())
}

func drain(p *peer) []protocol.Message {
	var out []protocol.Message
	for {
		select {
		case m := <-p.queue:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestForwarderPropagatesAggregateInterest(t *testing.T) {
	obs := newCountingObserver()
	f := newForwarder(log.Nop(), obs)
	pub := testPeer(1, sidePublisher, 16)
	a := testPeer(2, sideSubscriber, 16)
	b := testPeer(3, sideSubscriber, 16)
	for _, p := range []*peer{pub, a, b} {
		f.handle(event{kind: eventJoined, peer: p})
	}

	f.handle(event{kind: eventMessage, peer: a, msg: protocol.SubscribeMessage("x.")})
	f.handle(event{kind: eventMessage, peer: b, msg: protocol.SubscribeMessage("x.")})
	f.handle(event{kind: eventMessage, peer: a, msg: protocol.SubscribeMessage("x.")})
	assert.Equal(t, []protocol.Message{protocol.SubscribeMessage("x.")}, drain(pub))
	assert.Equal(t, 1, obs.prefixes)

	f.handle(event{kind: eventLeft, peer: a})
	assert.Empty(t, drain(pub))
	assert.True(t, a.conn.(*stubConn).closed)

	f.handle(event{kind: eventMessage, peer: b, msg: protocol.UnsubscribeMessage("x.")})
	assert.Equal(t, []protocol.Message{protocol.UnsubscribeMessage("x.")}, drain(pub))
	assert.Equal(t, 0, obs.prefixes)
}

func TestForwarderReplaysInterestToNewPublishers(t *testing.T) {
	f := newForwarder(log.Nop(), nopObserver{})
	sub := testPeer(1, sideSubscriber, 16)
	f.handle(event{kind: eventJoined, peer: sub})
	f.handle(event{kind: eventMessage, peer: sub, msg: protocol.SubscribeMessage("b.")})
	f.handle(event{kind: eventMessage, peer: sub, msg: protocol.SubscribeMessage("a.")})

	pub := testPeer(2, sidePublisher, 16)
	f.handle(event{kind: eventJoined, peer: pub})
	assert.Equal(t, []protocol.Message{
		protocol.SubscribeMessage("a."),
		protocol.SubscribeMessage("b."),
	}, drain(pub))
}

func TestForwarderFiltersByPrefix(t *testing.T) {
	f := newForwarder(log.Nop(), nopObserver{})
	pub := testPeer(1, sidePublisher, 16)
	users := testPeer(2, sideSubscriber, 16)
	all := testPeer(3, sideSubscriber, 16)
	none := testPeer(4, sideSubscriber, 16)
	for _, p := range []*peer{pub, users, all, none} {
		f.handle(event{kind: eventJoined, peer: p})
	}
	f.handle(event{kind: eventMessage, peer: users, msg: protocol.SubscribeMessage("user.")})
	f.handle(event{kind: eventMessage, peer: all, msg: protocol.SubscribeMessage("")})

	userMsg := protocol.Message{[]byte("user.created"), []byte("{}")}
	orderMsg := protocol.Message{[]byte("order.placed"), []byte("{}")}
	f.handle(event{kind: eventMessage, peer: pub, msg: userMsg})
	f.handle(event{kind: eventMessage, peer: pub, msg: orderMsg})

	assert.Equal(t, []protocol.Message{userMsg}, drain(users))
	assert.Equal(t, []protocol.Message{userMsg, orderMsg}, drain(all))
	assert.Empty(t, drain(none))
}

func TestForwarderDropsAtHighWaterMark(t *testing.T) {
	obs := newCountingObserver()
	f := newForwarder(log.Nop(), obs)
	pub := testPeer(1, sidePublisher, 16)
	slow := testPeer(2, sideSubscriber, 1)
	f.handle(event{kind: eventJoined, peer: pub})
	f.handle(event{kind: eventJoined, peer: slow})
	f.handle(event{kind: eventMessage, peer: slow, msg: protocol.SubscribeMessage("")})

	for range 3 {
		f.handle(event{kind: eventMessage, peer: pub, msg: protocol.Message{[]byte("t"), []byte("1")}})
	}
	assert.Len(t, drain(slow), 1)
	assert.Equal(t, 3, obs.forwarded)
	assert.Equal(t, 2, obs.dropped["hwm"])
}

func TestForwarderIgnoresInvalidControl(t *testing.T) {
	obs := newCountingObserver()
	f := newForwarder(log.Nop(), obs)
	sub := testPeer(1, sideSubscriber, 16)
	f.handle(event{kind: eventJoined, peer: sub})
	f.handle(event{kind: eventMessage, peer: sub, msg: protocol.Message{[]byte("user.created"), []byte("{}")}})

	assert.Empty(t, sub.prefixes)
	assert.Equal(t, 1, obs.dropped["invalid"])
}

func TestForwarderClosesPeersOnExit(t *testing.T) {
	obs := newCountingObserver()
	f := newForwarder(log.Nop(), obs)
	pub := testPeer(1, sidePublisher, 16)
	sub := testPeer(2, sideSubscriber, 16)
	f.handle(event{kind: eventJoined, peer: pub})
	f.handle(event{kind: eventJoined, peer: sub})
	f.handle(event{kind: eventMessage, peer: sub, msg: protocol.SubscribeMessage("a.")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.run(ctx))

	assert.True(t, pub.conn.(*stubConn).closed)
	assert.True(t, sub.conn.(*stubConn).closed)
	assert.Equal(t, 0, obs.peers[sidePublisher])
	assert.Equal(t, 0, obs.peers[sideSubscriber])
	assert.Equal(t, 0, obs.prefixes)
	assert.Empty(t, f.prefixes())
}
