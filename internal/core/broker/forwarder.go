package broker

import (
	"context"
	"fmt"
	"sort"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
	"github.com/zeusync/pocketbus/internal/core/protocol"
)

type eventKind int

const (
	eventJoined eventKind = iota
	eventLeft
	eventMessage
)

type event struct {
	kind eventKind
	peer *peer
	msg  protocol.Message
}

// forwarder owns every peer and the aggregate prefix counts. All of its state
// is confined to the run goroutine.
type forwarder struct {
	events   chan event
	logger   log.Log
	observer Observer

	publishers  map[uint64]*peer
	subscribers map[uint64]*peer
	// prefixRefs counts, per prefix, the subscriber peers holding it.
	prefixRefs map[string]int
}

func newForwarder(logger log.Log, observer Observer) *forwarder {
	return &forwarder{
		events:      make(chan event, 256),
		logger:      logger,
		observer:    observer,
		publishers:  make(map[uint64]*peer),
		subscribers: make(map[uint64]*peer),
		prefixRefs:  make(map[string]int),
	}
}

// run processes events until ctx is cancelled. Every peer is closed on return.
func (f *forwarder) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrForwarderExited, r)
		}
		f.closeAll()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			f.handle(ev)
		}
	}
}

func (f *forwarder) handle(ev event) {
	switch ev.kind {
	case eventJoined:
		f.join(ev.peer)
	case eventLeft:
		f.leave(ev.peer)
	case eventMessage:
		if ev.peer.side == sidePublisher {
			f.forward(ev.peer, ev.msg)
		} else {
			f.control(ev.peer, ev.msg)
		}
	}
}

func (f *forwarder) join(p *peer) {
	if p.side == sidePublisher {
		f.publishers[p.id] = p
		// Bring the new publisher up to date with current interest.
		for _, prefix := range f.prefixes() {
			if !p.enqueue(protocol.SubscribeMessage(prefix)) {
				f.drop(p, "hwm")
			}
		}
	} else {
		f.subscribers[p.id] = p
	}
	f.observer.OnPeerConnected(p.side)
	p.logger.Info("Peer connected")
}

func (f *forwarder) leave(p *peer) {
	peers := f.subscribers
	if p.side == sidePublisher {
		peers = f.publishers
	}
	if _, ok := peers[p.id]; !ok {
		return
	}
	delete(peers, p.id)
	for prefix := range p.prefixes {
		f.release(prefix)
	}
	p.close()
	f.observer.OnPeerDisconnected(p.side)
	p.logger.Info("Peer disconnected")
}

// forward relays a data message to every subscriber whose filter accepts its
// first frame.
func (f *forwarder) forward(from *peer, msg protocol.Message) {
	f.observer.OnForwarded(msg.Size())
	for _, p := range f.subscribers {
		if !p.wants(msg[0]) {
			continue
		}
		if !p.enqueue(msg) {
			f.drop(p, "hwm")
		}
	}
	from.logger.Debug("Forwarded message", log.Int("frames", len(msg)), log.Int("bytes", msg.Size()))
}

// control applies a subscriber's filter change and propagates first
// subscriptions and last unsubscriptions upstream.
func (f *forwarder) control(from *peer, msg protocol.Message) {
	subscribe, prefix, err := protocol.ParseControl(msg)
	if err != nil {
		from.logger.Warn("Ignoring invalid control message", log.Error(err))
		f.observer.OnDropped("invalid")
		return
	}
	_, held := from.prefixes[prefix]
	switch {
	case subscribe && !held:
		from.prefixes[prefix] = struct{}{}
		f.prefixRefs[prefix]++
		if f.prefixRefs[prefix] == 1 {
			f.upstream(protocol.SubscribeMessage(prefix))
		}
		f.observer.OnPrefixesChanged(len(f.prefixRefs))
	case !subscribe && held:
		delete(from.prefixes, prefix)
		f.release(prefix)
	}
}

func (f *forwarder) release(prefix string) {
	f.prefixRefs[prefix]--
	if f.prefixRefs[prefix] > 0 {
		return
	}
	delete(f.prefixRefs, prefix)
	f.upstream(protocol.UnsubscribeMessage(prefix))
	f.observer.OnPrefixesChanged(len(f.prefixRefs))
}

func (f *forwarder) upstream(msg protocol.Message) {
	for _, p := range f.publishers {
		if !p.enqueue(msg) {
			f.drop(p, "hwm")
		}
	}
}

func (f *forwarder) drop(p *peer, reason string) {
	f.observer.OnDropped(reason)
	p.logger.Warn("Send queue full, dropping message", log.String("reason", reason))
}

func (f *forwarder) prefixes() []string {
	out := make([]string, 0, len(f.prefixRefs))
	for p := range f.prefixRefs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *forwarder) closeAll() {
	for id, p := range f.publishers {
		p.close()
		delete(f.publishers, id)
		f.observer.OnPeerDisconnected(p.side)
	}
	for id, p := range f.subscribers {
		p.close()
		delete(f.subscribers, id)
		f.observer.OnPeerDisconnected(p.side)
	}
	clear(f.prefixRefs)
	f.observer.OnPrefixesChanged(0)
}
