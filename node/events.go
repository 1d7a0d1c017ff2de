package node

import (
	"fmt"

	"github.com/hannahhoward/go-pubsub"

	"github.com/myelnet/hopcore/sock"
)

// EventKind distinguishes the lifecycle events a Node publishes through its
// go-pubsub bus, which wraps a single sealed event type rather than an ad
// hoc observer list.
type EventKind int

const (
	// PeerCreated fires once a peer finishes Create.
	PeerCreated EventKind = iota
	// PeerReset fires when a peer begins teardown.
	PeerReset
)

// LifecycleEvent is published on every peer state transition a Node cares
// to announce (used by reconnection driving and diagnostics).
type LifecycleEvent struct {
	Kind EventKind
	Addr sock.Address
}

type lifecycleSubscriberFn func(LifecycleEvent)

type lifecycleBus struct {
	ps *pubsub.PubSub
}

func newLifecycleBus() *lifecycleBus {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(LifecycleEvent)
		if !ok {
			return fmt.Errorf("node: unexpected lifecycle event type %T", event)
		}
		fn, ok := subFn.(lifecycleSubscriberFn)
		if !ok {
			return fmt.Errorf("node: unexpected lifecycle subscriber type %T", subFn)
		}
		fn(evt)
		return nil
	})
	return &lifecycleBus{ps: ps}
}

// Subscribe registers fn for every future lifecycle event.
func (b *lifecycleBus) Subscribe(fn func(LifecycleEvent)) pubsub.Unsubscribe {
	var sub lifecycleSubscriberFn = fn
	return b.ps.Subscribe(sub)
}

func (b *lifecycleBus) publish(evt LifecycleEvent) {
	_ = b.ps.Publish(evt)
}
