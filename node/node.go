// Package node ties the core together: the route table, reconnect list,
// keyspace partition, transaction-id counter and shutdown flag, held in a
// single owned Node object passed by reference rather than process-wide
// singletons.
package node

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/myelnet/hopcore/keyspace"
	"github.com/myelnet/hopcore/peer"
	"github.com/myelnet/hopcore/reconnect"
	"github.com/myelnet/hopcore/route"
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// Node owns every piece of shared, node-wide state the core's peers draw on.
type Node struct {
	// BootID identifies this particular process lifetime of the node,
	// distinct from any persistent node identity. It is generated once in
	// New and written to the startup log; it is not sent to peers and is not
	// part of join_state.
	BootID uuid.UUID

	Routes    *route.Table
	Reconnect *reconnect.Queue
	Keyspace  *keyspace.Keyspace
	Scheduler *Scheduler

	dispatch peer.Dispatcher
	events   *lifecycleBus
	log      zerolog.Logger
	waitTS   time.Duration

	transCounter uint64
	shutdown     int32
}

// Config bundles Node's construction-time dependencies.
type Config struct {
	Local    keyspace.Range
	Dispatch peer.Dispatcher
	Log      zerolog.Logger
	WaitTS   time.Duration
}

// New builds a Node with a fresh route table, reconnect queue, keyspace
// partition and poll-loop scheduler.
func New(cfg Config) *Node {
	waitTS := cfg.WaitTS
	if waitTS <= 0 {
		waitTS = 5 * time.Second
	}
	ks := keyspace.New(cfg.Local)
	return &Node{
		BootID:    uuid.New(),
		Routes:    route.New(ks),
		Reconnect: reconnect.New(),
		Keyspace:  ks,
		Scheduler: NewScheduler(),
		dispatch:  cfg.Dispatch,
		events:    newLifecycleBus(),
		log:       cfg.Log,
		waitTS:    waitTS,
	}
}

// NextTransID allocates a node-wide unique local transaction id, masking off
// ReplyBit so an allocated id is never mistaken for one (implements
// peer.TransIDs).
func (n *Node) NextTransID() uint64 {
	return atomic.AddUint64(&n.transCounter, 1) &^ wire.ReplyBit
}

// Deps returns the peer.Deps every NetState this node creates should share.
// The configured dispatcher is wrapped so range announcements are handled at
// the node level before anything else sees them.
func (n *Node) Deps() peer.Deps {
	return peer.Deps{
		Routes:    n.Routes,
		Scheduler: n.Scheduler,
		Dispatch:  announceDispatcher{n, n.dispatch},
		Reconnect: reconnectAdapter{n.Reconnect, n.events},
		TransIDs:  n,
		Log:       n.log,
		WaitTS:    n.waitTS,
	}
}

// CreatePeer establishes a new peer connection, publishes PeerCreated, and
// announces this node's own keyspace range to the new peer so it can route
// keys in that range back here.
func (n *Node) CreatePeer(addr sock.Address, readSock, writeSock sock.Socket, joinState uint32) (*peer.NetState, error) {
	st, err := peer.Create(n.Deps(), addr, readSock, writeSock, joinState)
	if err != nil {
		return nil, err
	}
	n.events.publish(LifecycleEvent{Kind: PeerCreated, Addr: addr})
	if err := n.AnnounceTo(st); err != nil {
		n.log.Warn().Err(err).Stringer("addr", addr).Msg("failed to announce keyspace range")
	}
	return st, nil
}

// Subscribe registers fn for every future lifecycle event this node
// publishes.
func (n *Node) Subscribe(fn func(LifecycleEvent)) func() {
	unsub := n.events.Subscribe(fn)
	return func() { unsub() }
}

// PeerCount returns the number of peers currently registered in the route
// table.
func (n *Node) PeerCount() int { return n.Routes.Count() }

// RequestShutdown sets the shared shutdown flag that ShuttingDown reports.
// The scheduler's Run loop and the timeout sweeper do not read this flag;
// they exit when their stop channel is closed.
func (n *Node) RequestShutdown() { atomic.StoreInt32(&n.shutdown, 1) }

// ShuttingDown reports whether RequestShutdown has been called.
func (n *Node) ShuttingDown() bool { return atomic.LoadInt32(&n.shutdown) != 0 }

// reconnectAdapter adapts *reconnect.Queue to peer.ReconnectQueue and
// publishes PeerReset alongside the enqueue, so lifecycle subscribers learn
// about faults the same way they learn about creation.
type reconnectAdapter struct {
	q      *reconnect.Queue
	events *lifecycleBus
}

func (r reconnectAdapter) Enqueue(addr sock.Address, joinState uint32) {
	r.q.Enqueue(addr, joinState)
	r.events.publish(LifecycleEvent{Kind: PeerReset, Addr: addr})
}

func classify(err error) sock.Code {
	if se, ok := err.(*sock.Error); ok {
		return se.Code
	}
	return sock.CodeConnectionReset
}
