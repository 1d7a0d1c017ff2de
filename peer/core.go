// Package peer implements the networking and transaction-routing core: a
// long-lived bidirectional connection to one other cluster member
// (NetState), its send scheduler, its transaction table, and the receive
// loop that classifies and routes inbound frames. Everything the core needs
// from outside itself (the route table, the poll-loop scheduler, the local
// command dispatcher, and the reconnect list) arrives as an injected
// interface, never a concrete dependency, so this package has no import on
// route/, dispatch/, reconnect/ or node/.
package peer

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// RouteTable is the node-level address/id index. Register must perform its
// existence check and insertion atomically so two concurrent Creates for the
// same address cannot both succeed. LookupByID and
// LookupByAddr return a NetState with one reference already taken on the
// caller's behalf; the caller must Put() it once done, independently of any
// longer-lived reference (such as a transaction's) it goes on to establish.
type RouteTable interface {
	LookupByID(id wire.RawID) (*NetState, bool)
	LookupByAddr(addr sock.Address) (*NetState, bool)
	Register(st *NetState) error
	Attach(st *NetState, ids []wire.RawID)
	Remove(st *NetState)
}

// Scheduler is the poll loop: it owns the readiness multiplexer and is told
// when a peer's socket should be watched for read/write readiness.
type Scheduler interface {
	ArmRead(st *NetState)
	ArmWrite(st *NetState)
	DisarmRead(st *NetState)
	DisarmWrite(st *NetState)
}

// Dispatcher runs a command this node owns. It never blocks the caller past
// the bounds it decides for itself; the core holds no extra peer reference
// across the call and drops the frame as soon as it returns.
type Dispatcher interface {
	ProcessCmd(st *NetState, cmd wire.CommandHeader, body []byte)
}

// ReconnectQueue receives addresses whose peer was torn down so something
// else can retry them later.
type ReconnectQueue interface {
	Enqueue(addr sock.Address, joinState uint32)
}

// TransIDs allocates node-wide unique local transaction ids.
type TransIDs interface {
	NextTransID() uint64
}

// Deps bundles every external collaborator a NetState needs, injected once
// at creation and shared by every peer the node owns.
type Deps struct {
	Routes    RouteTable
	Scheduler Scheduler
	Dispatch  Dispatcher
	Reconnect ReconnectQueue
	TransIDs  TransIDs
	Log       zerolog.Logger
	WaitTS    time.Duration
}

func (d Deps) waitTS() time.Duration {
	if d.WaitTS <= 0 {
		return 5 * time.Second
	}
	return d.WaitTS
}
