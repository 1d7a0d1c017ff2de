package peer

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// recvState is the accumulator for one inbound frame: a command header
// followed by cmd.Size bytes of body. It survives across readiness events
// the same way sendOffset does on the write side.
type recvState struct {
	headerBuf   [wire.CommandHeaderSize]byte
	headerDone  int
	haveHeader  bool
	cmd         wire.CommandHeader
	bodyBuf     []byte
	bodyDone    int
}

func (r *recvState) reset() {
	r.headerDone = 0
	r.haveHeader = false
	r.bodyBuf = nil
	r.bodyDone = 0
}

// NetState is a peer connection: a bidirectional socket plus its send
// scheduler and pending-transaction bookkeeping. The zero value is not
// usable; construct with Create.
type NetState struct {
	deps Deps

	Addr      sock.Address
	readSock  sock.Socket
	writeSock sock.Socket
	joinState uint32

	sendMu     sync.Mutex
	sendList   *list.List // of *ioRequest
	sendOffset int
	needExit   *sock.Error

	transMu   sync.Mutex
	transRoot map[uint64]*Transaction
	transList *list.List // of *Transaction, ordered by deadline

	recv recvState

	refcnt    int32
	resetOnce int32
}

// Create establishes peer state over an already-accepted or already-connected
// socket pair (read and write halves, duplicated so each can be closed
// independently), registers it in the route table, and arms receive
// readiness. It returns AlreadyExists if the address is already registered.
func Create(deps Deps, addr sock.Address, readSock, writeSock sock.Socket, joinState uint32) (*NetState, error) {
	st := &NetState{
		deps:      deps,
		Addr:      addr,
		readSock:  readSock,
		writeSock: writeSock,
		joinState: joinState,
		sendList:  list.New(),
		transRoot: make(map[uint64]*Transaction),
		transList: list.New(),
		refcnt:    1,
	}
	if err := deps.Routes.Register(st); err != nil {
		return nil, err
	}
	deps.Scheduler.ArmRead(st)
	deps.Log.Info().Stringer("addr", addr).Msg("peer created")
	return st, nil
}

// Get takes one additional reference on st.
func (st *NetState) Get() { atomic.AddInt32(&st.refcnt, 1) }

// Put releases one reference, destroying the peer when the count reaches
// zero.
func (st *NetState) Put() {
	if atomic.AddInt32(&st.refcnt, -1) == 0 {
		st.destroy()
	}
}

// ReadFD returns the file descriptor a scheduler should register for
// readable readiness.
func (st *NetState) ReadFD() int { return st.readSock.FD }

// WriteFD returns the file descriptor a scheduler should register for
// writable readiness.
func (st *NetState) WriteFD() int { return st.writeSock.FD }

// checkNeedExit reports the peer's terminal error, if any, under send_lock.
func (st *NetState) checkNeedExit() error {
	st.sendMu.Lock()
	defer st.sendMu.Unlock()
	if st.needExit != nil {
		return st.needExit
	}
	return nil
}
