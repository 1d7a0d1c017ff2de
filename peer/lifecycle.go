package peer

import (
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/myelnet/hopcore/sock"
)

// Reset tears down a peer on I/O fault or explicit eviction: it removes
// the peer from the route table, marks it terminal so no further
// sends are accepted, disarms both readiness registrations, enqueues the
// address for reconnection, fails every pending transaction, and releases
// the route table's own reference. Reset only initiates teardown: destroy
// runs once the refcount actually reaches zero, which may be later if a
// transaction still targets this peer.
//
// Reset is idempotent. A peer's read and write readiness can both fire a
// fault in the same poll pass, and the scheduler has no way to know it
// already tore the peer down once. Only the first caller runs the teardown
// and releases the route table's reference; later callers are no-ops.
func (st *NetState) Reset(reason sock.Code) {
	if !atomic.CompareAndSwapInt32(&st.resetOnce, 0, 1) {
		return
	}

	st.deps.Routes.Remove(st)

	st.sendMu.Lock()
	if st.needExit == nil {
		st.needExit = sock.NewError(reason, nil)
		st.deps.Scheduler.DisarmWrite(st)
	}
	st.sendMu.Unlock()

	st.deps.Log.Warn().
		Err(xerrors.Errorf("peer reset, reconnect enqueued: %w", st.needExit)).
		Stringer("addr", st.Addr).
		Msg("tearing down peer")

	st.deps.Scheduler.DisarmRead(st)
	st.deps.Reconnect.Enqueue(st.Addr, st.joinState)
	st.sweepAll(reason)
	st.Put()
}

// destroy closes both socket halves and drains whatever remains on the send
// queue, freeing each request's duplicated file descriptor. It only runs
// once, from Put, when the last reference is released.
func (st *NetState) destroy() {
	_ = st.readSock.Close()
	if st.writeSock.FD != st.readSock.FD {
		_ = st.writeSock.Close()
	}

	st.sendMu.Lock()
	for e := st.sendList.Front(); e != nil; e = e.Next() {
		e.Value.(*ioRequest).release()
	}
	st.sendList.Init()
	st.sendMu.Unlock()

	st.deps.Log.Info().Stringer("addr", st.Addr).Msg("peer destroyed")
}
