package peer

import (
	"container/list"
	"sync/atomic"
	"time"

	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// completionKind picks which of Transaction's completion paths fires. A
// sealed sum avoids carrying an opaque self-referential payload pointer.
type completionKind int

const (
	completionUser completionKind = iota
	completionForward
)

// CompletionFunc is a user-supplied transaction completion: it receives the
// peer the request targeted, the original request header, the reply body
// (or nil on error), and a status code (CodeOK on a normal reply).
type CompletionFunc func(target *NetState, cmd wire.CommandHeader, body []byte, status sock.Code)

// Transaction tracks one in-flight request awaiting one or more replies.
type Transaction struct {
	LocalTrans  uint64
	RemoteTrans uint64
	Cmd         wire.CommandHeader
	Deadline    time.Time
	Target      *NetState

	kind       completionKind
	userFn     CompletionFunc
	forwardSrc *NetState

	refcnt  int32
	element *list.Element // this transaction's node in target.transList
}

// release drops one reference, freeing the transaction's hold on its target
// peer once the count reaches zero.
func (t *Transaction) release() {
	if atomic.AddInt32(&t.refcnt, -1) == 0 {
		t.Target.Put()
	}
}

// fire invokes the transaction's completion. Callers must not hold trans_lock.
func (t *Transaction) fire(body []byte, status sock.Code, terminal bool) {
	switch t.kind {
	case completionForward:
		forwardComplete(t, body, status, terminal)
	default:
		if t.userFn != nil {
			t.userFn(t.Target, t.Cmd, body, status)
		}
	}
}

// newTransaction allocates a transaction with the two units of ownership
// that the double release on a terminal reply unwinds: one for the table
// entry, one for the send that created it.
func newTransaction(target *NetState, local, remote uint64, cmd wire.CommandHeader, waitTS time.Duration) *Transaction {
	target.Get()
	return &Transaction{
		LocalTrans:  local,
		RemoteTrans: remote,
		Cmd:         cmd,
		Deadline:    time.Now().Add(waitTS),
		Target:      target,
		refcnt:      2,
	}
}

// insertTransaction adds t to both trans_root and trans_list under
// trans_lock, ahead of enqueuing its IO request: a transaction is in the map
// iff it is in the list, and a reply can never arrive before its transaction
// is findable.
func (st *NetState) insertTransaction(t *Transaction) error {
	st.transMu.Lock()
	defer st.transMu.Unlock()
	if _, exists := st.transRoot[t.LocalTrans]; exists {
		return sock.NewError(sock.CodeAlreadyExists, nil)
	}
	st.transRoot[t.LocalTrans] = t
	t.element = st.transList.PushBack(t)
	return nil
}

// SendTransaction allocates a local transaction id, inserts the transaction,
// and enqueues its IO request, in that order. fn is invoked on every reply;
// the transaction is removed once a non-fragment (terminal) reply, timeout,
// or peer reset fires.
func (st *NetState) SendTransaction(cmd wire.CommandHeader, body []byte, fn CompletionFunc) (*Transaction, error) {
	local := st.deps.TransIDs.NextTransID()
	cmd.Trans = local
	t := newTransaction(st, local, 0, cmd, st.deps.waitTS())
	t.kind = completionUser
	t.userFn = fn
	if err := st.insertTransaction(t); err != nil {
		t.Target.Put()
		return nil, err
	}
	if err := st.SendData(cmd, body); err != nil {
		st.removeTransaction(t)
		t.release()
		t.release()
		return nil, err
	}
	return t, nil
}

func (st *NetState) removeTransaction(t *Transaction) bool {
	st.transMu.Lock()
	defer st.transMu.Unlock()
	if _, ok := st.transRoot[t.LocalTrans]; !ok {
		return false
	}
	delete(st.transRoot, t.LocalTrans)
	st.transList.Remove(t.element)
	return true
}

// handleReply looks up the transaction named by cmd's ReplyBit-masked trans
// id. A terminal (non-MORE) reply removes it from both tables before firing
// the completion and double-releasing; a fragment reply re-stamps the
// deadline, moves to tail, and fires without releasing, since the
// transaction must survive to receive the remaining fragments.
func (st *NetState) handleReply(cmd wire.CommandHeader, body []byte) {
	id := cmd.TransID()
	terminal := cmd.Flags&wire.FlagMore == 0

	st.transMu.Lock()
	t, ok := st.transRoot[id]
	if !ok {
		st.transMu.Unlock()
		st.deps.Log.Debug().Uint64("trans", id).Msg("reply for unknown transaction")
		return
	}
	if terminal {
		delete(st.transRoot, id)
		st.transList.Remove(t.element)
	} else {
		t.Deadline = time.Now().Add(st.deps.waitTS())
		st.transList.MoveToBack(t.element)
	}
	st.transMu.Unlock()

	status := sock.Code(cmd.Status)
	t.fire(body, status, terminal)
	if terminal {
		t.release()
		t.release()
	}
}

// SweepTimeouts walks trans_list from the head, which is nearest to expiry
// since refreshed entries move to the tail, removing and completing every
// transaction whose deadline has passed. node.TimeoutSweeper drives it
// periodically for every registered peer.
func (st *NetState) SweepTimeouts(now time.Time) {
	for {
		st.transMu.Lock()
		front := st.transList.Front()
		if front == nil {
			st.transMu.Unlock()
			return
		}
		t := front.Value.(*Transaction)
		if t.Deadline.After(now) {
			st.transMu.Unlock()
			return
		}
		delete(st.transRoot, t.LocalTrans)
		st.transList.Remove(front)
		st.transMu.Unlock()

		t.fire(nil, sock.CodeTimeout, true)
		t.release()
		t.release()
	}
}

// sweepAll drains every pending transaction unconditionally, used by peer
// reset: every transaction completes with the given status and is released
// twice regardless of its fragment state.
func (st *NetState) sweepAll(status sock.Code) {
	st.transMu.Lock()
	pending := make([]*Transaction, 0, len(st.transRoot))
	for _, t := range st.transRoot {
		pending = append(pending, t)
	}
	st.transRoot = make(map[uint64]*Transaction)
	st.transList = list.New()
	st.transMu.Unlock()

	for _, t := range pending {
		t.fire(nil, status, true)
		t.release()
		t.release()
	}
}
