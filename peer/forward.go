package peer

import (
	"time"

	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// newForwardTransaction assigns a new local transaction id for a request
// being relayed to owner, preserving the original trans id as RemoteTrans so
// the reply can be rewritten back to the original requester.
func newForwardTransaction(owner *NetState, requester *NetState, cmd wire.CommandHeader, waitTS time.Duration) *Transaction {
	local := owner.deps.TransIDs.NextTransID()
	t := newTransaction(owner, local, cmd.TransID(), cmd, waitTS)
	t.kind = completionForward
	requester.Get()
	t.forwardSrc = requester
	return t
}

// forwardComplete rewrites the owner's reply so it carries the original
// requester's transaction id with ReplyBit set, and relays it back as a
// single header+body unit. The terminal reply additionally drops the
// reference taken on the requester's peer when the forward was created.
func forwardComplete(t *Transaction, body []byte, status sock.Code, terminal bool) {
	reply := t.Cmd
	reply.Trans = t.RemoteTrans | wire.ReplyBit
	reply.Status = int32(status)
	reply.Size = uint64(len(body))
	if !terminal {
		reply.Flags |= wire.FlagMore
	} else {
		reply.Flags &^= wire.FlagMore
	}

	if err := t.forwardSrc.SendData(reply, body); err != nil {
		t.forwardSrc.deps.Log.Warn().Err(err).Msg("failed to relay forwarded reply")
	}
	if terminal {
		t.forwardSrc.Put()
	}
}
