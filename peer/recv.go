package peer

import (
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// ReceiveReady drains everything currently readable on the peer's socket,
// framing and dispatching each complete unit as it arrives. It is invoked by
// the poll loop on readable readiness and returns nil once the socket would
// block. Any other error means the peer is no longer usable.
func (st *NetState) ReceiveReady() error {
	if err := st.checkNeedExit(); err != nil {
		return err
	}
	scratch := make([]byte, 64*1024)
	for {
		n, err := sock.RecvOnce(st.readSock.FD, scratch)
		if err != nil {
			if sock.Is(err, sock.CodeWouldBlock) {
				return nil
			}
			return err
		}
		st.feed(scratch[:n])
	}
}

// feed accumulates buf into the peer's partial frame, dispatching every
// complete (header, body) unit it completes along the way. Receive delivery
// order equals wire order because frames are dispatched in the order they
// complete within this loop.
func (st *NetState) feed(buf []byte) {
	for len(buf) > 0 {
		if !st.recv.haveHeader {
			n := copy(st.recv.headerBuf[st.recv.headerDone:], buf)
			st.recv.headerDone += n
			buf = buf[n:]
			if st.recv.headerDone < wire.CommandHeaderSize {
				return
			}
			cmd, err := wire.FromWire(st.recv.headerBuf[:])
			if err != nil {
				st.deps.Log.Error().Err(err).Msg("malformed command header, dropping connection state")
				st.recv.reset()
				return
			}
			st.recv.cmd = cmd
			st.recv.haveHeader = true
			if cmd.Size > 0 {
				st.recv.bodyBuf = make([]byte, cmd.Size)
			}
		}
		if len(st.recv.bodyBuf) > 0 && st.recv.bodyDone < len(st.recv.bodyBuf) {
			n := copy(st.recv.bodyBuf[st.recv.bodyDone:], buf)
			st.recv.bodyDone += n
			buf = buf[n:]
			if st.recv.bodyDone < len(st.recv.bodyBuf) {
				return
			}
		}
		cmd, body := st.recv.cmd, st.recv.bodyBuf
		st.recv.reset()
		st.dispatchFrame(cmd, body)
	}
}

// dispatchFrame classifies one framed unit: a reply goes to the transaction
// table, a request either runs locally or is forwarded to the peer the
// route table names as the key's owner.
func (st *NetState) dispatchFrame(cmd wire.CommandHeader, body []byte) {
	if cmd.IsReply() {
		st.handleReply(cmd, body)
		return
	}

	if cmd.Flags&wire.FlagDirect != 0 {
		st.deps.Dispatch.ProcessCmd(st, cmd, body)
		return
	}

	owner, ok := st.deps.Routes.LookupByID(cmd.ID)
	if !ok || owner == st {
		if ok {
			owner.Put()
		}
		st.deps.Dispatch.ProcessCmd(st, cmd, body)
		return
	}

	t := newForwardTransaction(owner, st, cmd, st.deps.waitTS())
	fwdCmd := cmd
	fwdCmd.Trans = t.LocalTrans

	if err := owner.insertTransaction(t); err != nil {
		st.deps.Log.Error().Err(err).Uint64("trans", t.LocalTrans).Msg("duplicate forwarding transaction id")
		t.forwardSrc.Put()
		owner.Put()
		owner.Put()
		return
	}
	if err := owner.SendData(fwdCmd, body); err != nil {
		owner.removeTransaction(t)
		t.forwardSrc.Put()
		t.release()
		t.release()
	}
	owner.Put()
}
