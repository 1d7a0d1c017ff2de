package peer

import (
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// enqueue appends req to the send FIFO and arms writability, unless the peer
// is already terminal.
func (st *NetState) enqueue(req *ioRequest) error {
	st.sendMu.Lock()
	defer st.sendMu.Unlock()
	if st.needExit != nil {
		req.release()
		return st.needExit
	}
	wasEmpty := st.sendList.Len() == 0
	st.sendList.PushBack(req)
	if wasEmpty {
		st.deps.Scheduler.ArmWrite(st)
	}
	return nil
}

// Send queues a bare header-only frame (e.g. an ack with no body).
func (st *NetState) Send(header wire.CommandHeader) error {
	return st.SendData(header, nil)
}

// SendData queues a header followed by an owned copy of data.
func (st *NetState) SendData(header wire.CommandHeader, data []byte) error {
	req, err := newIoRequest(wire.ToWire(header), data, 0, 0, 0)
	if err != nil {
		return err
	}
	return st.enqueue(req)
}

// SendFd queues a header followed by a file region spliced via sendfile(2).
func (st *NetState) SendFd(header wire.CommandHeader, fd int, offset int64, size int) error {
	req, err := newIoRequest(wire.ToWire(header), nil, fd, offset, size)
	if err != nil {
		return err
	}
	return st.enqueue(req)
}

// SendReply queues a reply frame: cmd's Trans rewritten with ReplyBit set,
// attr echoed ahead of body so the requester can tell which attribute the
// reply answers. The reply stays non-terminal when more is true or when the
// request carried FlagNeedAck, since a NeedAck request is always terminated
// by a separate SendAck once processing finishes.
func (st *NetState) SendReply(cmd wire.CommandHeader, attr wire.AttributeHeader, body []byte, more bool) error {
	reply := cmd
	reply.Trans = cmd.TransID() | wire.ReplyBit
	if more || cmd.Flags&wire.FlagNeedAck != 0 {
		reply.Flags |= wire.FlagMore
	} else {
		reply.Flags &^= wire.FlagMore
	}
	attr.Size = uint64(len(body))
	reply.Size = uint64(wire.AttributeHeaderSize + len(body))
	return st.SendData(reply, append(wire.ToWireAttr(attr), body...))
}

// SendAck queues the terminal acknowledgement for cmd: a bare reply header
// carrying the final status and no body.
func (st *NetState) SendAck(cmd wire.CommandHeader, status sock.Code) error {
	ack := cmd
	ack.Trans = cmd.TransID() | wire.ReplyBit
	ack.Flags &^= wire.FlagMore | wire.FlagNeedAck
	ack.Status = int32(status)
	ack.Size = 0
	return st.SendData(ack, nil)
}

// Drain sends from the head of the send queue, resuming from sendOffset, one
// non-blocking syscall at a time until the queue is empty or the socket
// would block. It is invoked by the poll loop on writable readiness. On
// EAGAIN it returns nil with the request left at the head for the next
// writable event; on any other I/O error it marks the peer terminal and
// returns the error.
func (st *NetState) Drain() error {
	for {
		st.sendMu.Lock()
		front := st.sendList.Front()
		if front == nil {
			st.deps.Scheduler.DisarmWrite(st)
			st.sendMu.Unlock()
			return nil
		}
		req := front.Value.(*ioRequest)
		off := st.sendOffset
		hsize, dsize, fsize := req.hsize(), req.dsize(), req.fsize()
		st.sendMu.Unlock()

		n, err := st.sendOnce(req, off, hsize, dsize, fsize)
		if err != nil {
			if sock.Is(err, sock.CodeWouldBlock) {
				return nil
			}
			st.markNeedExit(sock.CodeConnectionReset)
			return err
		}

		st.sendMu.Lock()
		st.sendOffset += n
		done := st.sendOffset >= hsize+dsize+fsize
		if done {
			st.sendList.Remove(front)
			st.sendOffset = 0
		}
		st.sendMu.Unlock()

		if done {
			req.release()
		}
	}
}

// sendOnce issues exactly one syscall for whichever region off currently
// falls in, comparing off against the cumulative boundaries hsize,
// hsize+dsize, hsize+dsize+fsize in turn.
func (st *NetState) sendOnce(req *ioRequest, off, hsize, dsize, fsize int) (int, error) {
	switch {
	case off < hsize:
		return sock.SendOnce(st.writeSock.FD, req.header[off:])
	case off < hsize+dsize:
		return sock.SendOnce(st.writeSock.FD, req.data[off-hsize:])
	case req.file != nil:
		localOff := req.file.offset + int64(off-hsize-dsize)
		n, _, err := sock.SendFileOnce(st.writeSock.FD, req.file.fd, localOff, fsize-(off-hsize-dsize))
		return n, err
	default:
		return 0, nil
	}
}

// markNeedExit sets needExit if unset and disarms write readiness, the
// send-path half of a peer reset.
func (st *NetState) markNeedExit(code sock.Code) {
	st.sendMu.Lock()
	defer st.sendMu.Unlock()
	if st.needExit == nil {
		st.needExit = sock.NewError(code, nil)
		st.deps.Scheduler.DisarmWrite(st)
	}
}
