package sock

import (
	"time"

	"golang.org/x/sys/unix"
)

// syncRecvPollTimeout is the poll interval used by the synchronous recv
// helper.
const syncRecvPollTimeout = 1000 * time.Millisecond

// ioErrno maps the errno of a failed send/recv/sendfile: EAGAIN is
// WouldBlock, a torn-down connection is ConnectionReset, anything else is a
// contract violation.
func ioErrno(err error) *Error {
	switch err {
	case unix.EAGAIN:
		return NewError(CodeWouldBlock, nil)
	case unix.ECONNRESET, unix.EPIPE:
		return NewError(CodeConnectionReset, err)
	default:
		return NewError(CodeFatal, err)
	}
}

// SendOnce issues a single non-blocking send(2) and returns the number of
// bytes transferred. A partial write is reported as n < len(buf) with a nil
// error; EAGAIN is reported as CodeWouldBlock; a zero-byte send or a torn
// connection maps to CodeConnectionReset.
func SendOnce(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, ioErrno(err)
	}
	if n == 0 {
		return 0, NewError(CodeConnectionReset, nil)
	}
	return n, nil
}

// RecvOnce issues a single non-blocking recv(2).
func RecvOnce(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, ioErrno(err)
	}
	if n == 0 {
		return 0, NewError(CodeConnectionReset, nil)
	}
	return n, nil
}

// SendFileOnce splices size bytes of srcFD starting at offset directly to
// dstFD via sendfile(2), returning bytes transferred and the new offset.
func SendFileOnce(dstFD, srcFD int, offset int64, size int) (int, int64, error) {
	off := offset
	n, err := unix.Sendfile(dstFD, srcFD, &off, size)
	if err != nil {
		return 0, offset, ioErrno(err)
	}
	if n == 0 {
		return 0, offset, NewError(CodeConnectionReset, nil)
	}
	return n, off, nil
}

// Wait polls fd for the given event set (POLLIN/POLLOUT) for at most
// timeout. A hangup/error condition or a closed peer surfaces as
// ConnectionReset, a zero-event timeout as WouldBlock.
func Wait(fd int, events int16, timeout time.Duration) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return NewError(CodeWouldBlock, nil)
		}
		return NewError(CodeFatal, err)
	}
	if n == 0 {
		return NewError(CodeWouldBlock, nil)
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return NewError(CodeConnectionReset, nil)
	}
	if pfd[0].Revents&events != 0 {
		return nil
	}
	return NewError(CodeInvalidArgument, nil)
}

// RecvSync is the bootstrap synchronous recv helper: it loops waiting up to
// 1s for readability and reading until size bytes have arrived, for use only
// during handshakes before the peer is handed to the async receive loop. It
// returns as soon as needExit reports non-nil, so a shutdown always
// terminates the loop instead of polling forever.
func RecvSync(fd int, buf []byte, needExit func() error) error {
	size := len(buf)
	off := 0
	for size > 0 {
		if needExit != nil {
			if err := needExit(); err != nil {
				return err
			}
		}
		if err := Wait(fd, unix.POLLIN, syncRecvPollTimeout); err != nil {
			if Is(err, CodeWouldBlock) {
				continue
			}
			return err
		}
		n, err := RecvOnce(fd, buf[off:])
		if err != nil {
			if Is(err, CodeWouldBlock) {
				continue
			}
			return err
		}
		off += n
		size -= n
	}
	return nil
}
