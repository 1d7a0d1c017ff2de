package sock

import (
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// ListenBacklog is the backlog passed to listen(2).
const ListenBacklog = 10240

// connectPollTimeout is how long a non-blocking connect is given to become
// writable before it is abandoned as Timeout.
const connectPollTimeout = 2000 * time.Millisecond

// Socket is a raw, non-blocking file descriptor plus the address it is
// bound/connected to.
type Socket struct {
	FD     int
	Addr   Address
	Family int32
}

// Close performs shutdown(both) then close.
func (s Socket) Close() error {
	_ = unix.Shutdown(s.FD, unix.SHUT_RDWR)
	return unix.Close(s.FD)
}

// Dup returns an independent Socket sharing the same underlying file
// description, so a reader and a writer half can be closed independently.
func (s Socket) Dup() (Socket, error) {
	fd, err := unix.Dup(s.FD)
	if err != nil {
		return Socket{}, NewError(CodeFatal, err)
	}
	return Socket{FD: fd, Addr: s.Addr, Family: s.Family}, nil
}

// applySockopts configures keep-alive, linger and non-blocking mode:
// keepcnt=3, keepidle=10, keepintvl=10, linger{on=1, linger=1}.
func applySockopts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 10); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); err != nil {
		return err
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1}); err != nil {
		return err
	}
	return unix.SetNonblock(fd, true)
}

// CreateListening creates a bound, listening, non-blocking socket: bind +
// listen with SO_REUSEADDR and a 10240 backlog.
func CreateListening(tcpAddr *net.TCPAddr) (Socket, error) {
	addr, err := AddressFromTCP(tcpAddr)
	if err != nil {
		return Socket{}, NewError(CodeInvalidArgument, err)
	}
	fd, err := unix.Socket(int(addr.Family), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return Socket{}, NewError(CodeFatal, err)
	}
	sa, err := addr.toSockaddr()
	if err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeInvalidArgument, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeFatal, err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		log.Error().Err(err).Stringer("addr", addr).Msg("failed to bind")
		return Socket{}, NewError(CodeFatal, err)
	}
	if err := unix.Listen(fd, ListenBacklog); err != nil {
		_ = unix.Close(fd)
		log.Error().Err(err).Stringer("addr", addr).Msg("failed to listen")
		return Socket{}, NewError(CodeFatal, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeFatal, err)
	}
	log.Info().Stringer("addr", addr).Msg("listening")
	return Socket{FD: fd, Addr: addr, Family: addr.Family}, nil
}

// CreateConnecting opens a non-blocking connect, polling up to 2s for
// writability and then checking SO_ERROR to confirm the connection.
func CreateConnecting(tcpAddr *net.TCPAddr) (Socket, error) {
	addr, err := AddressFromTCP(tcpAddr)
	if err != nil {
		return Socket{}, NewError(CodeInvalidArgument, err)
	}
	fd, err := unix.Socket(int(addr.Family), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return Socket{}, NewError(CodeFatal, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeFatal, err)
	}
	sa, err := addr.toSockaddr()
	if err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeInvalidArgument, err)
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		log.Error().Err(err).Stringer("addr", addr).Msg("failed to connect")
		return Socket{}, NewError(CodeConnectionRefused, err)
	}
	if err == unix.EINPROGRESS {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, perr := unix.Poll(pfd, int(connectPollTimeout.Milliseconds()))
		if perr != nil {
			_ = unix.Close(fd)
			return Socket{}, NewError(CodeFatal, perr)
		}
		if n == 0 {
			_ = unix.Close(fd)
			log.Error().Stringer("addr", addr).Msg("timed out waiting to connect")
			return Socket{}, NewError(CodeTimeout, nil)
		}
		if pfd[0].Revents&unix.POLLOUT == 0 || pfd[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			_ = unix.Close(fd)
			log.Error().Stringer("addr", addr).Msg("connection refused")
			return Socket{}, NewError(CodeConnectionRefused, nil)
		}
		errno, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if serr != nil || errno != 0 {
			_ = unix.Close(fd)
			log.Error().Stringer("addr", addr).Int("so_error", errno).Msg("failed to connect")
			return Socket{}, NewError(CodeConnectionRefused, serr)
		}
	}
	if err := applySockopts(fd); err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeFatal, err)
	}
	log.Info().Stringer("addr", addr).Msg("connected")
	return Socket{FD: fd, Addr: addr, Family: addr.Family}, nil
}

// AcceptOn accepts one connection on a listening socket and applies the
// shared keep-alive/linger/non-blocking socket options.
func AcceptOn(listener Socket) (Socket, error) {
	fd, sa, err := unix.Accept(listener.FD)
	if err != nil {
		if err == unix.EAGAIN {
			return Socket{}, NewError(CodeWouldBlock, nil)
		}
		return Socket{}, NewError(CodeFatal, err)
	}
	if err := applySockopts(fd); err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeFatal, err)
	}
	addr, err := sockaddrToAddress(sa)
	if err != nil {
		_ = unix.Close(fd)
		return Socket{}, NewError(CodeInvalidArgument, err)
	}
	return Socket{FD: fd, Addr: addr, Family: addr.Family}, nil
}

func sockaddrToAddress(sa unix.Sockaddr) (Address, error) {
	var a Address
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		tcp := &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
		return AddressFromTCP(tcp)
	case *unix.SockaddrInet6:
		tcp := &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
		return AddressFromTCP(tcp)
	default:
		return a, NewError(CodeInvalidArgument, nil)
	}
}
