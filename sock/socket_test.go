package sock

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateListeningConnectAccept(t *testing.T) {
	ln, err := CreateListening(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	sa, err := unix.Getsockname(ln.FD)
	require.NoError(t, err)
	in4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)

	target := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: in4.Port}

	accepted := make(chan Socket, 1)
	acceptErr := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			s, err := AcceptOn(ln)
			if err == nil {
				accepted <- s
				return
			}
			if Is(err, CodeWouldBlock) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			acceptErr <- err
			return
		}
		acceptErr <- NewError(CodeTimeout, nil)
	}()

	client, err := CreateConnecting(target)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case s := <-accepted:
		defer s.Close()
		require.Equal(t, int32(unix.AF_INET), s.Family)
	case err := <-acceptErr:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}
}

func TestAddressFromTCPRoundTrip(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4321}
	a, err := AddressFromTCP(tcp)
	require.NoError(t, err)
	ip, port, err := a.decode()
	require.NoError(t, err)
	require.Equal(t, 4321, port)
	require.True(t, ip.Equal(tcp.IP))
}

func TestAddressIsComparable(t *testing.T) {
	a1, _ := AddressFromTCP(&net.TCPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 1})
	a2, _ := AddressFromTCP(&net.TCPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 1})
	a3, _ := AddressFromTCP(&net.TCPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 2})
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, a3)

	set := map[Address]bool{a1: true}
	require.True(t, set[a2])
	require.False(t, set[a3])
}
