package sock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestSendRecvOnce(t *testing.T) {
	a, b := socketpair(t)

	n, err := SendOnce(a, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, Wait(b, unix.POLLIN, 200*time.Millisecond))

	buf := make([]byte, 16)
	n, err = RecvOnce(b, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestRecvOnceWouldBlock(t *testing.T) {
	_, b := socketpair(t)
	buf := make([]byte, 16)
	_, err := RecvOnce(b, buf)
	require.True(t, Is(err, CodeWouldBlock))
}

func TestRecvOnceConnectionReset(t *testing.T) {
	a, b := socketpair(t)
	require.NoError(t, unix.Close(a))

	// The closed peer raises a hangup, which Wait itself reports as a reset.
	require.True(t, Is(Wait(b, unix.POLLIN, 200*time.Millisecond), CodeConnectionReset))
	buf := make([]byte, 16)
	_, err := RecvOnce(b, buf)
	require.True(t, Is(err, CodeConnectionReset))
}

func TestWaitTimeoutIsWouldBlock(t *testing.T) {
	_, b := socketpair(t)
	err := Wait(b, unix.POLLIN, 50*time.Millisecond)
	require.True(t, Is(err, CodeWouldBlock))
}

func TestRecvSyncAccumulatesAcrossPartialReads(t *testing.T) {
	a, b := socketpair(t)
	done := make(chan error, 1)
	buf := make([]byte, 10)
	go func() {
		done <- RecvSync(b, buf, nil)
	}()

	_, err := SendOnce(a, []byte("hello"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = SendOnce(a, []byte("world"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Equal(t, "helloworld", string(buf))
	case <-time.After(2 * time.Second):
		t.Fatal("RecvSync did not complete")
	}
}

func TestRecvSyncExitsOnNeedExit(t *testing.T) {
	_, b := socketpair(t)
	buf := make([]byte, 10)
	sentinel := NewError(CodeConnectionReset, nil)
	err := RecvSync(b, buf, func() error { return sentinel })
	require.Equal(t, sentinel, err)
}
