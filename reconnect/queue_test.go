package reconnect

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/hopcore/sock"
)

func addr(t *testing.T, port int) sock.Address {
	t.Helper()
	a, err := sock.AddressFromTCP(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port})
	require.NoError(t, err)
	return a
}

func TestEnqueueDedupes(t *testing.T) {
	q := New()
	a := addr(t, 1)
	q.Enqueue(a, 1)
	q.Enqueue(a, 2)
	require.Equal(t, 1, q.Len())
}

func TestNextIsFIFO(t *testing.T) {
	q := New()
	a1, a2 := addr(t, 1), addr(t, 2)
	q.Enqueue(a1, 0)
	q.Enqueue(a2, 0)

	e, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, a1, e.Addr)

	e, ok = q.Next()
	require.True(t, ok)
	require.Equal(t, a2, e.Addr)

	_, ok = q.Next()
	require.False(t, ok)
}

func TestBackoffGrows(t *testing.T) {
	q := New()
	a := addr(t, 1)
	first := q.Backoff(a)
	second := q.Backoff(a)
	require.Greater(t, second, first)
	q.RecordSuccess(a)
	reset := q.Backoff(a)
	require.Equal(t, first, reset)
}

func TestReEnqueueAfterNext(t *testing.T) {
	q := New()
	a := addr(t, 1)
	q.Enqueue(a, 0)
	_, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, 0, q.Len())

	q.Enqueue(a, 0)
	require.Equal(t, 1, q.Len())
}
