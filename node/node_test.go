package node

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/myelnet/hopcore/keyspace"
	"github.com/myelnet/hopcore/peer"
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

type nopDispatch struct{}

func (nopDispatch) ProcessCmd(*peer.NetState, wire.CommandHeader, []byte) {}

func testAddr(t *testing.T, port int) sock.Address {
	t.Helper()
	a, err := sock.AddressFromTCP(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	return a
}

func TestCreatePeerAndCount(t *testing.T) {
	var local keyspace.Range
	local.Name = "self"
	n := New(Config{Local: local, Dispatch: nopDispatch{}, Log: zerolog.Nop()})
	require.NotEmpty(t, n.BootID.String())

	var seenCreate, seenReset bool
	unsub := n.Subscribe(func(evt LifecycleEvent) {
		switch evt.Kind {
		case PeerCreated:
			seenCreate = true
		case PeerReset:
			seenReset = true
		}
	})
	defer unsub()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))

	st, err := n.CreatePeer(testAddr(t, 400), sock.Socket{FD: fds[0]}, sock.Socket{FD: fds[0]}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n.PeerCount())
	require.True(t, seenCreate)

	st.Reset(sock.CodeConnectionReset)
	require.Equal(t, 0, n.PeerCount())
	require.Equal(t, 1, n.Reconnect.Len())
	require.True(t, seenReset)
}

// TestAnnounceAttachesRangeForForwarding covers the handshake that makes
// forwarding reachable: a peer announces the keyspace range it owns, and
// lookups for ids inside that range then resolve to it.
func TestAnnounceAttachesRangeForForwarding(t *testing.T) {
	shards := keyspace.EvenSplit(2)
	n := New(Config{Local: shards[0], Dispatch: nopDispatch{}, Log: zerolog.Nop()})

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))

	st, err := n.CreatePeer(testAddr(t, 402), sock.Socket{FD: fds[0]}, sock.Socket{FD: fds[0]}, 0)
	require.NoError(t, err)

	// The peer announces ownership of the upper half of the id space.
	payload := encodeAnnounce(shards[1])
	attr := wire.AttributeHeader{Cmd: CmdAnnounce, Size: uint64(len(payload))}
	body := append(wire.ToWireAttr(attr), payload...)
	cmd := wire.CommandHeader{
		ID:    shards[1].Start,
		Flags: wire.FlagDirect | wire.FlagNeedAck,
		Trans: 9,
		Size:  uint64(len(body)),
	}
	n.Deps().Dispatch.ProcessCmd(st, cmd, body)

	var id wire.RawID
	id[0] = 0xff
	owner, ok := n.Routes.LookupByID(id)
	require.True(t, ok)
	require.Same(t, st, owner)
	owner.Put()

	r, ok := n.Keyspace.Owner(id)
	require.True(t, ok)
	require.Equal(t, shards[1].Name, r.Name)

	// The announced range's start id doubles as an exact-index entry.
	exact, ok := n.Routes.LookupByID(shards[1].Start)
	require.True(t, ok)
	require.Same(t, st, exact)
	exact.Put()

	// An id this node owns itself resolves to no peer.
	var local wire.RawID
	local[0] = 0x01
	_, ok = n.Routes.LookupByID(local)
	require.False(t, ok)
}

func TestTimeoutSweeperDrainsExpiredTransactions(t *testing.T) {
	var local keyspace.Range
	local.Name = "self"
	n := New(Config{Local: local, Dispatch: nopDispatch{}, Log: zerolog.Nop(), WaitTS: 10 * time.Millisecond})

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))

	st, err := n.CreatePeer(testAddr(t, 401), sock.Socket{FD: fds[0]}, sock.Socket{FD: fds[0]}, 0)
	require.NoError(t, err)

	fired := make(chan sock.Code, 1)
	_, err = st.SendTransaction(wire.CommandHeader{}, nil, func(target *peer.NetState, cmd wire.CommandHeader, body []byte, status sock.Code) {
		fired <- status
	})
	require.NoError(t, err)

	stop := make(chan struct{})
	go n.TimeoutSweeper(stop)
	defer close(stop)

	select {
	case status := <-fired:
		require.Equal(t, sock.CodeTimeout, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout sweep never fired")
	}
}
