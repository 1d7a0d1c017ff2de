package route

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/myelnet/hopcore/keyspace"
	"github.com/myelnet/hopcore/peer"
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// newTable builds a Table for a node owning the lower half of the id space.
func newTable() *Table {
	return New(keyspace.New(keyspace.EvenSplit(2)[0]))
}

type nopScheduler struct{}

func (nopScheduler) ArmRead(*peer.NetState)     {}
func (nopScheduler) ArmWrite(*peer.NetState)    {}
func (nopScheduler) DisarmRead(*peer.NetState)  {}
func (nopScheduler) DisarmWrite(*peer.NetState) {}

type nopDispatch struct{}

func (nopDispatch) ProcessCmd(*peer.NetState, wire.CommandHeader, []byte) {}

type nopReconnect struct{}

func (nopReconnect) Enqueue(sock.Address, uint32) {}

type seqIDs struct{ n uint64 }

func (s *seqIDs) NextTransID() uint64 { s.n++; return s.n }

func newTestPeer(t *testing.T, tbl *Table, port int) *peer.NetState {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	addr, err := sock.AddressFromTCP(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	deps := peer.Deps{
		Routes:    tbl,
		Scheduler: nopScheduler{},
		Dispatch:  nopDispatch{},
		Reconnect: nopReconnect{},
		TransIDs:  &seqIDs{},
	}
	st, err := peer.Create(deps, addr, sock.Socket{FD: fds[0]}, sock.Socket{FD: fds[0]}, 0)
	require.NoError(t, err)
	return st
}

func TestRegisterAndLookup(t *testing.T) {
	tbl := newTable()
	st := newTestPeer(t, tbl, 100)

	var id wire.RawID
	id[0] = 1
	tbl.Attach(st, []wire.RawID{id})

	found, ok := tbl.LookupByID(id)
	require.True(t, ok)
	require.Same(t, st, found)
	found.Put()

	byAddr, ok := tbl.LookupByAddr(st.Addr)
	require.True(t, ok)
	require.Same(t, st, byAddr)
	byAddr.Put()

	require.Equal(t, 1, tbl.Count())
	tbl.Remove(st)
	require.Equal(t, 0, tbl.Count())
	_, ok = tbl.LookupByID(id)
	require.False(t, ok)
}

func TestAll(t *testing.T) {
	tbl := newTable()
	a := newTestPeer(t, tbl, 300)
	b := newTestPeer(t, tbl, 301)
	defer tbl.Remove(a)
	defer tbl.Remove(b)

	peers := tbl.All()
	require.Len(t, peers, 2)
	for _, st := range peers {
		st.Put()
	}
}

func TestAttachRangeLookup(t *testing.T) {
	tbl := newTable()
	st := newTestPeer(t, tbl, 310)
	upper := keyspace.EvenSplit(2)[1]
	tbl.AttachRange(st, upper)

	var inUpper wire.RawID
	inUpper[0] = 0xff
	found, ok := tbl.LookupByID(inUpper)
	require.True(t, ok)
	require.Same(t, st, found)
	found.Put()

	// Ids in this node's own range resolve to no peer.
	var inLower wire.RawID
	inLower[0] = 0x01
	_, ok = tbl.LookupByID(inLower)
	require.False(t, ok)

	tbl.Remove(st)
	_, ok = tbl.LookupByID(inUpper)
	require.False(t, ok)
}

func TestRegisterDuplicateAddress(t *testing.T) {
	tbl := newTable()
	st := newTestPeer(t, tbl, 200)
	defer tbl.Remove(st)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	deps := peer.Deps{
		Routes:    tbl,
		Scheduler: nopScheduler{},
		Dispatch:  nopDispatch{},
		Reconnect: nopReconnect{},
		TransIDs:  &seqIDs{},
	}
	_, err = peer.Create(deps, st.Addr, sock.Socket{FD: fds[0]}, sock.Socket{FD: fds[0]}, 0)
	require.Error(t, err)
	require.True(t, sock.Is(err, sock.CodeAlreadyExists))
}
