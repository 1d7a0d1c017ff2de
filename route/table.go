// Package route provides the node-level address/id index: the lookup
// interface peer.NetState consults to decide whether an incoming request is
// locally owned or must be forwarded, and the registry every peer attaches
// itself to on creation and detaches from on reset.
package route

import (
	"sync"

	"github.com/myelnet/hopcore/keyspace"
	"github.com/myelnet/hopcore/peer"
	"github.com/myelnet/hopcore/sock"
	"github.com/myelnet/hopcore/wire"
)

// Table is the default in-memory route table. Exact-id entries are consulted
// first; an id with no exact entry is resolved through the keyspace
// partition to whichever peer announced the contiguous range containing it.
type Table struct {
	mu      sync.RWMutex
	ks      *keyspace.Keyspace
	byAddr  map[sock.Address]*peer.NetState
	byID    map[wire.RawID]*peer.NetState
	byRange map[string]*peer.NetState
}

// New returns an empty Table resolving ranged lookups through ks.
func New(ks *keyspace.Keyspace) *Table {
	return &Table{
		ks:      ks,
		byAddr:  make(map[sock.Address]*peer.NetState),
		byID:    make(map[wire.RawID]*peer.NetState),
		byRange: make(map[string]*peer.NetState),
	}
}

// LookupByID returns the peer owning id, with one reference taken on the
// caller's behalf. Ids with no exact entry fall back to the keyspace
// partition; an id in this node's own range resolves to no peer, which the
// receive path treats as locally owned.
func (t *Table) LookupByID(id wire.RawID) (*peer.NetState, bool) {
	t.mu.RLock()
	if st, ok := t.byID[id]; ok {
		st.Get()
		t.mu.RUnlock()
		return st, true
	}
	t.mu.RUnlock()

	r, ok := t.ks.Owner(id)
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.byRange[r.Name]
	if ok {
		st.Get()
	}
	return st, ok
}

// LookupByAddr returns the peer connected at addr, with one reference taken
// on the caller's behalf.
func (t *Table) LookupByAddr(addr sock.Address) (*peer.NetState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.byAddr[addr]
	if ok {
		st.Get()
	}
	return st, ok
}

// Register atomically checks for and inserts a peer under addr, returning
// AlreadyExists if one is already registered there.
func (t *Table) Register(st *peer.NetState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byAddr[st.Addr]; exists {
		return sock.NewError(sock.CodeAlreadyExists, nil)
	}
	t.byAddr[st.Addr] = st
	return nil
}

// Attach indexes st under each of ids, once its identity has been announced
// (a peer may sit in the address-only "empty" list until then).
func (t *Table) Attach(st *peer.NetState, ids []wire.RawID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.byID[id] = st
	}
}

// AttachRange indexes st as the owner of the contiguous range r: the range
// is registered in the keyspace partition so Owner resolves ids inside it,
// and st becomes the peer ranged lookups for those ids return.
func (t *Table) AttachRange(st *peer.NetState, r keyspace.Range) {
	t.mu.Lock()
	t.byRange[r.Name] = st
	t.mu.Unlock()
	t.ks.Register(r)
}

// Remove detaches st from every index and unregisters any ranges it had
// announced.
func (t *Table) Remove(st *peer.NetState) {
	t.mu.Lock()
	delete(t.byAddr, st.Addr)
	for id, v := range t.byID {
		if v == st {
			delete(t.byID, id)
		}
	}
	var names []string
	for name, v := range t.byRange {
		if v == st {
			delete(t.byRange, name)
			names = append(names, name)
		}
	}
	t.mu.Unlock()
	for _, name := range names {
		t.ks.Unregister(name)
	}
}

// Count returns the number of address-registered peers.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}

// All returns a snapshot of every currently registered peer, with one
// reference taken on the caller's behalf per peer (the caller must Put()
// each once done). Used by the periodic timeout sweep, which must not hold
// state_lock across peer.SweepTimeouts's own trans_lock acquisition.
func (t *Table) All() []*peer.NetState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]*peer.NetState, 0, len(t.byAddr))
	for _, st := range t.byAddr {
		st.Get()
		peers = append(peers, st)
	}
	return peers
}
