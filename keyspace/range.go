// Package keyspace tracks which contiguous [start, end) slice of the id
// space each cluster member owns, so a node can tell whether it should
// serve a key itself or forward to the owner.
package keyspace

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/myelnet/hopcore/wire"
)

// Range is a half-open interval [Start, End) of the id space, compared as
// big-endian unsigned integers.
type Range struct {
	Name  string
	Start wire.RawID
	End   wire.RawID
}

// Owns reports whether id falls in [Start, End).
func (r Range) Owns(id wire.RawID) bool {
	return bytes.Compare(id[:], r.Start[:]) >= 0 && bytes.Compare(id[:], r.End[:]) < 0
}

func (r Range) String() string {
	return fmt.Sprintf("%s[%s,%s)", r.Name, r.Start, r.End)
}

// Keyspace is this node's view of the partition: its own owned range plus a
// registry of named ranges belonging to other cluster members, consulted by
// the route table when deciding whether to forward.
type Keyspace struct {
	mu     sync.RWMutex
	local  Range
	ranges map[string]Range
}

// New returns a Keyspace whose own owned range is local.
func New(local Range) *Keyspace {
	return &Keyspace{local: local, ranges: map[string]Range{local.Name: local}}
}

// Owns reports whether id belongs to this node's own range.
func (k *Keyspace) Owns(id wire.RawID) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.local.Owns(id)
}

// Local returns this node's own owned range.
func (k *Keyspace) Local() Range {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.local
}

// Register records a peer's owned range under its name.
func (k *Keyspace) Register(r Range) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ranges[r.Name] = r
}

// Unregister drops a previously registered range, e.g. once its peer resets.
func (k *Keyspace) Unregister(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.ranges, name)
}

// Owner returns whichever registered range (including this node's own)
// contains id.
func (k *Keyspace) Owner(id wire.RawID) (Range, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, r := range k.ranges {
		if r.Owns(id) {
			return r, true
		}
	}
	return Range{}, false
}

// EvenSplit partitions the id space into n contiguous ranges of
// floor(2^256 / n) ids each, the simplest bootstrap scheme for a fresh
// cluster of known size. The last range absorbs the remainder and ends at
// the all-0xff id; since End is exclusive, that single id is owned by no
// range.
func EvenSplit(n int) []Range {
	if n <= 0 {
		return nil
	}
	ranges := make([]Range, n)
	step := divCeilSpace(n)
	for i := 0; i < n; i++ {
		start := multiply(step, i)
		var end wire.RawID
		if i == n-1 {
			end = maxID()
		} else {
			end = multiply(step, i+1)
		}
		ranges[i] = Range{Name: fmt.Sprintf("shard-%d", i), Start: start, End: end}
	}
	return ranges
}
