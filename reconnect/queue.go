// Package reconnect implements the deduplicated queue of peer addresses to
// retry: a flat list under its own lock, deduped on address equality,
// entries inserted on peer reset and removed when an attempt starts. A
// per-address backoff policy spaces repeated attempts out.
package reconnect

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/myelnet/hopcore/sock"
)

// Entry is one pending reconnect attempt.
type Entry struct {
	Addr      sock.Address
	JoinState uint32
}

// Queue is a deduplicated FIFO of Entry plus a per-address backoff policy
// so repeated failures space attempts out instead of spinning.
type Queue struct {
	mu       sync.Mutex
	order    []sock.Address
	pending  map[sock.Address]Entry
	backoffs map[sock.Address]*backoff.Backoff
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		pending:  make(map[sock.Address]Entry),
		backoffs: make(map[sock.Address]*backoff.Backoff),
	}
}

// Enqueue adds addr if it is not already pending; the list never holds two
// entries for the same address.
func (q *Queue) Enqueue(addr sock.Address, joinState uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.pending[addr]; exists {
		return
	}
	q.pending[addr] = Entry{Addr: addr, JoinState: joinState}
	q.order = append(q.order, addr)
}

// Next removes and returns the oldest pending entry. The caller owns the
// entry during its attempt and may Enqueue it again on failure.
func (q *Queue) Next() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return Entry{}, false
	}
	addr := q.order[0]
	q.order = q.order[1:]
	e := q.pending[addr]
	delete(q.pending, addr)
	return e, true
}

// Len reports how many addresses are currently pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Backoff returns the wait duration before the next attempt for addr,
// advancing that address's backoff state. RecordSuccess resets it.
func (q *Queue) Backoff(addr sock.Address) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.backoffs[addr]
	if !ok {
		b = &backoff.Backoff{Min: 200 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
		q.backoffs[addr] = b
	}
	return b.Duration()
}

// RecordSuccess clears addr's accumulated backoff after a successful
// reconnect.
func (q *Queue) RecordSuccess(addr sock.Address) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.backoffs[addr]; ok {
		b.Reset()
	}
}
