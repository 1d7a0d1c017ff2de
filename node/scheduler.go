package node

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/myelnet/hopcore/peer"
)

// pollInterval bounds how long one Poll waits when no fd is armed, so Run
// can still observe a shutdown request promptly.
const pollInterval = 200 * time.Millisecond

// Scheduler is the poll loop: it multiplexes every armed peer socket with a
// single poll(2) and drives Drain/ReceiveReady on readiness. Registrations
// live in mutex-guarded maps keyed by fd.
type Scheduler struct {
	mu     sync.Mutex
	reads  map[int]*peer.NetState
	writes map[int]*peer.NetState
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{reads: make(map[int]*peer.NetState), writes: make(map[int]*peer.NetState)}
}

func (s *Scheduler) ArmRead(st *peer.NetState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[st.ReadFD()] = st
}

func (s *Scheduler) ArmWrite(st *peer.NetState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[st.WriteFD()] = st
}

func (s *Scheduler) DisarmRead(st *peer.NetState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reads, st.ReadFD())
}

func (s *Scheduler) DisarmWrite(st *peer.NetState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writes, st.WriteFD())
}

// Tick runs exactly one poll pass: it waits up to pollInterval for any armed
// fd to become ready and drives the corresponding peer method. A peer whose
// Drain or ReceiveReady reports a non-WouldBlock error is reset.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	pfds := make([]unix.PollFd, 0, len(s.reads)+len(s.writes))
	owners := make([]*peer.NetState, 0, cap(pfds))
	kinds := make([]bool, 0, cap(pfds)) // true = write
	for fd, st := range s.reads {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		owners = append(owners, st)
		kinds = append(kinds, false)
	}
	for fd, st := range s.writes {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
		owners = append(owners, st)
		kinds = append(kinds, true)
	}
	s.mu.Unlock()

	if len(pfds) == 0 {
		time.Sleep(pollInterval)
		return
	}

	n, err := unix.Poll(pfds, int(pollInterval.Milliseconds()))
	if err != nil || n == 0 {
		return
	}

	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		st := owners[i]
		var opErr error
		if kinds[i] {
			opErr = st.Drain()
		} else {
			opErr = st.ReceiveReady()
		}
		if opErr != nil {
			st.Reset(classify(opErr))
		}
	}
}

// Run drives Tick in a loop until stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			s.Tick()
		}
	}
}
