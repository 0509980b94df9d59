package serverengine

import (
	"sync/atomic"
	"time"

	"github.com/willf/bitset"
)

// Status is the lifecycle stage of a reassembly session.
type Status int32

const (
	Collecting Status = iota
	Broadcasting
	Terminal
)

func (s Status) String() string {
	switch s {
	case Collecting:
		return "Collecting"
	case Broadcasting:
		return "Broadcasting"
	case Terminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// chunkEvent is one inbound chunk queued for a session's serialized
// handler goroutine.
type chunkEvent struct {
	sender  string
	n       int
	total   int
	payload string
}

// session is the server-side reassembly record for one session id. All
// mutation happens on its own goroutine (run), so the fields below are
// unsynchronized except lastActivity and status, which the janitor reads
// from another goroutine.
type session struct {
	id     string
	sender string // pinned to the first sender seen; never changes
	total  int    // pinned on first fragment; never changes

	chunks map[int]string
	bits   *bitset.BitSet

	firstSeen    time.Time
	lastActivity atomic.Int64 // unix nano
	status       atomic.Int32 // Status

	inCh    chan chunkEvent
	evictCh chan struct{}
}

func newSession(id, sender string, total int) *session {
	s := &session{
		id:        id,
		sender:    sender,
		total:     total,
		chunks:    make(map[int]string, total),
		bits:      bitset.New(uint(total + 1)),
		firstSeen: time.Now(),
		inCh:      make(chan chunkEvent, 32),
		evictCh:   make(chan struct{}, 1),
	}
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *session) lastActivityTime() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *session) getStatus() Status {
	return Status(s.status.Load())
}

func (s *session) setStatus(st Status) {
	s.status.Store(int32(st))
}

// nextMissing returns the smallest chunk number in [1, total] not yet
// stored, or total+1 if every chunk has arrived.
func (s *session) nextMissing() int {
	for i := 1; i <= s.total; i++ {
		if !s.bits.Test(uint(i)) {
			return i
		}
	}
	return s.total + 1
}

// concatenate joins the stored fragments in ascending chunk order.
func (s *session) concatenate() string {
	out := make([]byte, 0, s.total*170)
	for i := 1; i <= s.total; i++ {
		out = append(out, s.chunks[i]...)
	}
	return string(out)
}
