package serverengine

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// recentCap bounds the "recently completed" replay set: large enough to
// absorb retransmit storms from a few concurrent senders, small enough to
// stay O(1) memory on constrained hardware.
const recentCap = 64

// table is the server's session directory: active sessions being
// collected or broadcast, plus a bounded replay cache of the last frame
// sent for sessions that already reached Terminal. The replay cache
// closes the race where a retransmitted final chunk arriving after
// eviction would otherwise spin up a brand new, permanently incomplete
// session.
type table struct {
	mu     sync.Mutex
	active map[string]*session
	recent *lru.Cache[string, string]
}

func newTable() *table {
	c, _ := lru.New[string, string](recentCap) // error only on invalid size
	return &table{
		active: make(map[string]*session),
		recent: c,
	}
}

// getOrCreate returns the existing session for id, or creates and
// registers a new one. The bool reports whether a new session was
// created; callers use it to decide whether to start the session's
// handler goroutine.
func (t *table) getOrCreate(id, sender string, total int) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.active[id]; ok {
		return s, false
	}
	s := newSession(id, sender, total)
	t.active[id] = s
	return s, true
}

func (t *table) remove(id string) {
	t.mu.Lock()
	delete(t.active, id)
	t.mu.Unlock()
}

// snapshot returns the currently active sessions for the janitor to
// inspect. Safe to call concurrently with getOrCreate/remove.
func (t *table) snapshot() []*session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*session, 0, len(t.active))
	for _, s := range t.active {
		out = append(out, s)
	}
	return out
}

func (t *table) rememberTerminal(id, frame string) {
	t.recent.Add(id, frame)
}

func (t *table) replayTerminal(id string) (string, bool) {
	return t.recent.Peek(id)
}
