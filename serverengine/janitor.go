package serverengine

import (
	"time"
)

// Janitor periodically evicts sessions that have sat in Collecting past
// e's configured reassembly timeout. It never touches a session that has
// already moved to Broadcasting or Terminal: those close out on their
// own, and the janitor evicting mid-broadcast would race the RPC call's
// own terminal ACK/NACK.
type Janitor struct {
	e        *Engine
	interval time.Duration
	stop     chan struct{}
}

// NewJanitor builds a Janitor that sweeps e's session table every
// interval, evicting sessions idle longer than e.cfg.ReassemblyTimeout.
// The engine is the single source of that timeout, so a caller who
// configures Config.ReassemblyTimeout doesn't need to hand it to the
// janitor separately. interval should be well under a second so eviction
// latency stays bounded.
func NewJanitor(e *Engine, interval time.Duration) *Janitor {
	return &Janitor{e: e, interval: interval, stop: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called. Call it in its own
// goroutine.
func (j *Janitor) Start() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stop:
			return
		}
	}
}

// Stop halts the sweep loop. Safe to call once.
func (j *Janitor) Stop() {
	close(j.stop)
}

func (j *Janitor) sweep() {
	now := time.Now()
	timeout := j.e.cfg.ReassemblyTimeout
	for _, s := range j.e.table.snapshot() {
		if s.getStatus() != Collecting {
			continue
		}
		if now.Sub(s.lastActivityTime()) < timeout {
			continue
		}
		select {
		case s.evictCh <- struct{}{}:
		default:
		}
	}
}
