// Package clientengine drives one client-side transaction send: chunking,
// stop-and-wait retransmission driven by the server's per-chunk ACKs, and
// terminal ACK/NACK handling.
package clientengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/steefst33f/btcmesh/chunk"
	"github.com/steefst33f/btcmesh/sessionid"
	"github.com/steefst33f/btcmesh/transport"
	"github.com/steefst33f/btcmesh/wire"
)

// Reason distinguishes why a send failed.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonValidation
	ReasonTimeout
	ReasonRetryExhausted
	ReasonAborted
	ReasonPeerNack
	ReasonTransport
)

func (r Reason) String() string {
	switch r {
	case ReasonValidation:
		return "Validation"
	case ReasonTimeout:
		return "Timeout"
	case ReasonRetryExhausted:
		return "RetryExhausted"
	case ReasonAborted:
		return "Aborted"
	case ReasonPeerNack:
		return "PeerNack"
	case ReasonTransport:
		return "Transport"
	default:
		return "None"
	}
}

// Result is the terminal outcome of a Send call.
type Result struct {
	Success bool
	TXID    string
	Reason  Reason
	Detail  string
}

func (r Result) String() string {
	if r.Success {
		return fmt.Sprintf("Success(%s)", r.TXID)
	}
	if r.Detail != "" {
		return fmt.Sprintf("Failure(%s: %s)", r.Reason, r.Detail)
	}
	return fmt.Sprintf("Failure(%s)", r.Reason)
}

// Config holds the client engine's tunables.
type Config struct {
	ChunkSize       int
	AckTimeout      time.Duration
	MaxRetries      int
	TerminalTimeout time.Duration
}

// DefaultConfig returns the standard tunables: 170-character chunks, a
// 30s per-chunk ACK timeout, 3 retries, and a terminal timeout comfortably
// above the server's reassembly timeout (default 300s).
func DefaultConfig() Config {
	return Config{
		ChunkSize:       chunk.DefaultSize,
		AckTimeout:      30 * time.Second,
		MaxRetries:      3,
		TerminalTimeout: 320 * time.Second,
	}
}

// Engine runs client sends over a shared transport. One Engine may drive
// many concurrent Send calls; each gets its own session id and its own
// inbound message channel, so sessions never interfere with each other.
type Engine struct {
	tr   transport.Transport
	cfg  Config
	log  zerolog.Logger
	rand func() (string, error)

	mu       sync.Mutex
	sessions map[string]*inbox
}

// inbox is an unbounded, order-preserving mailbox for one session's
// inbound messages. A synchronous transport (or a bursty real one) can
// deliver several replies before Send's loop gets a chance to read any of
// them; a single-slot channel would silently drop the overflow, so
// messages queue here instead and wake is merely a doorbell.
type inbox struct {
	mu    sync.Mutex
	queue []wire.Message
	wake  chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (b *inbox) push(msg wire.Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pop returns the next queued message, if any.
func (b *inbox) pop() (wire.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	msg := b.queue[0]
	b.queue = b.queue[1:]
	return msg, true
}

// New constructs an Engine over tr. It takes over tr's OnReceive handler.
func New(tr transport.Transport, cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{
		tr:       tr,
		cfg:      cfg,
		log:      log,
		rand:     sessionid.New,
		sessions: make(map[string]*inbox),
	}
	tr.OnReceive(e.dispatch)
	return e
}

func (e *Engine) dispatch(sender, text string) {
	msg, err := wire.Parse(text)
	if err != nil {
		e.log.Debug().Str("sender", sender).Err(err).Msg("dropping malformed inbound frame")
		return
	}
	var sid string
	switch m := msg.(type) {
	case wire.ChunkAck:
		sid = m.SessionID
	case wire.Ack:
		sid = m.SessionID
	case wire.Nack:
		sid = m.SessionID
	default:
		return // chunks are outputs from the client's perspective, not inputs
	}
	e.mu.Lock()
	box, ok := e.sessions[sid]
	e.mu.Unlock()
	if !ok {
		return // not our session; ignore silently
	}
	box.push(msg)
}

// Send chunks txHex and drives it to a terminal Result against destination.
// ctx cancellation transitions the state machine to Failure(Aborted).
func (e *Engine) Send(ctx context.Context, txHex, destination string) Result {
	fragments, err := chunk.Split(txHex, e.cfg.ChunkSize)
	if err != nil {
		return Result{Reason: ReasonValidation, Detail: err.Error()}
	}

	sid, err := e.rand()
	if err != nil {
		return Result{Reason: ReasonValidation, Detail: "session id generation failed: " + err.Error()}
	}

	box := newInbox()
	e.mu.Lock()
	e.sessions[sid] = box
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.sessions, sid)
		e.mu.Unlock()
	}()

	log := e.log.With().Str("session_id", sid).Str("destination", destination).Logger()
	total := len(fragments)

	transmit := func(n int) Result {
		frame := wire.Chunk{SessionID: sid, N: n, Total: total, Payload: fragments[n-1]}.Format()
		if err := e.tr.Send(destination, frame); err != nil {
			return Result{Reason: ReasonTransport, Detail: err.Error()}
		}
		return Result{}
	}

	if res := transmit(1); res.Reason == ReasonTransport {
		return res
	}
	log.Info().Int("total_chunks", total).Msg("send started")

	current := 1
	retries := 0
	awaitingTerminal := false
	timer := time.NewTimer(e.cfg.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("send aborted by caller")
			return Result{Reason: ReasonAborted}

		case <-timer.C:
			if awaitingTerminal {
				log.Warn().Msg("terminal timeout waiting for peer's broadcast result")
				return Result{Reason: ReasonTimeout}
			}
			if retries >= e.cfg.MaxRetries {
				log.Warn().Int("chunk", current).Msg("retries exhausted")
				return Result{Reason: ReasonRetryExhausted}
			}
			retries++
			log.Debug().Int("chunk", current).Int("retry", retries).Msg("ack timeout, retransmitting")
			if res := transmit(current); res.Reason == ReasonTransport {
				return res
			}
			resetTimer(timer, e.cfg.AckTimeout)

		case <-box.wake:
			for {
				msg, ok := box.pop()
				if !ok {
					break
				}
				switch m := msg.(type) {
				case wire.Ack:
					log.Info().Str("txid", m.TXID).Msg("send succeeded")
					return Result{Success: true, TXID: m.TXID}
				case wire.Nack:
					log.Info().Str("detail", m.Detail).Msg("send rejected by peer")
					return Result{Reason: ReasonPeerNack, Detail: m.Detail}
				case wire.ChunkAck:
					if awaitingTerminal {
						continue // already sent everything; only a terminal message advances us now
					}
					if m.N != current && m.Next != current {
						continue // outside the expected window, ignore
					}
					retries = 0
					if m.Next == current {
						log.Debug().Int("chunk", current).Msg("server re-requested current chunk")
						if res := transmit(current); res.Reason == ReasonTransport {
							return res
						}
						resetTimer(timer, e.cfg.AckTimeout)
						continue
					}
					if m.Next == current+1 {
						if m.Next > total {
							awaitingTerminal = true
							log.Info().Msg("all chunks acknowledged, awaiting terminal result")
							resetTimer(timer, e.cfg.TerminalTimeout)
							continue
						}
						current++
						if res := transmit(current); res.Reason == ReasonTransport {
							return res
						}
						resetTimer(timer, e.cfg.AckTimeout)
					}
				}
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
