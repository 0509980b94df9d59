// Package serverengine implements the server-side reassembly half of the
// protocol: a session table keyed by session id, a per-session goroutine
// that serializes chunk handling so one slow broadcast never stalls
// another session, and the terminal ACK/NACK bookkeeping that closes a
// session out exactly once.
package serverengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/steefst33f/btcmesh/rpcclient"
	"github.com/steefst33f/btcmesh/transport"
	"github.com/steefst33f/btcmesh/wire"
)

// Config holds the server engine's tunables.
type Config struct {
	ReassemblyTimeout time.Duration
}

// DefaultConfig returns a 300s reassembly timeout.
func DefaultConfig() Config {
	return Config{ReassemblyTimeout: 300 * time.Second}
}

// Engine reassembles chunked transactions arriving over tr and broadcasts
// completed ones through bc.
type Engine struct {
	tr    transport.Transport
	bc    rpcclient.Broadcaster
	cfg   Config
	log   zerolog.Logger
	table *table
}

// New constructs an Engine over tr. It takes over tr's OnReceive handler.
func New(tr transport.Transport, bc rpcclient.Broadcaster, cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{tr: tr, bc: bc, cfg: cfg, log: log, table: newTable()}
	tr.OnReceive(e.OnMessage)
	return e
}

// OnMessage is the transport-facing entry point. Only Chunk frames are
// meaningful input here; the other three kinds are things this engine
// emits, never consumes.
func (e *Engine) OnMessage(sender, text string) {
	msg, err := wire.Parse(text)
	if err != nil {
		e.log.Debug().Str("sender", sender).Err(err).Msg("dropping malformed inbound frame")
		return
	}
	c, ok := msg.(wire.Chunk)
	if !ok {
		return
	}

	if frame, ok := e.table.replayTerminal(c.SessionID); ok {
		e.log.Debug().Str("session_id", c.SessionID).Msg("replaying cached terminal frame")
		e.reply(sender, frame)
		return
	}

	s, created := e.table.getOrCreate(c.SessionID, sender, c.Total)
	if created {
		go e.run(s)
	}
	select {
	case s.inCh <- chunkEvent{sender: sender, n: c.N, total: c.Total, payload: c.Payload}:
	default:
		e.log.Warn().Str("session_id", c.SessionID).Msg("session inbox full, dropping chunk")
	}
}

// run is the session's dedicated goroutine: every fragment for this
// session id is handled here, one at a time, so concurrent chunks for
// two different sessions never contend for the same lock.
func (e *Engine) run(s *session) {
	log := e.log.With().Str("session_id", s.id).Str("sender", s.sender).Logger()
	for {
		select {
		case ev := <-s.inCh:
			e.handleChunk(s, log, ev)
			if s.getStatus() != Collecting {
				return
			}
		case <-s.evictCh:
			if s.getStatus() == Collecting {
				log.Warn().Msg("reassembly timed out, evicting session")
				e.finish(s, wire.Nack{SessionID: s.id, Detail: "reassembly timeout"}.Format())
			}
			return
		}
	}
}

func (e *Engine) handleChunk(s *session, log zerolog.Logger, ev chunkEvent) {
	if ev.sender != s.sender {
		log.Debug().Str("got_sender", ev.sender).Msg("ignoring chunk from a different sender for this session id")
		return
	}
	if ev.total != s.total {
		log.Warn().Int("expected_total", s.total).Int("got_total", ev.total).Msg("inconsistent total_chunks")
		e.finish(s, wire.Nack{SessionID: s.id, Detail: "inconsistent total_chunks"}.Format())
		return
	}

	if existing, seen := s.chunks[ev.n]; seen {
		if existing == ev.payload {
			s.touch()
			e.sendChunkAck(s, log, ev.n, s.nextMissing())
			return
		}
		log.Warn().Int("chunk", ev.n).Msg("duplicate chunk number with mismatched payload")
		e.finish(s, wire.Nack{SessionID: s.id, Detail: "duplicate chunk mismatch"}.Format())
		return
	}

	s.chunks[ev.n] = ev.payload
	s.bits.Set(uint(ev.n))
	s.touch()

	next := s.nextMissing()
	e.sendChunkAck(s, log, ev.n, next)

	if next > s.total {
		e.complete(s, log)
	}
}

func (e *Engine) sendChunkAck(s *session, log zerolog.Logger, n, next int) {
	frame := wire.ChunkAck{SessionID: s.id, N: n, Next: next}.Format()
	if err := e.tr.Send(s.sender, frame); err != nil {
		log.Warn().Err(err).Msg("failed to send chunk ack")
	}
}

// complete transitions a fully-collected session to Broadcasting, submits
// the concatenated hex over RPC, and emits the terminal ACK or NACK.
func (e *Engine) complete(s *session, log zerolog.Logger) {
	s.setStatus(Broadcasting)
	hex := s.concatenate()
	log.Info().Int("bytes", len(hex)/2).Msg("all chunks received, broadcasting")

	txid, err := e.bc.Broadcast(context.Background(), hex)
	if err != nil {
		detail := err.Error()
		if rpcErr, ok := err.(*rpcclient.RpcError); ok {
			detail = rpcErr.Detail
		}
		log.Warn().Str("detail", detail).Msg("broadcast rejected")
		e.finish(s, wire.Nack{SessionID: s.id, Detail: detail}.Format())
		return
	}
	log.Info().Str("txid", txid).Msg("broadcast succeeded")
	e.finish(s, wire.Ack{SessionID: s.id, TXID: txid}.Format())
}

// finish emits a terminal frame exactly once, evicts the session from the
// active table, and caches the frame so a retransmitted final chunk
// replays it instead of spawning a fresh, permanently incomplete session.
func (e *Engine) finish(s *session, frame string) {
	s.setStatus(Terminal)
	e.table.remove(s.id)
	e.table.rememberTerminal(s.id, frame)
	e.log.Debug().Str("session_id", s.id).Dur("session_age", time.Since(s.firstSeen)).Msg("session closed")
	e.reply(s.sender, frame)
}

func (e *Engine) reply(destination, frame string) {
	if err := e.tr.Send(destination, frame); err != nil {
		e.log.Warn().Str("destination", destination).Err(err).Msg("failed to deliver terminal frame")
	}
}
