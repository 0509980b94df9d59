// Command btcmesh-server is the long-running relay process: it listens on
// a mesh transport for chunked transactions, reassembles them, and
// broadcasts completed ones through Bitcoin Core's JSON-RPC interface.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/steefst33f/btcmesh/config"
	"github.com/steefst33f/btcmesh/mesheslog"
	"github.com/steefst33f/btcmesh/rpcclient"
	"github.com/steefst33f/btcmesh/serverengine"
	"github.com/steefst33f/btcmesh/transport"
	"github.com/steefst33f/btcmesh/transport/memtransport"
	"github.com/steefst33f/btcmesh/transport/serial"
)

// janitorInterval is how often the janitor sweeps for stale sessions.
// Well under a second so eviction latency stays bounded.
const janitorInterval = 500 * time.Millisecond

func main() {
	baud := flag.Int("baud", 115200, "serial baud rate, used when MESHTASTIC_SERIAL_PORT is set")
	flag.Parse()

	log := mesheslog.New("btcmesh-server", nil)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	bc := rpcclient.New(rpcclient.Config{
		Host: cfg.RPC.Host,
		Port: cfg.RPC.Port,
		User: cfg.RPC.User,
		Pass: cfg.RPC.Pass,
	})

	tr, closeTr, err := openTransport(cfg, *baud)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open transport")
	}
	defer closeTr()

	engine := serverengine.New(tr, bc, serverengine.Config{ReassemblyTimeout: cfg.ReassemblyTimeout}, log)
	janitor := serverengine.NewJanitor(engine, janitorInterval)
	go janitor.Start()
	defer janitor.Stop()

	log.Info().
		Str("local_node_id", tr.LocalNodeID()).
		Dur("reassembly_timeout", cfg.ReassemblyTimeout).
		Msg("btcmesh-server ready")

	waitForShutdown(log)
}

// openTransport opens the configured serial device, or falls back to a
// standalone in-memory transport when none is configured, for local
// development without mesh hardware attached.
func openTransport(cfg config.Server, baud int) (transport.Transport, func() error, error) {
	if cfg.SerialDevice == "" {
		fmt.Fprintln(os.Stderr, "warning: MESHTASTIC_SERIAL_PORT not set, running against an isolated in-memory transport")
		tr := memtransport.New(memtransport.NewHub(), "btcmesh-server")
		return tr, func() error { return nil }, nil
	}
	tr, err := serial.Open(cfg.SerialDevice, baud, "btcmesh-server")
	if err != nil {
		return nil, nil, err
	}
	return tr, tr.Close, nil
}

func waitForShutdown(log zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")
}
