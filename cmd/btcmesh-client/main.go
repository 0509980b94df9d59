// Command btcmesh-client sends one raw Bitcoin transaction across the mesh
// to a destination node running btcmesh-server, printing the resulting
// TXID or failure reason and exiting with a code a calling script can
// branch on.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/steefst33f/btcmesh/chunk"
	"github.com/steefst33f/btcmesh/clientengine"
	"github.com/steefst33f/btcmesh/mesheslog"
	"github.com/steefst33f/btcmesh/transport/serial"
)

const (
	exitSuccess    = 0
	exitValidation = 1
	exitTimeout    = 2
	exitPeerNack   = 3
	exitTransport  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	destination := flag.String("d", "", "destination node id, e.g. !abcdef12")
	flag.StringVar(destination, "destination", "", "alias for -d")
	txHex := flag.String("tx", "", "raw transaction hex to relay")
	dryRun := flag.Bool("dry-run", false, "chunk the transaction and print the plan without sending")
	device := flag.String("device", "", "serial device path for the mesh radio, e.g. /dev/ttyUSB0")
	baud := flag.Int("baud", 115200, "serial baud rate")
	flag.Parse()

	log := mesheslog.New("btcmesh-client", nil)

	if *txHex == "" {
		fmt.Fprintln(os.Stderr, "FAILURE: -tx is required")
		return exitValidation
	}

	fragments, err := chunk.Split(*txHex, chunk.DefaultSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILURE: %v\n", err)
		return exitValidation
	}

	if *dryRun {
		fmt.Printf("would send %d chunk(s) of up to %d hex characters each to %s\n", len(fragments), chunk.DefaultSize, *destination)
		return exitSuccess
	}

	if *destination == "" {
		fmt.Fprintln(os.Stderr, "FAILURE: -d/--destination is required")
		return exitValidation
	}
	if *device == "" {
		fmt.Fprintln(os.Stderr, "FAILURE: --device is required unless --dry-run is set")
		return exitValidation
	}

	tr, err := serial.Open(*device, *baud, "btcmesh-client")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILURE: opening serial device: %v\n", err)
		return exitTransport
	}
	defer tr.Close()

	engine := clientengine.New(tr, clientengine.DefaultConfig(), log)
	res := engine.Send(context.Background(), *txHex, *destination)

	if res.Success {
		fmt.Printf("SUCCESS: %s\n", res.TXID)
		return exitSuccess
	}

	fmt.Fprintf(os.Stderr, "FAILURE: %s: %s\n", res.Reason, res.Detail)
	switch res.Reason {
	case clientengine.ReasonPeerNack:
		return exitPeerNack
	case clientengine.ReasonTimeout, clientengine.ReasonRetryExhausted:
		return exitTimeout
	case clientengine.ReasonTransport:
		return exitTransport
	default:
		return exitValidation
	}
}
