// Package serial implements transport.Transport over a USB-serial link to
// a Meshtastic-style device, using newline-delimited text frames. The
// port is opened with a fixed baud rate and read timeout, then drained on
// a dedicated goroutine that accumulates raw bytes into its own buffer
// rather than layering a bufio.Reader over a timeout-driven port.
//
// Frame shape on the wire (device side): "<sender>\t<payload>\n" for
// inbound lines, "<destination>\t<payload>\n" for outbound. A real
// Meshtastic firmware speaks a richer protobuf-based serial API; this
// adapter models the narrow text-in/text-out contract the core engines
// need.
package serial

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	"github.com/steefst33f/btcmesh/transport"
)

const readTimeout = 100 * time.Millisecond

// Transport is a transport.Transport backed by a serial port.
type Transport struct {
	nodeID string

	writeMu sync.Mutex
	port    goserial.Port

	handlerMu sync.Mutex
	handler   transport.Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens portName at baud and starts the background read loop. nodeID
// is this adapter's own identifier, reported by LocalNodeID.
func Open(portName string, baud int, nodeID string) (*Transport, error) {
	mode := &goserial.Mode{BaudRate: baud}
	port, err := goserial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}
	t := &Transport{nodeID: nodeID, port: port, closed: make(chan struct{})}
	go t.readLoop()
	return t, nil
}

// readLoop accumulates raw bytes into buf itself rather than handing the
// port to a bufio.Reader: with SetReadTimeout in effect, Read returns
// (0, nil) on every idle interval, and bufio.ReadString treats a run of
// those as io.ErrNoProgress and gives up. On a sparse mesh, idle is the
// normal case, so a zero-byte read just means "nothing yet, check closed
// and read again", never a reason to exit.
func (t *Transport) readLoop() {
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		select {
		case <-t.closed:
			return
		default:
		}

		n, err := t.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(string(buf[:idx]), "\r")
				buf = buf[idx+1:]
				t.deliver(line)
			}
		}
		if err != nil {
			if err == io.EOF {
				select {
				case <-t.closed:
					return
				default:
					continue
				}
			}
			return
		}
	}
}

func (t *Transport) deliver(line string) {
	if line == "" {
		return
	}
	sender, payload, ok := strings.Cut(line, "\t")
	if !ok {
		return
	}
	t.handlerMu.Lock()
	h := t.handler
	t.handlerMu.Unlock()
	if h != nil {
		h(sender, payload)
	}
}

func (t *Transport) Send(destination, text string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := fmt.Fprintf(t.port, "%s\t%s\n", destination, text)
	if err != nil {
		return &transport.SendFailedError{Destination: destination, Err: err}
	}
	return nil
}

func (t *Transport) OnReceive(h transport.Handler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

func (t *Transport) LocalNodeID() string { return t.nodeID }

// Close stops the read loop and closes the underlying serial port.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.port.Close()
	})
	return err
}
