// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultReassemblyTimeout is used when REASSEMBLY_TIMEOUT_SECONDS is unset.
const DefaultReassemblyTimeout = 300 * time.Second

// RPC holds Bitcoin Core JSON-RPC connection parameters.
type RPC struct {
	Host string
	Port int
	User string
	Pass string
}

// Server is the full set of values the relay process needs at startup.
type Server struct {
	RPC RPC

	// SerialDevice is the path to the mesh USB-serial device, e.g.
	// "/dev/ttyUSB0". Empty means "use an in-memory transport" (local
	// testing only).
	SerialDevice string

	ReassemblyTimeout time.Duration
}

// Load reads Server configuration from the environment: RPC credentials
// come from a cookie file or an explicit user/password pair, and the
// reassembly timeout falls back to its default when unset.
func Load() (Server, error) {
	rpc, err := loadRPC()
	if err != nil {
		return Server{}, err
	}
	return Server{
		RPC:               rpc,
		SerialDevice:      os.Getenv("MESHTASTIC_SERIAL_PORT"),
		ReassemblyTimeout: loadReassemblyTimeout(),
	}, nil
}

func loadRPC() (RPC, error) {
	host := os.Getenv("BITCOIN_RPC_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := 8332
	if v := os.Getenv("BITCOIN_RPC_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return RPC{}, fmt.Errorf("config: invalid BITCOIN_RPC_PORT %q: %w", v, err)
		}
		port = p
	}

	if cookiePath := os.Getenv("BITCOIN_RPC_COOKIE"); cookiePath != "" {
		raw, err := os.ReadFile(cookiePath)
		if err != nil {
			return RPC{}, fmt.Errorf("config: reading cookie file %q: %w", cookiePath, err)
		}
		user, pass, ok := strings.Cut(strings.TrimSpace(string(raw)), ":")
		if !ok {
			return RPC{}, fmt.Errorf("config: cookie file %q is not user:password shaped", cookiePath)
		}
		return RPC{Host: host, Port: port, User: user, Pass: pass}, nil
	}

	user := os.Getenv("BITCOIN_RPC_USER")
	pass := os.Getenv("BITCOIN_RPC_PASSWORD")
	if user == "" || pass == "" {
		return RPC{}, fmt.Errorf("config: define BITCOIN_RPC_COOKIE or both BITCOIN_RPC_USER and BITCOIN_RPC_PASSWORD")
	}
	return RPC{Host: host, Port: port, User: user, Pass: pass}, nil
}

func loadReassemblyTimeout() time.Duration {
	v := os.Getenv("REASSEMBLY_TIMEOUT_SECONDS")
	if v == "" {
		return DefaultReassemblyTimeout
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return DefaultReassemblyTimeout
	}
	return time.Duration(secs) * time.Second
}
