package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BITCOIN_RPC_HOST", "BITCOIN_RPC_PORT", "BITCOIN_RPC_USER",
		"BITCOIN_RPC_PASSWORD", "BITCOIN_RPC_COOKIE", "MESHTASTIC_SERIAL_PORT",
		"REASSEMBLY_TIMEOUT_SECONDS",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadWithUserPassword(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITCOIN_RPC_USER", "alice")
	t.Setenv("BITCOIN_RPC_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.RPC.Host)
	require.Equal(t, 8332, cfg.RPC.Port)
	require.Equal(t, "alice", cfg.RPC.User)
	require.Equal(t, "secret", cfg.RPC.Pass)
	require.Equal(t, DefaultReassemblyTimeout, cfg.ReassemblyTimeout)
}

func TestLoadWithCookieFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cookiePath := filepath.Join(dir, ".cookie")
	require.NoError(t, os.WriteFile(cookiePath, []byte("bob:hunter2\n"), 0o600))
	t.Setenv("BITCOIN_RPC_COOKIE", cookiePath)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "bob", cfg.RPC.User)
	require.Equal(t, "hunter2", cfg.RPC.Pass)
}

func TestLoadMissingCredentials(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadReassemblyTimeoutOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BITCOIN_RPC_USER", "alice")
	t.Setenv("BITCOIN_RPC_PASSWORD", "secret")
	t.Setenv("REASSEMBLY_TIMEOUT_SECONDS", "60")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 60_000_000_000, int(cfg.ReassemblyTimeout))
}
