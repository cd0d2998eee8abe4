package cmd

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/pagelock/guard"
	"github.com/jmcleod/pagelock/internal/config"
)

func TestDialAddr(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8750": "127.0.0.1:8750",
		":9000":          "127.0.0.1:9000",
		"0.0.0.0:9000":   "127.0.0.1:9000",
		"[::]:9000":      "127.0.0.1:9000",
		"lock.local:80":  "lock.local:80",
		"no-port":        "no-port",
	}
	for in, want := range tests {
		assert.Equal(t, want, dialAddr(in), in)
	}
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, "Password: ", prompt(guard.ViewLock))
	assert.Contains(t, prompt(guard.ViewCreate), "New password")
	assert.Contains(t, prompt(guard.ViewReset), "New password")
}

func TestReadSecretFromPipe(t *testing.T) {
	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	t.Cleanup(func() { stdinIsTerminal = orig })

	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("hunter22\r\nsecond"))

	got, err := readSecret(in, &out, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter22", string(got))
	assert.Equal(t, "Password: ", out.String())

	got, err = readSecret(in, &out, "Password: ")
	require.NoError(t, err, "a final line without newline is still returned")
	assert.Equal(t, "second", string(got))

	_, err = readSecret(in, &out, "Password: ")
	assert.Error(t, err)
	assert.NoError(t, ignoreEOF(err))
}

func TestTerminalSurface(t *testing.T) {
	var out bytes.Buffer
	s := newTerminalSurface(&out)

	s.Render(guard.ViewLock)
	assert.Contains(t, out.String(), "Session locked")
	assert.Contains(t, out.String(), "Enter your password")

	s.SwitchView(guard.ViewReset)
	assert.Contains(t, out.String(), "password reset was authorized")

	s.ShowError("Incorrect password")
	assert.Contains(t, out.String(), "Incorrect password")

	out.Reset()
	s.Remove()
	assert.Contains(t, out.String(), "Session unlocked")
	assert.Contains(t, out.String(), "(lock | quit)")
	assert.NotContains(t, out.String(), "reset")
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Storage = config.StorageMemory
	repo, closer, err := openRepository(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, "b", "k", []byte("v")))
	require.NoError(t, closer.Close())

	cfg.Storage = config.StorageBBolt
	cfg.DataDir = filepath.Join(t.TempDir(), "nested")
	repo, closer, err = openRepository(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, "b", "k", []byte("v")))
	require.NoError(t, closer.Close())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "pagelock.db"))

	cfg.Storage = config.StorageSQLite
	repo, closer, err = openRepository(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, "b", "k", []byte("v")))
	require.NoError(t, closer.Close())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "pagelock.sqlite"))

	cfg.Storage = "tape"
	_, _, err = openRepository(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestOpenBusInMemory(t *testing.T) {
	bus, err := openBus(config.Default(), nil, slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())
}
