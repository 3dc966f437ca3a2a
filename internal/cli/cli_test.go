package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/casesync/internal/config"
	"github.com/iudanet/casesync/internal/engine"
	"github.com/iudanet/casesync/internal/iocli"
	"github.com/iudanet/casesync/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureIO собирает весь вывод команды в строку
type captureIO struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *captureIO) mock() *iocli.IOMock {
	return &iocli.IOMock{
		PrintlnFunc: func(a ...any) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.buf.WriteString(fmt.Sprintln(a...))
		},
		PrintfFunc: func(format string, a ...any) {
			c.mu.Lock()
			defer c.mu.Unlock()
			fmt.Fprintf(&c.buf, format, a...)
		},
		WriteFunc: func(p []byte) (int, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.buf.Write(p)
		},
	}
}

func (c *captureIO) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// offlineTransport держит движок в офлайне: все вызовы проваливаются
func offlineTransport() *transport.TransportMock {
	fail := func() error {
		return &transport.TransientError{Err: fmt.Errorf("unreachable")}
	}
	return &transport.TransportMock{
		PingFunc: func(ctx context.Context) error { return fail() },
	}
}

func newTestCli(t *testing.T) (*Cli, *captureIO) {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Server:  config.ServerConfig{URL: "http://localhost:0", Timeout: time.Second},
		Storage: config.StorageConfig{Driver: "bolt", Path: filepath.Join(t.TempDir(), "cli.db")},
		Queue:   config.QueueConfig{Capacity: 10},
		Dispatch: config.DispatchConfig{
			Workers:     1,
			MaxAttempts: 1,
		},
		Connectivity: config.ConnectivityConfig{ProbeInterval: time.Hour},
	}

	store, err := engine.OpenStore(ctx, cfg)
	require.NoError(t, err)

	eng, err := engine.New(ctx, cfg, store, engine.Options{
		Transport: offlineTransport(),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, eng.Close())
	})

	out := &captureIO{}
	return New(eng, out.mock()), out
}

func TestRun_UnknownCommand(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "frobnicate", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestStatus_Offline(t *testing.T) {
	cli, out := newTestCli(t)

	require.NoError(t, cli.Run(context.Background(), "status", nil))

	assert.Contains(t, out.String(), "Connectivity: offline")
	assert.Contains(t, out.String(), "Last sync:    never")
	assert.Contains(t, out.String(), "All local changes synchronized")
}

func TestAdd_QueuesOffline(t *testing.T) {
	ctx := context.Background()
	cli, out := newTestCli(t)

	err := cli.Run(ctx, "add", []string{"contato", "temp_1", `{"name":"Ana"}`})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Applied create to contato/temp_1")
	assert.Contains(t, out.String(), "Currently offline")

	// Очередь и статус отражают незаконченную работу
	out2 := &captureIO{}
	cli.io = out2.mock()
	require.NoError(t, cli.Run(ctx, "status", nil))
	assert.Contains(t, out2.String(), "Pending: 1 action(s)")
}

func TestAdd_RejectsInvalidJSON(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "add", []string{"contato", "c-1", "{broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestAdd_UsageError(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "add", []string{"contato"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}

func TestGet_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "get", []string{"contato", "c-1"}))

	assert.Contains(t, out.String(), "Entity:  contato/c-1")
	assert.Contains(t, out.String(), "Source:  cache")
	assert.Contains(t, out.String(), `{"name":"Ana"}`)
}

func TestGet_NotFoundOffline(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "get", []string{"contato", "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found locally")
}

func TestList(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))
	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-2", `{"name":"Bia"}`}))

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "list", []string{"contato"}))

	assert.Contains(t, out.String(), "Found 2 contato entities")
	assert.Contains(t, out.String(), "c-1")
	assert.Contains(t, out.String(), "c-2")
}

func TestList_EmptyType(t *testing.T) {
	cli, out := newTestCli(t)

	require.NoError(t, cli.Run(context.Background(), "list", []string{"processo"}))
	assert.Contains(t, out.String(), "No processo entities cached")

	err := cli.Run(context.Background(), "list", nil)
	assert.Error(t, err)
}

func TestDelete_HidesEntity(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))
	require.NoError(t, cli.Run(ctx, "delete", []string{"contato", "c-1"}))

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "list", []string{"contato"}))
	assert.Contains(t, out.String(), "No contato entities cached")
}

func TestPending(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "pending", nil))

	assert.Contains(t, out.String(), "Found 1 pending update(s)")
	assert.Contains(t, out.String(), "create contato/c-1")
}

func TestPending_Empty(t *testing.T) {
	cli, out := newTestCli(t)

	require.NoError(t, cli.Run(context.Background(), "pending", nil))
	assert.Contains(t, out.String(), "No pending updates")
}

func TestConflicts_Empty(t *testing.T) {
	cli, out := newTestCli(t)

	require.NoError(t, cli.Run(context.Background(), "conflicts", nil))
	assert.Contains(t, out.String(), "No unresolved conflicts")
}

func TestResolve_UnknownPolicy(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "resolve", []string{"cf-1", "coinflip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy")
}

func TestResolve_AlreadyResolved(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "resolve", []string{"missing", "server"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestSync_Offline(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "sync", nil))

	assert.Contains(t, out.String(), "Currently offline")
	assert.Contains(t, out.String(), "Flush requested (1 action(s) queued)")
}

func TestRetry_MissingAction(t *testing.T) {
	cli, _ := newTestCli(t)

	err := cli.Run(context.Background(), "retry", []string{"missing"})
	assert.Error(t, err)
}

func TestDiscard_RollsBack(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))

	actions, err := cli.engine.Actions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	require.NoError(t, cli.Run(ctx, "discard", []string{actions[0].ActionID}))

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "list", []string{"contato"}))
	assert.Contains(t, out.String(), "No contato entities cached")
}

func TestPending_ShowsActionID(t *testing.T) {
	ctx := context.Background()
	cli, _ := newTestCli(t)

	require.NoError(t, cli.Run(ctx, "add", []string{"contato", "c-1", `{"name":"Ana"}`}))

	actions, err := cli.engine.Actions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	out := &captureIO{}
	cli.io = out.mock()
	require.NoError(t, cli.Run(ctx, "pending", nil))
	assert.Contains(t, out.String(), actions[0].ActionID)
}
