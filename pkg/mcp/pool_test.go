package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	closed  atomic.Bool
	pingErr error
	tools   []RemoteTool
}

func (c *fakeClient) ListTools(_ context.Context) ([]RemoteTool, error) { return c.tools, nil }

func (c *fakeClient) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	return "result from " + name, nil
}

func (c *fakeClient) Ping(_ context.Context) error { return c.pingErr }

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func testConfig() config.MCPConfig {
	cfg := config.MCPConfig{
		Servers: map[string]*config.MCPServerConfig{
			"files": {URL: "http://files.test/mcp"},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestGetConnectsOnceAndCaches(t *testing.T) {
	var dials atomic.Int32
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		dials.Add(1)
		return &fakeClient{}, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()
	c1, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)
	c2, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.EqualValues(t, 1, dials.Load())
}

func TestGetIsTenantScoped(t *testing.T) {
	var dials atomic.Int32
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		dials.Add(1)
		return &fakeClient{}, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()
	_, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)
	_, err = pool.Get(ctx, "ctx-2", "files")
	require.NoError(t, err)

	assert.EqualValues(t, 2, dials.Load(), "each context gets its own connection")
}

func TestUnknownServer(t *testing.T) {
	pool := NewPoolWithConnector(testConfig(), nil)
	_, err := pool.Get(context.Background(), "ctx-1", "nope")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrMCPUnavailable, protocol.KindOf(err))
}

func TestNegativeCacheBacksOffExponentially(t *testing.T) {
	var dials atomic.Int32
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})
	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()

	_, err := pool.Get(ctx, "ctx-1", "files")
	require.Error(t, err)
	assert.EqualValues(t, 1, dials.Load())

	// Immediately retrying must be absorbed by the negative cache.
	_, err = pool.Get(ctx, "ctx-1", "files")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrMCPUnavailable, protocol.KindOf(err))
	assert.EqualValues(t, 1, dials.Load(), "no hot retry while backing off")

	snap := pool.SnapshotFor("ctx-1")
	require.Len(t, snap.Negative, 1)
	assert.Equal(t, 1, snap.Negative[0].Failures)
	firstUntil := snap.Negative[0].BackoffUntil

	// Force the window open and fail again: backoff must grow.
	pool.mu.Lock()
	pool.negative[poolKey{contextID: "ctx-1", server: "files"}].until = time.Now().Add(-time.Second)
	pool.mu.Unlock()

	_, err = pool.Get(ctx, "ctx-1", "files")
	require.Error(t, err)
	assert.EqualValues(t, 2, dials.Load())

	snap = pool.SnapshotFor("ctx-1")
	require.Len(t, snap.Negative, 1)
	assert.Equal(t, 2, snap.Negative[0].Failures)
	assert.True(t, snap.Negative[0].BackoffUntil.Sub(firstUntil) > 0, "backoff must not shrink")
}

func TestSuccessClearsNegativeCache(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		if fail.Load() {
			return nil, errors.New("down")
		}
		return &fakeClient{}, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()
	_, err := pool.Get(ctx, "ctx-1", "files")
	require.Error(t, err)

	fail.Store(false)
	pool.mu.Lock()
	pool.negative[poolKey{contextID: "ctx-1", server: "files"}].until = time.Now().Add(-time.Second)
	pool.mu.Unlock()

	_, err = pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)

	snap := pool.SnapshotFor("ctx-1")
	assert.Empty(t, snap.Negative)
	require.Len(t, snap.Cached, 1)
	assert.Equal(t, StateHealthy, snap.Cached[0].State)
}

func TestTTLEvictionTouchesOnGet(t *testing.T) {
	cfg := testConfig()
	cfg.ClientTTLSeconds = 1

	client := &fakeClient{}
	pool := NewPoolWithConnector(cfg, func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		return client, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()
	_, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)

	// Age the entry past the TTL, then trigger eviction via another Get.
	key := poolKey{contextID: "ctx-1", server: "files"}
	pool.mu.Lock()
	pool.entries[key].lastUsed = time.Now().Add(-2 * time.Second)
	pool.mu.Unlock()

	_, err = pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)
	assert.True(t, client.closed.Load(), "evicted client must be closed")
}

func TestStaleEntryIsPingProbed(t *testing.T) {
	broken := &fakeClient{pingErr: errors.New("gone away")}
	fresh := &fakeClient{}
	var dials atomic.Int32
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		if dials.Add(1) == 1 {
			return broken, nil
		}
		return fresh, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()
	first, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)
	assert.Same(t, broken, first)

	// Age the entry past the probe threshold: the failed ping must trigger a
	// transparent reconnect.
	key := poolKey{contextID: "ctx-1", server: "files"}
	pool.mu.Lock()
	pool.entries[key].lastUsed = time.Now().Add(-time.Minute)
	pool.mu.Unlock()

	second, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)
	assert.Same(t, fresh, second)
	assert.True(t, broken.closed.Load())
	assert.EqualValues(t, 2, dials.Load())
}

func TestConcurrentGetSingleDial(t *testing.T) {
	var dials atomic.Int32
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		dials.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeClient{}, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Get(context.Background(), "ctx-1", "files")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, dials.Load(), "double-checked locking must collapse concurrent dials")
}

func TestCloseClosesAllClients(t *testing.T) {
	clients := []*fakeClient{{}, {}}
	idx := atomic.Int32{}
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		return clients[idx.Add(1)-1], nil
	})

	ctx := context.Background()
	_, err := pool.Get(ctx, "ctx-1", "files")
	require.NoError(t, err)
	_, err = pool.Get(ctx, "ctx-2", "files")
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	for _, c := range clients {
		assert.True(t, c.closed.Load())
	}

	_, err = pool.Get(ctx, "ctx-1", "files")
	assert.Error(t, err)
}

func TestToolSourceDiscoversAndCalls(t *testing.T) {
	client := &fakeClient{tools: []RemoteTool{
		{Name: "search_docs", Description: "Search docs", InputSchema: map[string]any{"type": "object"}},
	}}
	pool := NewPoolWithConnector(testConfig(), func(_ context.Context, _ string, _ *config.MCPServerConfig) (Client, error) {
		return client, nil
	})
	t.Cleanup(func() { _ = pool.Close() })

	src := NewToolSource(pool, "ctx-1", "files")
	require.NoError(t, src.DiscoverTools(context.Background()))
	require.Len(t, src.ListTools(), 1)

	tool, ok := src.GetTool("search_docs")
	require.True(t, ok)
	assert.Equal(t, "files", tool.Info().ServerURL)

	out, err := tool.Execute(context.Background(), map[string]any{"q": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "result from search_docs", out)
}
