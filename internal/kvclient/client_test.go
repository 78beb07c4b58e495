package kvclient

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kvnode/internal/api"
	"kvnode/internal/engine"
	"kvnode/internal/logging"
	"kvnode/internal/worker"
)

// newTestNode spins up a real api.Server behind httptest so Client is
// exercised over an actual HTTP round trip rather than against gin's
// internal router directly.
func newTestNode(t *testing.T) *httptest.Server {
	t.Helper()
	eng, err := engine.Open(t.TempDir(), engine.Options{MapSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	pool := worker.New(2, eng, logging.Nop())
	pool.Start()
	t.Cleanup(pool.Stop)

	srv := api.New("127.0.0.1:0", pool, nil, t.TempDir()+"/backup", logging.Nop())
	return httptest.NewServer(srv.Router())
}

func TestClientPutGetDelete(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	c := New(node.URL, 0)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	old, err := c.Put(ctx, "foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, "", old)

	val, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", val)

	require.NoError(t, c.Delete(ctx, "foo"))

	_, err = c.Get(ctx, "foo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientListKeys(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	c := New(node.URL, 0)
	ctx := context.Background()

	_, err := c.Put(ctx, "a", "1")
	require.NoError(t, err)
	_, err = c.Put(ctx, "b", "2")
	require.NoError(t, err)

	keys, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestClientBackup(t *testing.T) {
	node := newTestNode(t)
	defer node.Close()

	c := New(node.URL, 0)
	ctx := context.Background()

	_, err := c.Put(ctx, "x", "y")
	require.NoError(t, err)

	require.NoError(t, c.Backup(ctx, ""))
}
