package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kvnode/internal/engine"
	"kvnode/internal/logging"
	"kvnode/internal/worker"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.Open(t.TempDir(), engine.Options{MapSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	pool := worker.New(2, eng, logging.Nop())
	pool.Start()
	t.Cleanup(pool.Stop)

	srv := New("127.0.0.1:0", pool, nil, t.TempDir()+"/backup", logging.Nop())
	return srv
}

func doRequest(srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

// TestBasicRoundTrip exercises scenario 1 from spec.md §8.
func TestBasicRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"value": "bar"})
	w := doRequest(srv, http.MethodPut, "/kv/foo", body)
	require.Equal(t, http.StatusOK, w.Code)
	var put putResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &put))
	assert.Equal(t, "", put.OldValue)

	w = doRequest(srv, http.MethodGet, "/kv/foo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var get getResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &get))
	assert.Equal(t, "bar", get.Value)

	w = doRequest(srv, http.MethodDelete, "/kv/foo", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(srv, http.MethodGet, "/kv/foo", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestOverwriteReturnsPriorValue exercises scenario 2 / P2.
func TestOverwriteReturnsPriorValue(t *testing.T) {
	srv := newTestServer(t)

	body1, _ := json.Marshal(map[string]string{"value": "v1"})
	w := doRequest(srv, http.MethodPut, "/kv/k", body1)
	require.Equal(t, http.StatusOK, w.Code)

	body2, _ := json.Marshal(map[string]string{"value": "v2"})
	w = doRequest(srv, http.MethodPut, "/kv/k", body2)
	require.Equal(t, http.StatusOK, w.Code)
	var put putResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &put))
	assert.Equal(t, "v1", put.OldValue)

	w = doRequest(srv, http.MethodGet, "/kv/k", nil)
	var get getResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &get))
	assert.Equal(t, "v2", get.Value)
}

// TestPutEmptyValueIsStorable exercises SPEC_FULL.md §2: the empty string
// is a distinct, storable value, not an absent field — PUT must not reject
// it, and GET must return it as {"value":""}.
func TestPutEmptyValueIsStorable(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"value": ""})
	w := doRequest(srv, http.MethodPut, "/kv/empty", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/kv/empty", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var get getResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &get))
	assert.Equal(t, "", get.Value)
}

// TestListKeys exercises scenario 3 / P4.
func TestListKeys(t *testing.T) {
	srv := newTestServer(t)

	body1, _ := json.Marshal(map[string]string{"value": "1"})
	doRequest(srv, http.MethodPut, "/kv/a", body1)
	body2, _ := json.Marshal(map[string]string{"value": "2"})
	doRequest(srv, http.MethodPut, "/kv/b", body2)

	w := doRequest(srv, http.MethodGet, "/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed listKeysResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.ElementsMatch(t, []string{"a", "b"}, listed.Keys)
}

// TestDeleteAbsentKeyIsIdempotent exercises P3.
func TestDeleteAbsentKeyIsIdempotent(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(srv, http.MethodDelete, "/kv/missing", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(srv, http.MethodDelete, "/kv/missing", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// TestInternalPutAppliesWriteLocally checks that a write arriving on the
// peer-only internal endpoint is applied to the local engine. The
// replication manager is nil here, so this test does not observe whether
// replication would be triggered.
func TestInternalPutAppliesWriteLocally(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"value": "applied"})
	w := doRequest(srv, http.MethodPut, "/internal/kv/x", body)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(srv, http.MethodGet, "/kv/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var get getResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &get))
	assert.Equal(t, "applied", get.Value)
}

// TestBackupReportsSuccess checks that the Backup RPC, with no directory in
// the request, writes to the configured default and replies success.
// Reopening a backup is covered by the engine's TestBackupThenReopen.
func TestBackupReportsSuccess(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"value": "y"})
	doRequest(srv, http.MethodPut, "/kv/x", body)

	w := doRequest(srv, http.MethodPost, "/backup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var backup backupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &backup))
	require.True(t, backup.Success)
}

func TestPingAndHealthz(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
