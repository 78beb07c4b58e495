package replication

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"kvnode/internal/logging"
)

func peerAddr(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestReplicatePutReachesHealthyPeer(t *testing.T) {
	var got atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/internal/kv/foo" {
			got.Store(true)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mgr := New([]string{peerAddr(t, srv)}, logging.Nop())
	mgr.ReplicatePut([]byte("foo"), []byte("bar"))

	assert.True(t, got.Load())
}

func TestReplicationRetriesTransientFailureThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mgr := New([]string{peerAddr(t, srv)}, logging.Nop())

	start := time.Now()
	mgr.ReplicatePut([]byte("k"), []byte("v"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
	// One retry means at least the initial 1s backoff was observed.
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestReplicationGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mgr := New([]string{peerAddr(t, srv)}, logging.Nop())
	mgr.ReplicatePut([]byte("k"), []byte("v")) // must not panic or block forever

	assert.Equal(t, int32(maxRetries), attempts.Load())
}

func TestReplicationDownPeerDoesNotBlockCaller(t *testing.T) {
	// Port 1 on loopback should refuse immediately rather than hang.
	mgr := New([]string{"127.0.0.1:1"}, logging.Nop())

	done := make(chan struct{})
	go func() {
		mgr.ReplicatePut([]byte("k"), []byte("v"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("replication to a down peer did not complete within the retry budget")
	}
}

func TestOnAttemptHookFiresForEachAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var successes, failures atomic.Int32
	mgr := New([]string{peerAddr(t, srv)}, logging.Nop())
	mgr.OnAttempt(func(peer string, ok bool) {
		if ok {
			successes.Add(1)
		} else {
			failures.Add(1)
		}
	})

	mgr.ReplicatePut([]byte("k"), []byte("v"))

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(0), failures.Load())
}
