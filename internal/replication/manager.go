// Package replication implements spec.md §4.3: asynchronous, per-peer
// fan-out of mutations with bounded retries and exponential backoff,
// detached from the originating request's lifetime.
//
// Retries and connection caching are grounded in the peer-replication retry
// loop this design is adapted from (a 100ms/200ms/400ms doubling backoff
// over net/http), generalized to the exact schedule spec.md §4.3
// prescribes: attempt := 1, delay := 1s capped at 10s, max_retries := 3,
// 3s per-attempt deadline.
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"kvnode/internal/logging"
)

// replicateBody is the wire shape for PUT /internal/kv/:key — the only
// internal RPC that carries a payload.
type replicateBody struct {
	Value string `json:"value"`
}

func encodeValue(value []byte) ([]byte, error) {
	return json.Marshal(replicateBody{Value: string(value)})
}

// State is a peer stub's connectivity state, the finite-state-per-peer
// model spec.md §9 recommends in place of a raw connection cache.
type State int

const (
	StateUnknown State = iota
	StateConnecting
	StateReady
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// stub is a cached, lazily-constructed client-side handle to one peer.
type stub struct {
	mu     sync.Mutex
	client *http.Client
	state  State
}

func newStub() *stub {
	return &stub{
		client: &http.Client{},
		state:  StateUnknown,
	}
}

// healthy returns the cached client if it's usable, rebuilding it first if
// the stub was previously observed Broken — "rebuilt when not READY"
// (spec.md §3's PeerStub lifecycle).
func (s *stub) healthy() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBroken {
		s.client = &http.Client{}
	}
	s.state = StateConnecting
	return s.client
}

func (s *stub) markReady() {
	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
}

func (s *stub) markBroken() {
	s.mu.Lock()
	s.state = StateBroken
	s.mu.Unlock()
}

// Retry schedule from spec.md §4.3.
const (
	initialDelay    = 1 * time.Second
	maxDelay        = 10 * time.Second
	maxRetries      = 3
	attemptDeadline = 3 * time.Second
)

// Manager fans mutations out to every configured peer, independently and
// concurrently, retrying transient failures. Replication failures are
// log-only: the eventual-consistency contract (spec.md I4, P6) means they
// are never surfaced to the client that triggered the mutation.
type Manager struct {
	mu     sync.Mutex
	stubs  map[string]*stub
	peers  []string
	logger zerolog.Logger

	onAttempt func(peer string, success bool) // metrics hook, may be nil
}

// New creates a Manager that will replicate to peers. peers must already
// exclude this node's own address (spec.md I3/I5).
func New(peers []string, logger zerolog.Logger) *Manager {
	return &Manager{
		stubs:  make(map[string]*stub),
		peers:  peers,
		logger: logger,
	}
}

// OnAttempt registers a callback invoked after every per-peer replication
// attempt, used by the metrics package to maintain attempt/failure
// counters. Optional.
func (m *Manager) OnAttempt(fn func(peer string, success bool)) {
	m.onAttempt = fn
}

func (m *Manager) stubFor(peer string) *stub {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stubs[peer]
	if !ok {
		s = newStub()
		m.stubs[peer] = s
	}
	return s
}

// ReplicatePut fans a Put out to every peer concurrently. It does not block
// on any peer's response beyond joining its own goroutines; callers should
// invoke it via `go mgr.ReplicatePut(...)` to keep it off the request path
// entirely, matching spec.md §2's "detach a background task" data flow.
func (m *Manager) ReplicatePut(key, value []byte) {
	m.fanOut(func(peer string) error {
		return m.sendOne(peer, http.MethodPut, "/internal/kv/"+string(key), value)
	})
}

// ReplicateDelete fans a Delete out to every peer concurrently.
func (m *Manager) ReplicateDelete(key []byte) {
	m.fanOut(func(peer string) error {
		return m.sendOne(peer, http.MethodDelete, "/internal/kv/"+string(key), nil)
	})
}

func (m *Manager) fanOut(send func(peer string) error) {
	var wg sync.WaitGroup
	for _, peer := range m.peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.replicateWithRetry(peer, send)
		}()
	}
	wg.Wait()
}

// replicateWithRetry runs the exact per-peer procedure from spec.md §4.3:
// up to max_retries attempts, each under a 3s deadline, doubling backoff
// from 1s capped at 10s between attempts.
func (m *Manager) replicateWithRetry(peer string, send func(peer string) error) {
	log := logging.Peer(m.logger, peer)
	delay := initialDelay

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := send(peer)
		if err == nil {
			m.stubFor(peer).markReady()
			if m.onAttempt != nil {
				m.onAttempt(peer, true)
			}
			log.Debug().Int("attempt", attempt).Msg("replication succeeded")
			return
		}

		m.stubFor(peer).markBroken()
		if m.onAttempt != nil {
			m.onAttempt(peer, false)
		}

		if attempt < maxRetries {
			log.Warn().Int("attempt", attempt).Err(err).Dur("backoff", delay).Msg("replication attempt failed, retrying")
			time.Sleep(delay)
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		// Exhausted retries: log only. Never surfaced to the client — P6.
		log.Error().Int("attempts", attempt).Err(err).Msg("replication failed, giving up")
	}
}

func (m *Manager) sendOne(peer, method, path string, body []byte) error {
	client := m.stubFor(peer).healthy()

	ctx, cancel := context.WithTimeout(context.Background(), attemptDeadline)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := encodeValue(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	url := fmt.Sprintf("http://%s%s", peer, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s returned HTTP %d", peer, resp.StatusCode)
	}
	return nil
}
