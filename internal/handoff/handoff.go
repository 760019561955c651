// Package handoff is the Handoff Store (HS): an eventually-consistent
// key-value map replicated across cluster nodes, used to migrate
// transient session state during rolling restarts without waiting on the
// Durable Summary Store.
//
// The local map is guarded by a plain sync.RWMutex rather than modeled as
// a channel actor: it is a genuinely shared, multi-writer/multi-reader
// cache (any node may Put or Get any key at any time), the same shape the
// teacher repo reaches for sync.Mutex over (subscriber.mu guarding a
// websocket connection), not the single-writer shape internal/runtime
// uses a channel for.
package handoff

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Peer is a remote node this store can push entries to. Concrete
// implementations live in internal/clustertransport; cluster membership
// discovery itself is an external collaborator per spec §1/§9 -- this
// package only needs *some* current peer list, supplied by Peers().
type Peer interface {
	ID() string
	Push(ctx context.Context, key string, value []byte) error
}

type entry struct {
	value    []byte
	storedAt time.Time
}

// Store is one node's local replica of the handoff map.
type Store struct {
	mu    sync.RWMutex
	data  map[string]entry
	peers func() []Peer
	log   *zap.Logger
}

// New constructs a Store. peers is called fresh on every Put/StashAndWait
// so it always reflects current cluster membership.
func New(peers func() []Peer, log *zap.Logger) *Store {
	return &Store{data: make(map[string]entry), peers: peers, log: log}
}

// PutLocal stores value under key on this node only, with no fan-out.
// Used both for local writes that a caller will fan out itself (Put) and
// to apply an inbound push received from a peer.
func (s *Store) PutLocal(key string, value []byte) {
	s.mu.Lock()
	s.data[key] = entry{value: value, storedAt: time.Now()}
	s.mu.Unlock()
}

// Put stores value locally and fans it out to every known peer,
// best-effort: a peer push failure is logged and otherwise ignored, since
// the authoritative fallback is the Durable Summary Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) {
	s.PutLocal(key, value)
	for _, p := range s.peers() {
		go func(p Peer) {
			if err := p.Push(ctx, key, value); err != nil && s.log != nil {
				s.log.Warn("handoff push to peer failed", zap.String("peer", p.ID()), zap.String("key", key), zap.Error(err))
			}
		}(p)
	}
}

// Get returns the most recent locally-visible value for key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Delete removes key locally. Callers that want cluster-wide delete
// propagation (e.g. after a successful pickup) should also notify peers
// via clustertransport; HS's own contract only requires eventual local
// visibility of the delete, matching Put.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// GetAndDeleteWithRetry implements the SR startup pickup window: it
// retries Get every interval until it hits, deleting on a hit, or gives up
// once total has elapsed (falling back to DSS is the caller's job).
func (s *Store) GetAndDeleteWithRetry(ctx context.Context, key string, interval, total time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(total)
	for {
		if v, ok := s.Get(key); ok {
			s.Delete(key)
			return v, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(interval):
		}
	}
}

// StashAndWait puts key/value and blocks until at least one peer
// acknowledges receipt or grace elapses, per spec §4.6's graceful-shutdown
// contract. It always returns promptly after grace even on timeout; the
// caller is expected to log the warning itself using the returned bool.
func (s *Store) StashAndWait(ctx context.Context, key string, value []byte, grace time.Duration) (acked bool) {
	s.PutLocal(key, value)
	peers := s.peers()
	if len(peers) == 0 {
		return false
	}

	ackCh := make(chan struct{}, len(peers))
	pushCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	for _, p := range peers {
		go func(p Peer) {
			if err := p.Push(pushCtx, key, value); err == nil {
				select {
				case ackCh <- struct{}{}:
				default:
				}
			}
		}(p)
	}

	select {
	case <-ackCh:
		return true
	case <-time.After(grace):
		return false
	}
}
