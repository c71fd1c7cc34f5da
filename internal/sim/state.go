package sim

import (
	"sync"

	"github.com/signalsfoundry/smallsat-twin/model"
)

// SnapshotStore is a concurrency-safe holder for the most recent snapshot,
// read by the health and telemetry surfaces while the loop writes it.
type SnapshotStore struct {
	mu     sync.RWMutex
	latest model.Snapshot
	ok     bool
}

// Set replaces the stored snapshot.
func (s *SnapshotStore) Set(snap model.Snapshot) {
	s.mu.Lock()
	s.latest, s.ok = snap, true
	s.mu.Unlock()
}

// Latest returns the stored snapshot and whether one has been recorded.
func (s *SnapshotStore) Latest() (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}
