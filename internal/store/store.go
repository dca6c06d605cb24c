// Package store holds the latest pipeline snapshot and metrics per
// repository for polling reads.
//
// The store is last-write-wins per key with one carve-out: every PipelineRun
// carries a run sequence number, and a put whose sequence number is older
// than the stored snapshot's is rejected. Interleaved writes from a stale
// run can therefore never overwrite a newer run's progress. Reads never
// block on an in-progress execution; they return the latest snapshot copy.
//
// No history is retained. If nothing was ever triggered for a repository,
// Get reports absence, which callers must keep distinct from a run with an
// empty stage list.
package store

import (
	"sync"

	"github.com/forgeline/pipeline/domain"
)

// Store is an in-memory keyed snapshot store, safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	runs    map[string]domain.PipelineRun
	metrics map[string]domain.MetricsSnapshot

	// lastTriggered remembers the most recently started repository so the
	// overview endpoint has a default when no repo parameter is given.
	lastTriggered string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		runs:    make(map[string]domain.PipelineRun),
		metrics: make(map[string]domain.MetricsSnapshot),
	}
}

// Put stores the snapshot for its repository key. It returns false and
// leaves the store unchanged when the snapshot's sequence number is older
// than the stored one; equal sequence numbers replace (the same run
// publishing its own progress).
func (s *Store) Put(run domain.PipelineRun) bool {
	snapshot := run.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.runs[snapshot.Repository]; ok && current.Seq > snapshot.Seq {
		return false
	}
	s.runs[snapshot.Repository] = snapshot
	s.lastTriggered = snapshot.Repository
	return true
}

// Get returns a copy of the latest snapshot for the repository, and whether
// one exists.
func (s *Store) Get(repository string) (domain.PipelineRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[repository]
	if !ok {
		return domain.PipelineRun{}, false
	}
	return run.Clone(), true
}

// PutMetrics stores the metrics snapshot for the repository. Metrics have
// their own lifecycle and no sequence ordering; the newest write wins.
func (s *Store) PutMetrics(repository string, m domain.MetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[repository] = m
}

// GetMetrics returns the stored metrics snapshot for the repository. An
// absent entry yields the zero snapshot, which serializes as an empty
// object.
func (s *Store) GetMetrics(repository string) domain.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[repository]
}

// LastTriggered returns the repository key of the most recent Put, or empty
// when nothing has been stored yet.
func (s *Store) LastTriggered() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTriggered
}
