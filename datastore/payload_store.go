// Package datastore keeps the correlation between build jobs and the payload ids the
// execution backends minted for them.
package datastore

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/metrics"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var ErrInvalidCapacity = errors.New("payload store capacity must be positive")

type jobEntry struct {
	ids        map[common.BackendID]engine.PayloadID
	externalID *engine.PayloadID
}

func (e *jobEntry) copyIDs() map[common.BackendID]engine.PayloadID {
	ids := make(map[common.BackendID]engine.PayloadID, len(e.ids))
	for backend, id := range e.ids {
		ids[backend] = id
	}
	return ids
}

// PayloadStore is a bounded LRU of build jobs. Each job maps a backend to the payload id it
// minted, plus the external id handed to the driver. Jobs are evicted whole.
type PayloadStore struct {
	mu        sync.Mutex
	jobs      *simplelru.LRU[common.JobID, *jobEntry]
	external  map[engine.PayloadID]common.JobID
	evictions uint64
}

func NewPayloadStore(capacity int) (*PayloadStore, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	s := &PayloadStore{
		external: make(map[engine.PayloadID]common.JobID),
	}
	jobs, err := simplelru.NewLRU[common.JobID, *jobEntry](capacity, s.onRemove)
	if err != nil {
		return nil, err
	}
	s.jobs = jobs
	return s, nil
}

// onRemove runs under s.mu for both evictions and explicit removals
func (s *PayloadStore) onRemove(job common.JobID, entry *jobEntry) {
	if entry.externalID == nil {
		return
	}
	if owner, ok := s.external[*entry.externalID]; ok && owner == job {
		delete(s.external, *entry.externalID)
	}
}

// Record stores the payload id a backend returned for job and marks the job most recently used
func (s *PayloadStore) Record(job common.JobID, backend common.BackendID, id engine.PayloadID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs.Get(job)
	if !ok {
		entry = &jobEntry{ids: make(map[common.BackendID]engine.PayloadID, len(common.Backends))}
		if evicted := s.jobs.Add(job, entry); evicted {
			s.evictions++
			metrics.IncPayloadStoreEviction(context.Background())
		}
	}
	entry.ids[backend] = id
}

// Lookup returns the payload id recorded for job by backend. Recency is only refreshed on a hit.
func (s *PayloadStore) Lookup(job common.JobID, backend common.BackendID) (engine.PayloadID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs.Peek(job)
	if !ok {
		return engine.PayloadID{}, false
	}
	id, ok := entry.ids[backend]
	if !ok {
		return engine.PayloadID{}, false
	}
	s.jobs.Get(job)
	return id, true
}

// Take removes job and returns its payload ids. An unknown job yields an empty map.
func (s *PayloadStore) Take(job common.JobID) map[common.BackendID]engine.PayloadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take(job)
}

func (s *PayloadStore) take(job common.JobID) map[common.BackendID]engine.PayloadID {
	entry, ok := s.jobs.Peek(job)
	if !ok {
		return map[common.BackendID]engine.PayloadID{}
	}
	ids := entry.copyIDs()
	s.jobs.Remove(job)
	return ids
}

// SetExternalID associates the id handed to the driver with job. It returns false when
// the job is not in the store. An id previously pointing at another job is reassigned.
func (s *PayloadStore) SetExternalID(job common.JobID, id engine.PayloadID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs.Peek(job)
	if !ok {
		return false
	}
	if entry.externalID != nil && s.external[*entry.externalID] == job {
		delete(s.external, *entry.externalID)
	}
	if prev, ok := s.external[id]; ok && prev != job {
		if prevEntry, ok := s.jobs.Peek(prev); ok {
			prevEntry.externalID = nil
		}
	}
	entry.externalID = &id
	s.external[id] = job
	return true
}

func (s *PayloadStore) ResolveExternalID(id engine.PayloadID) (common.JobID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.external[id]
	return job, ok
}

// TakeExternal resolves and removes the job behind an external id in one step, so
// concurrent callers can never both retrieve it.
func (s *PayloadStore) TakeExternal(id engine.PayloadID) (common.JobID, map[common.BackendID]engine.PayloadID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.external[id]
	if !ok {
		return common.JobID{}, nil, false
	}
	return job, s.take(job), true
}

func (s *PayloadStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Len()
}

// Evictions returns the number of jobs dropped for capacity
func (s *PayloadStore) Evictions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}
