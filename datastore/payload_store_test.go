package datastore

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/flashbots/engine-relay/common"
	"github.com/stretchr/testify/require"
)

func jobID(b byte) common.JobID {
	return common.JobID{b}
}

func payloadID(prefix, b byte) engine.PayloadID {
	return engine.PayloadID{prefix, 0, 0, 0, 0, 0, 0, b}
}

func newTestStore(t *testing.T, capacity int) *PayloadStore {
	t.Helper()
	s, err := NewPayloadStore(capacity)
	require.NoError(t, err)
	return s
}

func TestNewPayloadStoreInvalidCapacity(t *testing.T) {
	_, err := NewPayloadStore(0)
	require.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = NewPayloadStore(-1)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestRecordLookupTake(t *testing.T) {
	s := newTestStore(t, 10)
	job := jobID(1)

	_, ok := s.Lookup(job, common.BackendBuilding)
	require.False(t, ok)

	s.Record(job, common.BackendBuilding, payloadID(0xb0, 1))
	s.Record(job, common.BackendCanonical, payloadID(0xc0, 1))
	require.Equal(t, 1, s.Len())

	id, ok := s.Lookup(job, common.BackendBuilding)
	require.True(t, ok)
	require.Equal(t, payloadID(0xb0, 1), id)

	// a later record for the same backend replaces the id
	s.Record(job, common.BackendCanonical, payloadID(0xc0, 2))
	id, ok = s.Lookup(job, common.BackendCanonical)
	require.True(t, ok)
	require.Equal(t, payloadID(0xc0, 2), id)

	ids := s.Take(job)
	require.Equal(t, map[common.BackendID]engine.PayloadID{
		common.BackendBuilding:  payloadID(0xb0, 1),
		common.BackendCanonical: payloadID(0xc0, 2),
	}, ids)
	require.Equal(t, 0, s.Len())

	// second take of the same job is empty
	require.Empty(t, s.Take(job))
	require.NotNil(t, s.Take(jobID(9)))
}

func TestOneSidedJob(t *testing.T) {
	s := newTestStore(t, 10)
	job := jobID(1)

	s.Record(job, common.BackendCanonical, payloadID(0xc0, 1))
	_, ok := s.Lookup(job, common.BackendBuilding)
	require.False(t, ok)

	ids := s.Take(job)
	require.Len(t, ids, 1)
	require.Equal(t, payloadID(0xc0, 1), ids[common.BackendCanonical])
}

func TestEvictionDropsWholeJob(t *testing.T) {
	s := newTestStore(t, 2)

	s.Record(jobID(1), common.BackendBuilding, payloadID(0xb0, 1))
	s.Record(jobID(1), common.BackendCanonical, payloadID(0xc0, 1))
	require.True(t, s.SetExternalID(jobID(1), payloadID(0xc0, 1)))
	s.Record(jobID(2), common.BackendCanonical, payloadID(0xc0, 2))
	s.Record(jobID(3), common.BackendCanonical, payloadID(0xc0, 3))

	require.Equal(t, 2, s.Len())
	require.Equal(t, uint64(1), s.Evictions())

	_, ok := s.Lookup(jobID(1), common.BackendBuilding)
	require.False(t, ok)
	_, ok = s.Lookup(jobID(1), common.BackendCanonical)
	require.False(t, ok)
	_, ok = s.ResolveExternalID(payloadID(0xc0, 1))
	require.False(t, ok)

	_, ok = s.Lookup(jobID(2), common.BackendCanonical)
	require.True(t, ok)
}

func TestLookupRefreshesRecency(t *testing.T) {
	s := newTestStore(t, 2)

	s.Record(jobID(1), common.BackendCanonical, payloadID(0xc0, 1))
	s.Record(jobID(2), common.BackendCanonical, payloadID(0xc0, 2))

	_, ok := s.Lookup(jobID(1), common.BackendCanonical)
	require.True(t, ok)

	s.Record(jobID(3), common.BackendCanonical, payloadID(0xc0, 3))

	_, ok = s.Lookup(jobID(1), common.BackendCanonical)
	require.True(t, ok)
	_, ok = s.Lookup(jobID(2), common.BackendCanonical)
	require.False(t, ok)
}

func TestLookupMissDoesNotRefresh(t *testing.T) {
	s := newTestStore(t, 2)

	s.Record(jobID(1), common.BackendCanonical, payloadID(0xc0, 1))
	s.Record(jobID(2), common.BackendCanonical, payloadID(0xc0, 2))

	// job 1 exists but has no building id
	_, ok := s.Lookup(jobID(1), common.BackendBuilding)
	require.False(t, ok)

	s.Record(jobID(3), common.BackendCanonical, payloadID(0xc0, 3))
	_, ok = s.Lookup(jobID(1), common.BackendCanonical)
	require.False(t, ok)
}

func TestExternalID(t *testing.T) {
	s := newTestStore(t, 10)
	job := jobID(1)

	require.False(t, s.SetExternalID(job, payloadID(0xc0, 1)))

	s.Record(job, common.BackendBuilding, payloadID(0xb0, 1))
	s.Record(job, common.BackendCanonical, payloadID(0xc0, 1))
	require.True(t, s.SetExternalID(job, payloadID(0xc0, 1)))

	resolved, ok := s.ResolveExternalID(payloadID(0xc0, 1))
	require.True(t, ok)
	require.Equal(t, job, resolved)

	_, ok = s.ResolveExternalID(payloadID(0xb0, 1))
	require.False(t, ok)

	resolved, ids, ok := s.TakeExternal(payloadID(0xc0, 1))
	require.True(t, ok)
	require.Equal(t, job, resolved)
	require.Len(t, ids, 2)
	require.Equal(t, 0, s.Len())

	_, _, ok = s.TakeExternal(payloadID(0xc0, 1))
	require.False(t, ok)
}

func TestExternalIDReassigned(t *testing.T) {
	s := newTestStore(t, 10)

	s.Record(jobID(1), common.BackendCanonical, payloadID(0xc0, 1))
	s.Record(jobID(2), common.BackendCanonical, payloadID(0xc0, 1))
	require.True(t, s.SetExternalID(jobID(1), payloadID(0xc0, 1)))
	require.True(t, s.SetExternalID(jobID(2), payloadID(0xc0, 1)))

	resolved, ok := s.ResolveExternalID(payloadID(0xc0, 1))
	require.True(t, ok)
	require.Equal(t, jobID(2), resolved)

	// removing the old owner keeps the index entry of the new one
	s.Take(jobID(1))
	resolved, ok = s.ResolveExternalID(payloadID(0xc0, 1))
	require.True(t, ok)
	require.Equal(t, jobID(2), resolved)
}

func TestTakeExternalConcurrent(t *testing.T) {
	s := newTestStore(t, 10)
	s.Record(jobID(1), common.BackendCanonical, payloadID(0xc0, 1))
	require.True(t, s.SetExternalID(jobID(1), payloadID(0xc0, 1)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ok := s.TakeExternal(payloadID(0xc0, 1)); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestConcurrentRecordsForOneJob(t *testing.T) {
	s := newTestStore(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		job := jobID(byte(i))
		for _, backend := range common.Backends {
			wg.Add(1)
			go func(job common.JobID, backend common.BackendID) {
				defer wg.Done()
				s.Record(job, backend, payloadID(byte(backend), job[0]))
			}(job, backend)
		}
	}
	wg.Wait()

	require.Equal(t, 50, s.Len())
	for i := 0; i < 50; i++ {
		ids := s.Take(jobID(byte(i)))
		require.Len(t, ids, 2)
		require.Equal(t, payloadID(byte(common.BackendCanonical), byte(i)), ids[common.BackendCanonical])
	}
}
