package blockpool

import (
	"sync/atomic"

	"github.com/bytedance/sonic"
)

// Stats tracks live, lock-free counters for a Pool, mirroring the
// allocator's own runtime stat block: plain atomics, snapshotted into a
// plain struct for reporting rather than read under a lock.
type Stats struct {
	allocated   atomic.Int64
	freed       atomic.Int64
	reused      atomic.Int64
	reserveHits atomic.Int64
}

// StatsSnapshot is a point-in-time, JSON-marshalable copy of Stats.
type StatsSnapshot struct {
	Allocated   int64 `json:"allocated"`
	Freed       int64 `json:"freed"`
	Live        int64 `json:"live"`
	Reused      int64 `json:"reused"`
	ReserveHits int64 `json:"reserve_hits"`
}

// Snapshot takes a consistent-enough read of each counter. Counters can
// still move between reads; this is for reporting, not synchronization.
func (s *Stats) Snapshot() StatsSnapshot {
	allocated := s.allocated.Load()
	freed := s.freed.Load()
	return StatsSnapshot{
		Allocated:   allocated,
		Freed:       freed,
		Live:        allocated - freed,
		Reused:      s.reused.Load(),
		ReserveHits: s.reserveHits.Load(),
	}
}

// SnapshotJSON marshals the current snapshot with sonic, matching the
// allocator's own choice of JSON library for stat reporting.
func (s *Stats) SnapshotJSON() ([]byte, error) {
	return sonic.Marshal(s.Snapshot())
}
