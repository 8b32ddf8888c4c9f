// Package mshr implements the miss-status holding register and directory
// waiter table of spec.md §4.D: outstanding-miss tracking/deduplication and
// the per-block FIFO of requests piggybacking on an in-flight fetch.
// Grounded on the Mshr typedef and CacheDirectoryWaiterMap in
// common/core/memory_subsystem/parametric_dram_directory_msi/cache_cntlr.h.
package mshr

import (
	"sync"

	"github.com/sniperarch/memsim/internal/metrics"
	"github.com/sniperarch/memsim/internal/simtime"
)

// entry is one in-flight miss.
type entry struct {
	issueTime     simtime.Time
	completeTime  simtime.Time
}

// Outcome reports how Admit resolved a request against the MSHR.
type Outcome int

const (
	// NewMiss: no MSHR entry existed for this block; caller should issue
	// an upstream request and later call Complete.
	NewMiss Outcome = iota
	// Overlapped: a request for this block is already outstanding and
	// its completion time has not yet passed; the caller's own
	// completion time piggybacks on it.
	Overlapped
	// WaitedForSlot: the MSHR was full, so no entry was recorded for this
	// request; Admit returns at once and the caller accounts for the wait.
	WaitedForSlot
)

// Mshr tracks outstanding misses for one cache level, keyed by block
// address, bounded by MaxOutstanding (spec.md: "at most one slot per tag;
// ... number of entries <= configured outstanding_misses").
type Mshr struct {
	mu             sync.Mutex
	entries        map[uint64]*entry
	MaxOutstanding int
	Window         simtime.Time // periodic-sweep retention window

	stats metrics.MSHRStats
}

// New builds an Mshr with the given outstanding-miss bound.
func New(cacheName string, maxOutstanding int, window simtime.Time) *Mshr {
	return &Mshr{
		entries:        make(map[uint64]*entry),
		MaxOutstanding: maxOutstanding,
		Window:         window,
		stats:          metrics.NewMSHRStats(cacheName),
	}
}

// Admit implements spec.md's admission rule. now is the requester's
// current time; it returns the outcome and, for Overlapped, the
// existing entry's completion time the caller should wait until
// (max(now, t_complete) per spec.md).
func (m *Mshr) Admit(blockAddr uint64, now simtime.Time) (Outcome, simtime.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[blockAddr]; ok {
		if e.completeTime > now {
			return Overlapped, simtime.Max(now, e.completeTime)
		}
		// Entry is logically complete but not yet retired; treat as a
		// fresh miss sharing the same slot.
		return NewMiss, now
	}

	if len(m.entries) >= m.MaxOutstanding && m.MaxOutstanding > 0 {
		m.stats.OutstandingWaits.Inc()
		return WaitedForSlot, now
	}

	m.entries[blockAddr] = &entry{issueTime: now, completeTime: simtime.MaxTime}
	m.stats.Occupancy.Set(float64(len(m.entries)))
	return NewMiss, now
}

// MarkOverlapKind records which overlap counter (load/store) a caller hit,
// matching spec.md's load_overlapping_misses / store_overlapping_misses.
func (m *Mshr) MarkOverlapKind(isStore bool) {
	if isStore {
		m.stats.StoreOverlapping.Inc()
	} else {
		m.stats.LoadOverlapping.Inc()
	}
}

// Insert records a fresh MSHR entry directly (used when the caller admits
// via a path that doesn't go through Admit, e.g. prefetch-only requests).
func (m *Mshr) Insert(blockAddr uint64, issueTime simtime.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[blockAddr] = &entry{issueTime: issueTime, completeTime: simtime.MaxTime}
	m.stats.Occupancy.Set(float64(len(m.entries)))
}

// Complete marks blockAddr's miss as resolved at completeTime; the entry
// stays present (so still-arriving overlapped requests can observe the
// completion time) until Retire or the periodic Sweep removes it.
func (m *Mshr) Complete(blockAddr uint64, completeTime simtime.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[blockAddr]; ok {
		e.completeTime = completeTime
	}
}

// Retire removes blockAddr's entry immediately, e.g. once the coherence
// reply has been fully processed and no further overlap is possible.
func (m *Mshr) Retire(blockAddr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, blockAddr)
	m.stats.Occupancy.Set(float64(len(m.entries)))
}

// Sweep purges entries whose completion lies more than Window in the past,
// per spec.md's "a periodic sweep also purges entries with
// t_complete <= now - W".
func (m *Mshr) Sweep(now simtime.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now < m.Window {
		return
	}
	cutoff := now - m.Window
	for addr, e := range m.entries {
		if e.completeTime != simtime.MaxTime && e.completeTime <= cutoff {
			delete(m.entries, addr)
		}
	}
	m.stats.Occupancy.Set(float64(len(m.entries)))
}

// Len reports the current number of outstanding entries, used by the
// "MSHR size <= outstanding_misses at all times" invariant in spec.md §8.
func (m *Mshr) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Waiter is one entry in a block's directory-waiter FIFO (spec.md §4.D /
// §3), awaiting wake-up when the in-flight fetch for that block completes.
type Waiter struct {
	RequesterCntlr int // arena index of the requesting controller
	IsExclusive    bool
	IsPrefetch     bool
	IssueTime      simtime.Time
}

// WaiterTable is the FIFO-per-block directory waiter structure, guarded by
// the cache's own per-set lock at the call site (spec.md §4.D: "guarded by
// the per-set lock").
type WaiterTable struct {
	queues map[uint64][]Waiter
}

// NewWaiterTable builds an empty waiter table.
func NewWaiterTable() *WaiterTable {
	return &WaiterTable{queues: make(map[uint64][]Waiter)}
}

// Enqueue appends w to blockAddr's FIFO.
func (w *WaiterTable) Enqueue(blockAddr uint64, waiter Waiter) {
	w.queues[blockAddr] = append(w.queues[blockAddr], waiter)
}

// DrainInOrder removes and returns all waiters for blockAddr in arrival
// order, for the caller to wake one at a time (the first reply wakes them
// in arrival order, per spec.md).
func (w *WaiterTable) DrainInOrder(blockAddr uint64) []Waiter {
	waiters := w.queues[blockAddr]
	delete(w.queues, blockAddr)
	return waiters
}

// Len reports how many waiters are queued for blockAddr.
func (w *WaiterTable) Len(blockAddr uint64) int {
	return len(w.queues[blockAddr])
}
