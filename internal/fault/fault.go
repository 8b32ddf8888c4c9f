// Package fault implements the bit-flip fault injection overlay of
// spec.md §4.J. spec.md's own redesign note consolidates the original's
// three source variants (random, range, range+stats) into one
// RangeWithStats-shaped injector, since Random is just a single open
// range and the unstatted Range variant is a strict subset of the
// statted one. Grounded on
// original_source/common/fault_injection/fault_injection.h and
// fault_injector_range.cc.
package fault

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/sniperarch/memsim/internal/metrics"
)

// byteRange is a half-open [Start, End) address range.
type byteRange struct {
	Start, End uint64
}

func (r byteRange) overlaps(o byteRange) bool { return r.Start < o.End && o.Start < r.End }

func (r byteRange) merge(o byteRange) byteRange {
	start := r.Start
	if o.Start < start {
		start = o.Start
	}
	end := r.End
	if o.End > end {
		end = o.End
	}
	return byteRange{Start: start, End: end}
}

// Injector holds the designated fault ranges and per-direction bit-error
// rates for one (core, mem_component) attachment point.
type Injector struct {
	mu sync.Mutex

	ranges  []byteRange
	ReadBER float64 // in [0,1]
	WriteBER float64

	rng *rand.Rand

	TotalRead   uint64
	FaultyRead  uint64
	TotalWrite  uint64
	FaultyWrite uint64

	stats metrics.FaultStats
}

// New builds an injector seeded once at construction, per spec.md §4.J
// ("the PRNG is seeded once at injector construction"). seed should come
// from configuration for reproducibility, not a time-based source.
func New(component string, coreID int, readBER, writeBER float64, seed int64) *Injector {
	return &Injector{
		ReadBER:  readBER,
		WriteBER: writeBER,
		rng:      rand.New(rand.NewSource(seed)),
		stats:    metrics.NewFaultStats(component, coreID),
	}
}

// AddRange inserts [start, end) into the covered set, merging with any
// overlapping or adjacent existing range.
func (f *Injector) AddRange(start, end uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addRangeLocked(byteRange{Start: start, End: end})
}

func (f *Injector) addRangeLocked(nr byteRange) {
	merged := []byteRange{nr}
	var kept []byteRange
	for _, r := range f.ranges {
		if r.overlaps(merged[0]) || r.End == merged[0].Start || merged[0].End == r.Start {
			merged[0] = merged[0].merge(r)
		} else {
			kept = append(kept, r)
		}
	}
	kept = append(kept, merged[0])
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	f.ranges = kept
}

// RemoveRange deletes [start, end) from the covered set, splitting any
// range that only partially overlaps it.
func (f *Injector) RemoveRange(start, end uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := byteRange{Start: start, End: end}
	var kept []byteRange
	for _, r := range f.ranges {
		if !r.overlaps(target) {
			kept = append(kept, r)
			continue
		}
		if r.Start < target.Start {
			kept = append(kept, byteRange{Start: r.Start, End: target.Start})
		}
		if r.End > target.End {
			kept = append(kept, byteRange{Start: target.End, End: r.End})
		}
	}
	f.ranges = kept
}

// InRange reports whether any byte of [addr, addr+len) is covered.
func (f *Injector) InRange(addr uint64, length int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := byteRange{Start: addr, End: addr + uint64(length)}
	for _, r := range f.ranges {
		if r.overlaps(target) {
			return true
		}
	}
	return false
}

// PreRead injects bit flips into faultBuf for a read of size bytes at addr,
// per spec.md §4.J's pre_read: if the range covers any touched byte and
// ReadBER is nonzero, draw one Bernoulli trial per bit and XOR-flip it.
// faultBuf is caller-allocated and XOR-composes with real data at the
// delivery point — it starts zeroed and this call sets only the flipped
// bits.
func (f *Injector) PreRead(addr uint64, size int, faultBuf []byte) bool {
	return f.inject(addr, size, faultBuf, false)
}

// PostWrite injects bit flips into faultBuf for a write of size bytes at
// addr, per spec.md §4.J's post_write.
func (f *Injector) PostWrite(addr uint64, size int, faultBuf []byte) bool {
	return f.inject(addr, size, faultBuf, true)
}

func (f *Injector) inject(addr uint64, size int, faultBuf []byte, isWrite bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if isWrite {
		f.TotalWrite++
		f.stats.TotalWrite.Inc()
	} else {
		f.TotalRead++
		f.stats.TotalRead.Inc()
	}

	ber := f.ReadBER
	if isWrite {
		ber = f.WriteBER
	}
	if ber <= 0 || !f.inRangeLocked(addr, size) {
		return false
	}

	faulted := false
	for bit := 0; bit < size*8; bit++ {
		if f.rng.Float64() < ber {
			byteIdx := bit / 8
			bitIdx := uint(bit % 8)
			faultBuf[byteIdx] ^= 1 << bitIdx
			faulted = true
		}
	}

	if faulted {
		if isWrite {
			f.FaultyWrite++
			f.stats.FaultyWrite.Inc()
		} else {
			f.FaultyRead++
			f.stats.FaultyRead.Inc()
		}
	}
	return faulted
}

func (f *Injector) inRangeLocked(addr uint64, length int) bool {
	target := byteRange{Start: addr, End: addr + uint64(length)}
	for _, r := range f.ranges {
		if r.overlaps(target) {
			return true
		}
	}
	return false
}
