// Package corefacade implements the per-core memory-access entry point of
// spec.md §4.I: access_memory's segment splitting across cache lines,
// read_instruction_memory's fast I-cache path, count_instructions'
// BBV/HOOK_INSTR_COUNT bookkeeping, and the COUNT_TLBTIME accounting mode's
// TLB lookup. Grounded on original_source/common/core/core.cc
// (Core::accessMemory, Core::readInstructionMemory,
// Core::countInstructions) and tlb.cc for the TLB side of step 9.
package corefacade

import (
	"sync"

	"github.com/sniperarch/memsim/internal/cacheset"
	"github.com/sniperarch/memsim/internal/controller"
	"github.com/sniperarch/memsim/internal/perf"
	"github.com/sniperarch/memsim/internal/simtime"
	"github.com/sniperarch/memsim/internal/tlb"
)

// LockSignal mirrors Core::lock_signal_t.
type LockSignal int

const (
	LockNone LockSignal = iota
	Lock
	Unlock
)

// MemOp mirrors Core::mem_op_t.
type MemOp int

const (
	OpRead MemOp = iota
	OpWrite
)

// Modeled selects how much the access is accounted into the performance
// model, per spec.md §4.I step 9.
type Modeled int

const (
	ModeledNone Modeled = iota
	ModeledCount
	ModeledCountTLBTime
	ModeledTime
	ModeledFenced
	ModeledDynInfo
)

// Segment is one aligned sub-range of a possibly line-crossing access.
type Segment struct {
	Addr     uint64
	Offset   int
	Size     int
	Buf      []byte
	IsICache bool
}

// AccessResult is what access_memory reports back to the caller.
type AccessResult struct {
	HitWhere  cacheset.HitWhere
	NumMisses int
	ShmemTime simtime.Time
}

// DataController is the minimal interface the façade needs from an L1
// controller: a single aligned-segment access. *controller.Controller
// satisfies this directly via its ProcessMemOpFromCore.
type DataController interface {
	ProcessMemOpFromCore(addr uint64, op controller.AccessType, buf []byte, offset int, now simtime.Time) controller.MemOpResult
}

// Core is one core's façade over its L1 data and instruction controllers
// and its performance model, holding the single mem-access lock and the
// single-slot saved-dyninfo buffer spec.md §4.I/§7 describe.
type Core struct {
	mu sync.Mutex

	L1D  DataController
	L1I  DataController
	Perf *perf.Model

	// DTLB/ITLB back the COUNT_TLBTIME accounting path (spec.md §4.C, §4.I
	// step 9). Either may be left nil, in which case that side's
	// ModeledCountTLBTime accesses degenerate to plain counting, matching
	// ModeledCount.
	DTLB *tlb.TLB
	ITLB *tlb.TLB

	BlockSize int

	icacheLastBlock uint64
	icacheValid     bool
	ICacheHits      uint64

	NumRetiredInstructions uint64
	BBVThreshold           uint64
	instrSinceBBV          uint64
	OnInstrCountThreshold  func()

	// savedDynInfo is the single-slot buffer spec.md §4.I step 9's
	// deadlock-avoidance rule requires for a DYNINFO access issued while
	// lock_signal == LOCK: the controller still holds the set lock, so the
	// DynamicInstructionInfo is stashed here and flushed on the matching
	// UNLOCK call rather than pushed into the perf-model queue immediately.
	savedDynInfo *perf.DynamicInfo
}

// New builds a Core façade over the given L1 controllers and performance
// model.
func New(l1d, l1i DataController, perfModel *perf.Model, blockSize int) *Core {
	return &Core{L1D: l1d, L1I: l1i, Perf: perfModel, BlockSize: blockSize}
}

// AttachTLB wires per-core data and instruction TLBs into the façade's
// COUNT_TLBTIME accounting path. Either argument may be nil.
func (c *Core) AttachTLB(dtlb, itlb *tlb.TLB) {
	c.DTLB = dtlb
	c.ITLB = itlb
}

func (c *Core) tlbFor(isInstruction bool) *tlb.TLB {
	if isInstruction {
		return c.ITLB
	}
	return c.DTLB
}

func (c *Core) blockAddress(addr uint64) uint64 {
	return addr &^ (uint64(c.BlockSize) - 1)
}

// splitSegments divides [addr, addr+size) into block-aligned segments, per
// spec.md §4.I step 4.
func (c *Core) splitSegments(addr uint64, size int, buf []byte, isICache bool) []Segment {
	var segs []Segment
	remaining := size
	cur := addr
	bufOff := 0
	for remaining > 0 {
		blockStart := c.blockAddress(cur)
		blockEnd := blockStart + uint64(c.BlockSize)
		segSize := int(blockEnd - cur)
		if segSize > remaining {
			segSize = remaining
		}
		var segBuf []byte
		if buf != nil {
			segBuf = buf[bufOff : bufOff+segSize]
		}
		segs = append(segs, Segment{Addr: cur, Offset: int(cur - blockStart), Size: segSize, Buf: segBuf, IsICache: isICache})
		cur += uint64(segSize)
		remaining -= segSize
		bufOff += segSize
	}
	return segs
}

// AccessMemory implements spec.md §4.I's access_memory for the data path.
// now == simtime.MaxTime means "use perf.Elapsed()" (step 1's `now == MAX`).
func (c *Core) AccessMemory(lock LockSignal, op MemOp, addr uint64, buf []byte, size int, modeled Modeled, eip uint64, now simtime.Time) AccessResult {
	return c.accessMemory(lock, op, addr, buf, size, modeled, eip, now, false)
}

// accessMemory is the shared implementation behind AccessMemory and
// ReadInstructionMemory's slow path, parameterized by which L1 controller
// (component = L1_DCACHE | L1_ICACHE per spec.md §4.I step 4) services it.
func (c *Core) accessMemory(lock LockSignal, op MemOp, addr uint64, buf []byte, size int, modeled Modeled, eip uint64, now simtime.Time, isInstruction bool) AccessResult {
	if now == simtime.MaxTime {
		now = c.Perf.Elapsed()
	}

	if lock != Unlock {
		c.mu.Lock()
	}

	initialTime := c.Perf.UserTime
	hitWhere := cacheset.Unknown
	numMisses := 0

	ctlOp := controller.OpRead
	if op == OpWrite {
		ctlOp = controller.OpWrite
	}

	ctl := c.L1D
	component := cacheset.L1
	if isInstruction {
		ctl = c.L1I
		component = cacheset.L1I
	}

	for _, seg := range c.splitSegments(addr, size, buf, isInstruction) {
		res := ctl.ProcessMemOpFromCore(seg.Addr, ctlOp, seg.Buf, seg.Offset, now)
		hitWhere = cacheset.MaxHitWhere(hitWhere, res.HitWhere)
		if res.HitWhere > component {
			numMisses++
		}
		c.Perf.UserTime = c.Perf.UserTime.Add(res.Latency)
	}

	if lock != Lock {
		c.mu.Unlock()
	}

	shmemTime := c.Perf.UserTime.Sub(initialTime)

	switch modeled {
	case ModeledNone:
		// no accounting
	case ModeledCount:
		// counters only
	case ModeledCountTLBTime:
		if tlbRef := c.tlbFor(isInstruction); tlbRef != nil {
			vpn := addr / uint64(tlbRef.PageSize)
			if !tlbRef.Lookup(vpn) {
				c.Perf.QueueDynamicInstruction(perf.Instruction{Kind: perf.TLBMissInstruction})
			}
		}
	case ModeledTime, ModeledFenced:
		c.Perf.QueueDynamicInstruction(perf.Instruction{
			Kind:      perf.MemAccessInstruction,
			ShmemTime: shmemTime,
			Fenced:    modeled == ModeledFenced,
		})
	case ModeledDynInfo:
		info := perf.DynamicInfo{
			EIP:       eip,
			ShmemTime: shmemTime,
			Addr:      addr,
			Size:      size,
			IsWrite:   op == OpWrite,
			NumMisses: numMisses,
		}
		if lock == Lock {
			c.savedDynInfo = &info
		} else {
			if lock == Unlock && c.savedDynInfo != nil {
				saved := *c.savedDynInfo
				c.savedDynInfo = nil
				c.flushDynInfo(saved)
			}
			c.flushDynInfo(info)
		}
	}

	return AccessResult{HitWhere: hitWhere, NumMisses: numMisses, ShmemTime: shmemTime}
}

func (c *Core) flushDynInfo(info perf.DynamicInfo) {
	c.Perf.PushDyninfo(info)
	c.Perf.QueueDynamicInstruction(perf.Instruction{Kind: perf.MemAccessInstruction, ShmemTime: info.ShmemTime})
}

// ReadInstructionMemory implements spec.md §4.I's read_instruction_memory:
// a fast path when addr's block matches the last I-cache access, otherwise
// a normal L1I access modeled as COUNT_TLBTIME.
func (c *Core) ReadInstructionMemory(addr uint64, size int) AccessResult {
	block := c.blockAddress(addr)
	if c.icacheValid && block == c.icacheLastBlock && int(addr-block)+size <= c.BlockSize {
		c.ICacheHits++
		return AccessResult{HitWhere: cacheset.L1I}
	}
	c.icacheLastBlock = block
	c.icacheValid = true
	return c.accessMemory(LockNone, OpRead, addr, nil, size, ModeledCountTLBTime, addr, simtime.MaxTime, true)
}

// CountInstructions implements spec.md §4.I's count_instructions: advances
// the retired-instruction counter and the BBV sampling window, firing
// OnInstrCountThreshold (HOOK_INSTR_COUNT) when crossed.
func (c *Core) CountInstructions(addr uint64, n uint64) {
	c.NumRetiredInstructions += n
	c.instrSinceBBV += n
	if c.BBVThreshold > 0 && c.instrSinceBBV >= c.BBVThreshold {
		c.instrSinceBBV -= c.BBVThreshold
		if c.OnInstrCountThreshold != nil {
			c.OnInstrCountThreshold()
		}
	}
}
