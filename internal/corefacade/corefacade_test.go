package corefacade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/arena"
	"github.com/sniperarch/memsim/internal/cacheset"
	"github.com/sniperarch/memsim/internal/controller"
	"github.com/sniperarch/memsim/internal/directory"
	"github.com/sniperarch/memsim/internal/perf"
	"github.com/sniperarch/memsim/internal/simtime"
	"github.com/sniperarch/memsim/internal/tlb"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	l1dCache, err := cacheset.New("L1D", 64, 4, 4, cacheset.LRU{})
	require.NoError(t, err)
	l1iCache, err := cacheset.New("L1I", 64, 4, 4, cacheset.LRU{})
	require.NoError(t, err)

	l1d := controller.New("L1D", 0, 0, l1dCache, controller.Params{OutstandingMisses: 4, MshrWindow: simtime.NS(1000)}, arena.Index(0))
	l1i := controller.New("L1I", 0, 0, l1iCache, controller.Params{OutstandingMisses: 4, MshrWindow: simtime.NS(1000)}, arena.Index(1))

	bw := simtime.Bandwidth{BitsPerCycle: 64, CyclePeriod: simtime.NS(1)}
	dram := directory.NewDRAMController("dram0", simtime.NS(50), bw, simtime.NS(1000))
	l1d.AttachNext(nil, dram)
	l1i.AttachNext(nil, dram)

	return New(l1d, l1i, perf.New(0, nil), 64)
}

func TestAccessMemorySingleAlignedSegment(t *testing.T) {
	c := newTestCore(t)
	res := c.AccessMemory(LockNone, OpRead, 0x1000, make([]byte, 8), 8, ModeledNone, 0, 0)
	require.Greater(t, res.ShmemTime, simtime.Time(0))
	require.Equal(t, 1, res.NumMisses)
}

func TestAccessMemorySplitsAcrossBlockBoundary(t *testing.T) {
	c := newTestCore(t)
	// addr=60, size=8 spans [60,64) in block 0 and [64,68) in block 1.
	segs := c.splitSegments(60, 8, make([]byte, 8), false)
	require.Len(t, segs, 2)
	require.Equal(t, uint64(60), segs[0].Addr)
	require.Equal(t, 4, segs[0].Size)
	require.Equal(t, uint64(64), segs[1].Addr)
	require.Equal(t, 4, segs[1].Size)
}

func TestLockUnlockPairStashesAndFlushesDynInfo(t *testing.T) {
	c := newTestCore(t)
	c.AccessMemory(Lock, OpRead, 0x2000, make([]byte, 8), 8, ModeledDynInfo, 0xdead, 0)
	require.NotNil(t, c.savedDynInfo)

	c.AccessMemory(Unlock, OpRead, 0x2000, make([]byte, 8), 8, ModeledDynInfo, 0xbeef, 0)
	require.Nil(t, c.savedDynInfo)
}

func TestReadInstructionMemoryFastPathOnRepeatedBlock(t *testing.T) {
	c := newTestCore(t)
	first := c.ReadInstructionMemory(0x3000, 4)
	require.NotEqual(t, cacheset.L1I, first.HitWhere) // first access still misses

	second := c.ReadInstructionMemory(0x3004, 4)
	require.Equal(t, cacheset.L1I, second.HitWhere)
	require.Equal(t, uint64(1), c.ICacheHits)
}

func TestAccessMemoryCountTLBTimeDrivesAttachedTLB(t *testing.T) {
	c := newTestCore(t)
	dtlb, err := tlb.New("dtlb", 4096, 4, 4, cacheset.LRU{})
	require.NoError(t, err)
	c.AttachTLB(dtlb, nil)

	c.AccessMemory(LockNone, OpRead, 0x10000, make([]byte, 8), 8, ModeledCountTLBTime, 0, 0)
	require.Equal(t, uint64(1), dtlb.Accesses)
	require.Equal(t, uint64(1), dtlb.Misses)

	// Same page, second access: TLB hit, miss count unchanged.
	c.AccessMemory(LockNone, OpRead, 0x10008, make([]byte, 8), 8, ModeledCountTLBTime, 0, 0)
	require.Equal(t, uint64(2), dtlb.Accesses)
	require.Equal(t, uint64(1), dtlb.Misses)
}

func TestCountInstructionsFiresThresholdHook(t *testing.T) {
	c := newTestCore(t)
	c.BBVThreshold = 10
	fired := 0
	c.OnInstrCountThreshold = func() { fired++ }

	c.CountInstructions(0, 7)
	require.Equal(t, 0, fired)
	c.CountInstructions(0, 5)
	require.Equal(t, 1, fired)
}
