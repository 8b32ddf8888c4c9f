package controller

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/arena"
	"github.com/sniperarch/memsim/internal/cacheset"
	"github.com/sniperarch/memsim/internal/coherence"
	"github.com/sniperarch/memsim/internal/directory"
	"github.com/sniperarch/memsim/internal/simtime"
)

func newL1(t *testing.T) *Controller {
	t.Helper()
	cache, err := cacheset.New("L1D-0", 64, 4, 4, cacheset.LRU{})
	require.NoError(t, err)
	return New("L1D-0", 0, 0, cache, Params{OutstandingMisses: 4, MshrWindow: simtime.NS(1000)}, arena.Index(0))
}

func newLLC(t *testing.T) *Controller {
	t.Helper()
	cache, err := cacheset.New("L2-shared", 64, 16, 8, cacheset.LRU{})
	require.NoError(t, err)
	return New("L2-shared", -1, 1, cache, Params{OutstandingMisses: 8, MshrWindow: simtime.NS(1000)}, arena.Index(1))
}

// recordingNext is a fake NextLevel that records every message it's asked
// to service and grants Shared on GET_SH / Modified on GET_EX or UPGRADE,
// used to observe exactly which message type ProcessMemOpFromCore issues.
type recordingNext struct {
	msgs []coherence.Message
}

func (r *recordingNext) ProcessShmemReqFromPrevCache(req coherence.Message, now simtime.Time) ShmemResult {
	r.msgs = append(r.msgs, req)
	state := cacheset.Shared
	replyType := coherence.ShRep
	if req.Type == coherence.GetEx || req.Type == coherence.Upgrade {
		state = cacheset.Modified
		replyType = coherence.ExRep
	}
	return ShmemResult{
		Msg: coherence.Message{
			Type:      replyType,
			BlockAddr: req.BlockAddr,
			Sender:    -1,
			RequestID: req.RequestID,
			Data:      make([]byte, 64),
			State:     state,
		},
		Latency:  simtime.NS(10),
		HitWhere: cacheset.L2,
	}
}

func TestProcessMemOpFromCoreMissThenHit(t *testing.T) {
	l1 := newL1(t)
	llc := newLLC(t)
	bw := simtime.Bandwidth{BitsPerCycle: 64, CyclePeriod: simtime.NS(1)}
	dram := directory.NewDRAMController("dram0", simtime.NS(50), bw, simtime.NS(1000))
	llc.AttachNext(nil, dram)
	l1.AttachNext(llc, nil)

	miss := l1.ProcessMemOpFromCore(0x1000, OpRead, nil, 0, 0)
	require.Equal(t, cacheset.DRAMLocal, miss.HitWhere)
	require.Greater(t, miss.Latency, simtime.Time(0))

	hit := l1.ProcessMemOpFromCore(0x1000, OpRead, nil, 0, miss.Latency)
	require.Equal(t, cacheset.L1, hit.HitWhere)
	require.Equal(t, simtime.Time(0), hit.Latency)
}

func TestProcessMemOpFromCoreStoreSilentlyUpgradesExclusiveToModified(t *testing.T) {
	l1 := newL1(t)

	// Seed the line as resident in Exclusive state directly, the only way
	// this level can organically reach E is via the LLC's directory-mediated
	// "first fetch" path (see fetchViaDirectory), which this single-level
	// fixture doesn't exercise.
	set := l1.Cache.SetFor(0x5000)
	set.Lock()
	l1.Cache.InsertSingleLine(set, 0x5000, make([]byte, 64), cacheset.Exclusive, nil)
	set.Unlock()

	buf := []byte{0xAA}
	res := l1.ProcessMemOpFromCore(0x5000, OpWrite, buf, 0, 0)
	require.Equal(t, cacheset.L1, res.HitWhere)
	require.Equal(t, simtime.Time(0), res.Latency)

	blk, ok := l1.Cache.Lookup(set, 0x5000)
	require.True(t, ok)
	require.Equal(t, cacheset.Modified, blk.State)
	require.True(t, blk.Dirty)
	require.Equal(t, byte(0xAA), blk.Bytes()[0])
}

func TestFetchFromNextIssuesUpgradeForSharedPreState(t *testing.T) {
	l1 := newL1(t)
	next := &recordingNext{}
	l1.AttachNext(next, nil)

	l1.ProcessMemOpFromCore(0x4000, OpRead, nil, 0, 0)
	require.Len(t, next.msgs, 1)
	require.Equal(t, coherence.GetSh, next.msgs[0].Type)

	// The line is now resident Shared; a store to it must issue an UPGRADE
	// (spec.md's distinction between a fresh fetch and a permission-only
	// transaction against data already present), not a second GET_EX.
	l1.ProcessMemOpFromCore(0x4000, OpWrite, nil, 0, 0)
	require.Len(t, next.msgs, 2)
	require.Equal(t, coherence.Upgrade, next.msgs[1].Type)
}

func TestProcessShmemReqFromPrevCacheServesSharedRequest(t *testing.T) {
	llc := newLLC(t)
	bw := simtime.Bandwidth{BitsPerCycle: 64, CyclePeriod: simtime.NS(1)}
	dram := directory.NewDRAMController("dram0", simtime.NS(50), bw, simtime.NS(1000))
	llc.AttachNext(nil, dram)

	req := coherence.Message{Type: coherence.GetSh, BlockAddr: 0x3000, Sender: 0, RequestID: uuid.New()}
	res := llc.ProcessShmemReqFromPrevCache(req, 0)
	require.Greater(t, res.Latency, simtime.Time(0))

	// A second request for the same block should now be serviced locally
	// (zero additional latency) since the LLC filled it on the first miss.
	res2 := llc.ProcessShmemReqFromPrevCache(req, res.Latency)
	require.Equal(t, simtime.Time(0), res2.Latency)
}

func TestPerfectControllerAlwaysHits(t *testing.T) {
	cache, err := cacheset.New("L1D-perfect", 64, 4, 4, cacheset.LRU{})
	require.NoError(t, err)
	c := New("L1D-perfect", 0, 0, cache, Params{Perfect: true}, arena.Index(0))

	res := c.ProcessMemOpFromCore(0x1000, OpRead, nil, 0, 0)
	require.Equal(t, simtime.Time(0), res.Latency)
}

func TestAttachDirectoryGrantsExclusiveOnFirstFetch(t *testing.T) {
	llc := newLLC(t)
	dir := directory.New(1)
	bw := simtime.Bandwidth{BitsPerCycle: 64, CyclePeriod: simtime.NS(1)}
	dram := directory.NewDRAMController("dram0", simtime.NS(50), bw, simtime.NS(1000))
	llc.AttachDirectory(dir, []DRAMAccessor{dram})

	l1 := newL1(t)
	l1.AttachNext(llc, nil)

	res := l1.ProcessMemOpFromCore(0x6000, OpRead, nil, 0, 0)
	require.Greater(t, res.Latency, simtime.Time(0))

	set := l1.Cache.SetFor(0x6000)
	blk, ok := l1.Cache.Lookup(set, 0x6000)
	require.True(t, ok)
	require.Equal(t, cacheset.Exclusive, blk.State)
}

func TestAttachDirectoryInvalidatesSharerOnExclusiveRequest(t *testing.T) {
	llc := newLLC(t)
	dir := directory.New(1)
	bw := simtime.Bandwidth{BitsPerCycle: 64, CyclePeriod: simtime.NS(1)}
	dram := directory.NewDRAMController("dram0", simtime.NS(50), bw, simtime.NS(1000))
	llc.AttachDirectory(dir, []DRAMAccessor{dram})

	l1a := newL1(t)
	l1a.AttachNext(llc, nil)
	l1b := New("L1D-1", 1, 0, mustCache(t, "L1D-1"), Params{OutstandingMisses: 4, MshrWindow: simtime.NS(1000)}, arena.Index(2))
	l1b.AttachNext(llc, nil)

	l1a.ProcessMemOpFromCore(0x7000, OpRead, nil, 0, 0) // l1a becomes the exclusive owner
	l1b.ProcessMemOpFromCore(0x7000, OpWrite, nil, 0, 0)

	setA := l1a.Cache.SetFor(0x7000)
	_, presentA := l1a.Cache.Lookup(setA, 0x7000)
	require.False(t, presentA, "l1a's copy must be invalidated once l1b takes the line exclusively")
}

func mustCache(t *testing.T, name string) *cacheset.Cache {
	t.Helper()
	c, err := cacheset.New(name, 64, 4, 4, cacheset.LRU{})
	require.NoError(t, err)
	return c
}
