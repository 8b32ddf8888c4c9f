// Package controller implements the per-core cache controller MSI state
// machine of spec.md §4.E — the simulation core's largest component. It is
// grounded directly on
// common/core/memory_subsystem/parametric_dram_directory_msi/cache_cntlr.h:
// CacheParameters becomes Params, the Mshr/CacheDirectoryWaiterMap pairing
// becomes the mshr package this controller drives, and
// processMemOpFromCore / processShmemReqFromPrevCache are
// ProcessMemOpFromCore / ProcessShmemReqFromPrevCache below. The LLC's
// directory-mediated fetch path (fetchViaDirectory) and the cross-level
// invalidation/writeback plumbing it needs (PrevLevel, registerPrev) are
// grounded on the same file's CacheDirectoryWaiterMap, AddressHomeLookup and
// CacheMasterCntlr::m_dram_cntlr, plus dram_perf_model.h's DramPerfModel for
// the DRAM timing contract.
package controller

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sniperarch/memsim/internal/arena"
	"github.com/sniperarch/memsim/internal/cacheset"
	"github.com/sniperarch/memsim/internal/coherence"
	"github.com/sniperarch/memsim/internal/directory"
	"github.com/sniperarch/memsim/internal/metrics"
	"github.com/sniperarch/memsim/internal/mshr"
	"github.com/sniperarch/memsim/internal/simtime"
)

// Reason names why a coherence state transition happened, recovered from
// the original's ENABLE_TRANSITIONS accounting (SPEC_FULL.md §4) since
// spec.md's distillation dropped per-reason transition stats.
type Reason int

const (
	CoreRead Reason = iota
	CoreWrite
	CoreReadEx
	Upgrade
	Evict
	EvictLower
	Coherency
)

func (r Reason) String() string {
	switch r {
	case CoreRead:
		return "core_read"
	case CoreWrite:
		return "core_write"
	case CoreReadEx:
		return "core_read_ex"
	case Upgrade:
		return "upgrade"
	case Evict:
		return "evict"
	case EvictLower:
		return "evict_lower"
	case Coherency:
		return "coherency"
	default:
		return "unknown"
	}
}

// PrefetchKind records whether a fill was demand traffic or a prefetch, and
// if a prefetch, who issued it — Prefetch::{NONE,OWN,OTHER} in the original.
type PrefetchKind int

const (
	PrefetchNone PrefetchKind = iota
	PrefetchOwn
	PrefetchOther
)

// Params is this level's configuration, mirroring CacheParameters: size,
// associativity, and replacement policy live on the embedded cache
// construction; the remaining fields gate behavior the cache itself doesn't
// know about.
type Params struct {
	Writethrough           bool
	Perfect                bool
	SharedCores            int // number of cores backed by one shared instance at this level
	OutstandingMisses      int
	MshrWindow             simtime.Time
	NextLevelReadBandwidth simtime.Bandwidth
	PrefetcherEnabled      bool
}

// AccessType mirrors Core::mem_op_t's read/write/read-ex distinction as
// seen by ProcessMemOpFromCore.
type AccessType int

const (
	OpRead AccessType = iota
	OpWrite
	OpReadEx
)

// MemOpResult reports the outcome of a core-facing memory access.
type MemOpResult struct {
	HitWhere cacheset.HitWhere
	Latency  simtime.Time
	Data     []byte
}

// ShmemResult reports the outcome of handling a request forwarded from a
// previous-level (closer to the core) controller.
type ShmemResult struct {
	Msg      coherence.Message
	Latency  simtime.Time
	HitWhere cacheset.HitWhere
}

// DRAMAccessor is the next level beneath the LLC: spec.md §4.F's directory
// plus DRAM timing model. The controller only needs its latency contract.
type DRAMAccessor interface {
	Access(addr uint64, isWrite bool, now simtime.Time) simtime.Time
}

// NextLevel is the interface a controller uses to forward a miss upward
// (away from the core) to its next-level controller. Implemented by
// *Controller.
type NextLevel interface {
	ProcessShmemReqFromPrevCache(req coherence.Message, now simtime.Time) ShmemResult
}

// PrevLevel is the interface the directory-owning controller uses to push a
// request back down towards a core-side sharer: invalidate a line, demand a
// writeback, or downgrade a now-shared owner. Implemented by *Controller.
type PrevLevel interface {
	ProcessReqFromNextCache(req coherence.Message, now simtime.Time) coherence.Message
}

// Controller is one level of cache for one core (or, for shared levels, one
// instance backing SharedCores cores), matching CacheMasterCntlr's
// m_cache/mshr/m_directory_waiters/m_prev_cache_cntlrs/m_next_cache_cntlr
// grouping, re-expressed over stable arena indices per spec.md §9 rather
// than raw pointers.
type Controller struct {
	Name   string
	CoreID int
	Level  int

	Cache  *cacheset.Cache
	Params Params

	mshr    *mshr.Mshr
	waiters *mshr.WaiterTable

	Links arena.Links // Prev: arena indices of closer-to-core sharers; Next: farther level
	Self  arena.Index

	next NextLevel // resolved from Links.Next against the owning arena
	dram DRAMAccessor

	// dir and dramHomes are only set on a controller that owns a directory
	// (the LLC, per AttachDirectory). prevs maps a sender's arena index to
	// the PrevLevel the directory needs to invalidate or fetch a writeback
	// from.
	dir       *directory.Directory
	dramHomes []DRAMAccessor
	prevs     map[int]PrevLevel

	waitMu    sync.Mutex
	waitChans map[uint64][]chan fetchResult

	stats metrics.ControllerStats
}

// New builds one controller level.
func New(name string, coreID, level int, cache *cacheset.Cache, params Params, self arena.Index) *Controller {
	return &Controller{
		Name:      name,
		CoreID:    coreID,
		Level:     level,
		Cache:     cache,
		Params:    params,
		mshr:      mshr.New(name, params.OutstandingMisses, params.MshrWindow),
		waiters:   mshr.NewWaiterTable(),
		Self:      self,
		Links:     arena.Links{Next: arena.None},
		prevs:     make(map[int]PrevLevel),
		waitChans: make(map[uint64][]chan fetchResult),
		stats:     metrics.NewControllerStats(name),
	}
}

// AttachNext wires this controller to the next level towards memory: either
// another Controller or, at the LLC, a DRAM-backed adapter. Exactly one of
// the two should be set. If next is itself a *Controller, this controller
// registers as one of its PrevLevel sharers so that controller's directory
// (if any) can invalidate or fetch a writeback from here.
func (c *Controller) AttachNext(next NextLevel, dram DRAMAccessor) {
	c.next = next
	c.dram = dram
	if owner, ok := next.(*Controller); ok {
		owner.registerPrev(int(c.Self), c)
	}
}

// AttachDirectory makes this controller (normally the LLC) the home for a
// set of DRAM controllers reached through a shared directory, per spec.md
// §4.F. Once attached, misses route through fetchViaDirectory instead of a
// plain DRAMAccessor.Access call.
func (c *Controller) AttachDirectory(dir *directory.Directory, homes []DRAMAccessor) {
	c.dir = dir
	c.dramHomes = homes
}

func (c *Controller) registerPrev(id int, p PrevLevel) {
	c.prevs[id] = p
}

func (c *Controller) allocRequestID() uuid.UUID {
	return uuid.New()
}

// ProcessMemOpFromCore is the core-facing entry point: spec.md §4.E's
// process_mem_op_from_core, "the top half of the MSI state machine". It
// checks this level first; on a hit it returns immediately, on a miss it
// drives the MSHR and forwards to the next level (or DRAM at the LLC).
// buf/offset mirror cacheset.AccessSingleLine's convention: on a load the
// accessed bytes are copied into buf, on a store buf's bytes are written
// into the line once it is resident in a sufficient state.
func (c *Controller) ProcessMemOpFromCore(addr uint64, op AccessType, buf []byte, offset int, now simtime.Time) MemOpResult {
	if c.Params.Perfect {
		return MemOpResult{HitWhere: cacheset.FromLevel(c.Level), Latency: 0}
	}

	kind := cacheset.Load
	if op != OpRead {
		kind = cacheset.Store
	}

	set := c.Cache.SetFor(addr)
	set.Lock()

	preBlk, present := c.Cache.Lookup(set, addr)
	var preState cacheset.State
	if present {
		preState = preBlk.State
	}

	if present && c.stateSatisfies(preState, op) {
		blk := c.Cache.AccessSingleLine(set, addr, kind, buf, offset)
		set.Unlock()

		reason := CoreRead
		if op != OpRead {
			reason = CoreWrite
		}
		c.stats.Transition(reason.String())
		return MemOpResult{HitWhere: cacheset.FromLevel(c.Level), Latency: 0, Data: append([]byte(nil), blk.Bytes()...)}
	}

	// Miss (or present-but-insufficient state, e.g. Shared under a write):
	// handle via the MSHR so concurrent misses to the same block overlap.
	blockAddr := c.Cache.BlockAddress(addr)
	outcome, _ := c.mshr.Admit(blockAddr, now)
	var slotWait simtime.Time
	switch outcome {
	case mshr.Overlapped:
		c.mshr.MarkOverlapKind(op != OpRead)
		ch := c.enqueueWaiter(blockAddr, int(c.Self), op != OpRead, now)
		set.Unlock()

		res := <-ch
		return c.applyFetchResult(addr, op, buf, offset, res, now)
	case mshr.WaitedForSlot:
		// No MSHR slot is free: charge one MSHR window as the wait for a
		// slot, then fetch below without an MSHR entry of its own.
		slotWait = c.Params.MshrWindow
	}

	// spec.md §5: the set lock brackets one coherent operation, but holding
	// it across the outgoing network request/DRAM round trip would make
	// Overlapped structurally unreachable — nothing else could ever get the
	// lock while a miss is in flight. Release it for the fetch itself and
	// re-acquire only to install the fill, which is what the MSHR entry
	// (already admitted above) is there to serialize against.
	set.Unlock()
	result := c.fetchFromNext(addr, op, preState, present, int(c.Self), now)

	set.Lock()
	out := c.applyFetchResultLocked(set, addr, op, buf, offset, result, now)
	set.Unlock()
	out.Latency = out.Latency.Add(slotWait)

	if outcome == mshr.NewMiss {
		c.mshr.Complete(blockAddr, now.Add(result.latency))
		c.mshr.Retire(blockAddr)
		c.wakeWaiters(blockAddr, result)
	}

	return out
}

// applyFetchResult re-acquires the set lock to install a fetch that
// completed while this caller was parked on an overlap channel.
func (c *Controller) applyFetchResult(addr uint64, op AccessType, buf []byte, offset int, result fetchResult, now simtime.Time) MemOpResult {
	set := c.Cache.SetFor(addr)
	set.Lock()
	defer set.Unlock()
	return c.applyFetchResultLocked(set, addr, op, buf, offset, result, now)
}

// applyFetchResultLocked installs result into set (caller holds the lock),
// performs the requested load/store against the freshly filled line, and
// records the transition. A store lands here only after the line is already
// resident in fillState, so cacheset.AccessSingleLine's silent E→M upgrade
// applies safely.
func (c *Controller) applyFetchResultLocked(set *cacheset.CacheSet, addr uint64, op AccessType, buf []byte, offset int, result fetchResult, now simtime.Time) MemOpResult {
	c.Cache.InsertSingleLine(set, addr, result.data, result.fillState, func(ev cacheset.Eviction) {
		c.handleEviction(ev, now)
	})

	kind := cacheset.Load
	if op != OpRead {
		kind = cacheset.Store
	}
	blk := c.Cache.AccessSingleLine(set, addr, kind, buf, offset)

	reason := CoreReadEx
	if op == OpRead {
		reason = CoreRead
	}
	c.stats.Transition(reason.String())

	data := result.data
	if blk != nil {
		data = append([]byte(nil), blk.Bytes()...)
	}
	return MemOpResult{HitWhere: result.hitWhere, Latency: result.latency, Data: data}
}

// enqueueWaiter records a caller blocked behind an in-flight miss to the
// same block (mshr.Overlapped) and returns the channel its eventual result
// will be delivered on, mirroring CacheDirectoryWaiterMap's per-block FIFO.
func (c *Controller) enqueueWaiter(blockAddr uint64, requesterCntlr int, isExclusive bool, now simtime.Time) chan fetchResult {
	c.waiters.Enqueue(blockAddr, mshr.Waiter{RequesterCntlr: requesterCntlr, IsExclusive: isExclusive, IssueTime: now})

	ch := make(chan fetchResult, 1)
	c.waitMu.Lock()
	c.waitChans[blockAddr] = append(c.waitChans[blockAddr], ch)
	c.waitMu.Unlock()
	return ch
}

// wakeWaiters delivers a just-completed fetch to every caller parked behind
// it via enqueueWaiter, draining the backing WaiterTable entry alongside.
func (c *Controller) wakeWaiters(blockAddr uint64, result fetchResult) {
	c.waiters.DrainInOrder(blockAddr)

	c.waitMu.Lock()
	chans := c.waitChans[blockAddr]
	delete(c.waitChans, blockAddr)
	c.waitMu.Unlock()

	for _, ch := range chans {
		ch <- result
	}
}

// stateSatisfies reports whether the block's current coherence state is
// sufficient to service op without a coherence transaction, e.g. a Shared
// block cannot satisfy a write.
func (c *Controller) stateSatisfies(state cacheset.State, op AccessType) bool {
	if state == cacheset.Invalid {
		return false
	}
	if op == OpRead {
		return true
	}
	return state == cacheset.Modified || state == cacheset.Exclusive
}

type fetchResult struct {
	hitWhere  cacheset.HitWhere
	latency   simtime.Time
	data      []byte
	fillState cacheset.State
}

// fetchFromNext issues the appropriate coherence request to the next level,
// mirroring the original's upward-request dispatch out of
// processMemOpFromCore's miss path. preState/present are the line's state
// immediately before the lock was released, used to distinguish a true
// UPGRADE (line already Shared here) from a fresh GET_EX (line absent or
// previously Invalid) per spec.md:129/138. senderID identifies who the
// directory (if any) should record as the new sharer/owner: the caller's
// own Self when called from ProcessMemOpFromCore, or the original
// requester's id when called on its behalf from ProcessShmemReqFromPrevCache.
func (c *Controller) fetchFromNext(addr uint64, op AccessType, preState cacheset.State, present bool, senderID int, now simtime.Time) fetchResult {
	msgType := coherence.GetSh
	fillState := cacheset.Shared
	if op != OpRead {
		fillState = cacheset.Modified
		if present && preState == cacheset.Shared {
			msgType = coherence.Upgrade
		} else {
			msgType = coherence.GetEx
		}
	}

	blockAddr := c.Cache.BlockAddress(addr)

	if c.dir != nil {
		return c.fetchViaDirectory(blockAddr, msgType, fillState, senderID, now)
	}

	req := coherence.Message{
		Type:      msgType,
		BlockAddr: blockAddr,
		Sender:    int(c.Self),
		RequestID: c.allocRequestID(),
	}

	if c.next != nil {
		res := c.next.ProcessShmemReqFromPrevCache(req, now)
		if op == OpRead && res.Msg.State == cacheset.Exclusive {
			// The next level granted exclusivity on a read miss.
			fillState = cacheset.Exclusive
		}
		return fetchResult{
			hitWhere:  res.HitWhere,
			latency:   res.Latency,
			data:      res.Msg.Data,
			fillState: fillState,
		}
	}

	latency := c.dram.Access(req.BlockAddr, op != OpRead, now)
	return fetchResult{
		hitWhere:  cacheset.DRAMLocal,
		latency:   latency,
		data:      make([]byte, c.Cache.BlockSize),
		fillState: fillState,
	}
}

// fetchViaDirectory implements spec.md §4.F's home-node routing: look up the
// block's directory entry, resolve any conflicting owner/sharers, charge a
// DRAM round trip only the first time a block is actually brought in from
// memory, and update the directory's bookkeeping to reflect the requester's
// new state. A GET_SH against a block nobody has ever held is granted
// Exclusive rather than Shared (the MESI convention the original's
// "first fetch" path follows), resolving spec.md's otherwise-unreachable
// Exclusive state.
func (c *Controller) fetchViaDirectory(blockAddr uint64, msgType coherence.MessageType, fillState cacheset.State, senderID int, now simtime.Time) fetchResult {
	entry := c.dir.Lookup(blockAddr)
	wasUncached := entry.State == directory.Untracked
	wantsExclusive := msgType == coherence.GetEx || msgType == coherence.Upgrade

	data := make([]byte, c.Cache.BlockSize)
	if blk, ok := c.Cache.Lookup(c.Cache.SetFor(blockAddr), blockAddr); ok {
		// Start from this level's own copy; an owner's writeback replaces it.
		copy(data, blk.Bytes())
	}

	if entry.State == directory.DirExclusive && entry.Owner != senderID {
		reqType := coherence.WbReq
		if wantsExclusive {
			reqType = coherence.InvReq
		}
		if owner, ok := c.prevs[entry.Owner]; ok {
			reply := owner.ProcessReqFromNextCache(coherence.Message{
				Type:      reqType,
				BlockAddr: blockAddr,
				Sender:    int(c.Self),
				RequestID: c.allocRequestID(),
			}, now)
			if reply.Data != nil {
				data = reply.Data
			}
		}
		if wantsExclusive {
			c.dir.RemoveSharer(blockAddr, entry.Owner)
		}
		// On a plain GET_SH the owner retains a Shared copy per spec.md
		// §4.F's "write back dirty data, retain in S" rule; nothing further
		// to do here since AddSharer below adds the requester alongside it.
	}

	if wantsExclusive {
		for _, id := range c.dir.Sharers(blockAddr) {
			if id == senderID {
				continue
			}
			if prev, ok := c.prevs[id]; ok {
				prev.ProcessReqFromNextCache(coherence.Message{
					Type:      coherence.InvReq,
					BlockAddr: blockAddr,
					Sender:    int(c.Self),
					RequestID: c.allocRequestID(),
				}, now)
			}
			c.dir.RemoveSharer(blockAddr, id)
		}
	}

	hitWhere := cacheset.FromLevel(c.Level)
	var latency simtime.Time
	if wasUncached && len(c.dramHomes) > 0 {
		home := c.dir.HomeFor(blockAddr) % len(c.dramHomes)
		latency = c.dramHomes[home].Access(blockAddr, wantsExclusive, now)
		hitWhere = cacheset.DRAMLocal
	}

	switch {
	case wantsExclusive:
		c.dir.SetExclusiveOwner(blockAddr, senderID)
	case wasUncached:
		// First fetch is granted Exclusive, so the requester is recorded as
		// the block's owner.
		c.dir.SetExclusiveOwner(blockAddr, senderID)
		fillState = cacheset.Exclusive
	default:
		c.dir.AddSharer(blockAddr, senderID)
	}

	return fetchResult{hitWhere: hitWhere, latency: latency, data: data, fillState: fillState}
}

// ProcessShmemReqFromPrevCache is the directory-facing entry point: spec.md
// §4.E's process_shmem_req_from_prev_cache, serving a GET_SH/GET_EX/UPGRADE
// arriving from a closer-to-core sharer. On a local miss it recurses
// upward exactly like ProcessMemOpFromCore's miss path; with a directory
// attached, every such request goes through fetchViaDirectory even when
// the line is resident here. A FLUSH_REP (a dirty line evicted from a
// closer level) stores its data in this level.
func (c *Controller) ProcessShmemReqFromPrevCache(req coherence.Message, now simtime.Time) ShmemResult {
	op := OpRead
	if req.Type == coherence.GetEx || req.Type == coherence.Upgrade {
		op = OpReadEx
	}

	set := c.Cache.SetFor(req.BlockAddr)
	set.Lock()
	defer set.Unlock()

	blk, present := c.Cache.Lookup(set, req.BlockAddr)
	if req.Type == coherence.FlushRep {
		if !present {
			c.Cache.InsertSingleLine(set, req.BlockAddr, nil, cacheset.Modified, func(ev cacheset.Eviction) {
				c.handleEviction(ev, now)
			})
			blk, _ = c.Cache.Lookup(set, req.BlockAddr)
		}
		copy(blk.Bytes(), req.Data)
		blk.Dirty = true
		return ShmemResult{HitWhere: cacheset.FromLevel(c.Level)}
	}
	if present && c.stateSatisfies(blk.State, op) && c.dir == nil {
		c.stats.Transition(Coherency.String())
		replyType := coherence.ShRep
		data := append([]byte(nil), blk.Bytes()...)
		if op == OpReadEx {
			replyType = coherence.ExRep
			c.Cache.InvalidateSingleLine(set, req.BlockAddr)
		}
		return ShmemResult{
			Msg: coherence.Message{
				Type:      replyType,
				BlockAddr: req.BlockAddr,
				Sender:    int(c.Self),
				RequestID: req.RequestID,
				Data:      data,
				State:     blk.State,
			},
			Latency:  0,
			HitWhere: cacheset.FromLevel(c.Level),
		}
	}

	var preState cacheset.State
	if present {
		preState = blk.State
	}
	result := c.fetchFromNext(req.BlockAddr, op, preState, present, req.Sender, now)
	c.Cache.InsertSingleLine(set, req.BlockAddr, result.data, result.fillState, func(ev cacheset.Eviction) {
		c.handleEviction(ev, now)
	})
	c.stats.Transition(Coherency.String())

	replyType := coherence.ShRep
	if op == OpReadEx {
		replyType = coherence.ExRep
	}
	return ShmemResult{
		Msg: coherence.Message{
			Type:      replyType,
			BlockAddr: req.BlockAddr,
			Sender:    int(c.Self),
			RequestID: req.RequestID,
			Data:      result.data,
			State:     result.fillState,
		},
		Latency:  result.latency,
		HitWhere: result.hitWhere,
	}
}

// ProcessReqFromNextCache implements the downward half of directory
// mediation: the directory-owning controller asks this controller (a
// core-side sharer it has in its prevs map) to invalidate or write back a
// line it currently holds, per spec.md §4.F's WB_REQ/INV_REQ handling.
func (c *Controller) ProcessReqFromNextCache(req coherence.Message, now simtime.Time) coherence.Message {
	set := c.Cache.SetFor(req.BlockAddr)
	set.Lock()
	defer set.Unlock()

	blk, present := c.Cache.Lookup(set, req.BlockAddr)
	if !present {
		replyType := coherence.InvRep
		if req.Type == coherence.WbReq {
			replyType = coherence.WbRep
		}
		return coherence.Message{Type: replyType, BlockAddr: req.BlockAddr, Sender: int(c.Self), RequestID: req.RequestID}
	}

	var data []byte
	if blk.Dirty {
		data = append([]byte(nil), blk.Bytes()...)
	}

	switch req.Type {
	case coherence.WbReq:
		// "write back dirty data, retain in S": the block stays resident,
		// only its dirty bit (and any held exclusivity) is given up.
		blk.Dirty = false
		if blk.State == cacheset.Modified || blk.State == cacheset.Exclusive {
			blk.State = cacheset.Shared
		}
		return coherence.Message{Type: coherence.WbRep, BlockAddr: req.BlockAddr, Sender: int(c.Self), RequestID: req.RequestID, Data: data}
	default: // InvReq
		c.Cache.InvalidateSingleLine(set, req.BlockAddr)
		return coherence.Message{Type: coherence.InvRep, BlockAddr: req.BlockAddr, Sender: int(c.Self), RequestID: req.RequestID, Data: data}
	}
}

// handleEviction writes back a dirty victim to the next level as a
// FLUSH_REP, mirroring the fan-out the original issues from evictCacheLine;
// a level with no next-level controller sends nothing. The owning set's
// lock is already held by the caller.
func (c *Controller) handleEviction(ev cacheset.Eviction, now simtime.Time) {
	reason := Evict
	if ev.Block.Dirty && c.next != nil {
		req := coherence.Message{
			Type:      coherence.FlushRep,
			BlockAddr: ev.Addr,
			Sender:    int(c.Self),
			RequestID: c.allocRequestID(),
			Data:      append([]byte(nil), ev.Block.Bytes()...),
		}
		c.next.ProcessShmemReqFromPrevCache(req, now)
		reason = EvictLower
	}
	c.stats.Transition(reason.String())
}
