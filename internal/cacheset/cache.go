// Package cacheset implements the set-associative cache storage array
// (spec.md §4.B): CacheBlockInfo, CacheSet and Cache, with pluggable
// replacement policy and per-set locking. Grounded structurally on
// common/core/memory_subsystem/cache/cache.h and cache_set_srrip.h.
package cacheset

import (
	"fmt"
	"sync"
)

// AccessKind selects the operation access_single_line performs.
type AccessKind int

const (
	Load AccessKind = iota
	Store
	Peek // lookup only, never touches replacement metadata
)

// BlockInfo describes one resident cache line.
type BlockInfo struct {
	Tag         uint64
	State       State
	Dirty       bool
	Prefetched  bool
	valid       bool
	data        []byte
}

// Valid reports whether the slot currently holds a line.
func (b *BlockInfo) Valid() bool { return b.valid }

// Bytes exposes the block's resident data for callers that need to copy it
// into a coherence reply or writeback payload (e.g. the controller package).
// The caller must treat the returned slice as read-only or hold the set's
// lock while mutating it.
func (b *BlockInfo) Bytes() []byte { return b.data }

// CacheSet is one associativity-wide row of the cache array. Per spec.md
// §3: "Invariant: at most one slot per tag; empty slots hold the invalid
// state." Each set owns its own lock (spec.md §5's "per-set lock"),
// serializing every coherent operation that touches any block in the set.
type CacheSet struct {
	mu    sync.Mutex
	blocks []BlockInfo
	meta  Metadata
}

func newCacheSet(ways int, blockSize int, policy Policy) *CacheSet {
	blocks := make([]BlockInfo, ways)
	for i := range blocks {
		blocks[i].data = make([]byte, blockSize)
	}
	return &CacheSet{
		blocks: blocks,
		meta:   policy.Init(ways),
	}
}

// Lock / Unlock expose the per-set lock directly so the cache controller
// can hold it across an entire coherent operation, including the outgoing
// network request and incoming reply, per spec.md §5.
func (s *CacheSet) Lock()   { s.mu.Lock() }
func (s *CacheSet) Unlock() { s.mu.Unlock() }

func (s *CacheSet) validMask() []bool {
	v := make([]bool, len(s.blocks))
	for i := range s.blocks {
		v[i] = s.blocks[i].valid
	}
	return v
}

func (s *CacheSet) findWay(tag uint64) int {
	for i := range s.blocks {
		if s.blocks[i].valid && s.blocks[i].Tag == tag {
			return i
		}
	}
	return -1
}

// Cache is a complete set-associative array: `name, block_size, num_sets,
// associativity, replacement_policy, enabled, sets[]` per spec.md §3.
type Cache struct {
	Name          string
	BlockSize     int
	NumSets       int
	Associativity int
	Policy        Policy
	Enabled       bool
	// Perfect bypasses storage and timing entirely, always reporting a
	// hit; grounded on CacheParameters::perfect in cache_cntlr.h.
	Perfect bool

	log2Block uint
	sets      []*CacheSet
}

// New builds a Cache, validating the invariant
// num_sets * associativity * block_size = total_size implicitly by taking
// numSets and associativity directly rather than a derived total size.
func New(name string, blockSize, numSets, associativity int, policy Policy) (*Cache, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("cacheset: block_size %d must be a power of two", blockSize)
	}
	if numSets <= 0 || numSets&(numSets-1) != 0 {
		return nil, fmt.Errorf("cacheset: num_sets %d must be a power of two", numSets)
	}
	if associativity <= 0 {
		return nil, fmt.Errorf("cacheset: associativity must be >= 1")
	}

	c := &Cache{
		Name:          name,
		BlockSize:     blockSize,
		NumSets:       numSets,
		Associativity: associativity,
		Policy:        policy,
		Enabled:       true,
		log2Block:     uint(bitsLog2(blockSize)),
	}
	c.sets = make([]*CacheSet, numSets)
	for i := range c.sets {
		c.sets[i] = newCacheSet(associativity, blockSize, policy)
	}
	return c, nil
}

func bitsLog2(v int) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// BlockAddress masks off the block offset bits.
func (c *Cache) BlockAddress(addr uint64) uint64 {
	return addr &^ (uint64(c.BlockSize) - 1)
}

func (c *Cache) setIndex(blockAddr uint64) int {
	return int((blockAddr >> c.log2Block) % uint64(c.NumSets))
}

// SetFor returns the CacheSet responsible for addr, for callers that need
// to hold the per-set lock across a multi-step coherent operation.
func (c *Cache) SetFor(addr uint64) *CacheSet {
	return c.sets[c.setIndex(c.BlockAddress(addr))]
}

// AccessSingleLine implements spec.md's access_single_line: index into the
// set, linear-scan for the tag, and on hit copy bytes in/out and (unless
// peeking) update replacement metadata. The caller must already hold the
// set's lock.
func (c *Cache) AccessSingleLine(set *CacheSet, addr uint64, kind AccessKind, buf []byte, offset int) *BlockInfo {
	blockAddr := c.BlockAddress(addr)
	way := set.findWay(blockAddr)
	if way < 0 {
		return nil
	}
	blk := &set.blocks[way]

	if kind != Peek {
		c.Policy.OnAccess(set.meta, way)
	}

	if buf != nil {
		switch kind {
		case Load:
			copy(buf, blk.data[offset:offset+len(buf)])
		case Store:
			copy(blk.data[offset:offset+len(buf)], buf)
		}
	}

	if kind == Store {
		// spec.md:128 — "For store with s = E, silently upgrade to M", no
		// coherence message sent. A store against an already-M line just
		// stays dirty. The caller is responsible for never reaching here
		// with a Store against S or I (those must go through a coherence
		// transaction first).
		blk.State = Modified
		blk.Dirty = true
	}

	return blk
}

// Eviction describes a line being displaced from a set, handed to the
// caller's eviction sink so it can be written back if dirty.
type Eviction struct {
	Addr  uint64
	Block BlockInfo
}

// InsertSingleLine implements spec.md's insert_single_line: the
// replacement policy picks a victim, the victim (if valid) is reported via
// evictFn, and the slot is overwritten with the new tag/data/state. A tag
// that is already resident is refilled in its own slot, with no eviction.
// The caller must hold the set's lock.
func (c *Cache) InsertSingleLine(set *CacheSet, addr uint64, fill []byte, state State, evictFn func(Eviction)) {
	blockAddr := c.BlockAddress(addr)
	way := set.findWay(blockAddr)
	reuse := way >= 0
	if !reuse {
		way = c.Policy.PickVictim(set.meta, set.validMask())
	}
	blk := &set.blocks[way]

	if blk.valid && !reuse && evictFn != nil {
		evictFn(Eviction{
			Addr:  blk.Tag,
			Block: *blk,
		})
	}

	blk.Tag = blockAddr
	blk.valid = true
	blk.State = state
	blk.Dirty = false
	blk.Prefetched = false
	if fill != nil {
		copy(blk.data, fill)
	}

	if srrip, ok := c.Policy.(SRRIP); ok {
		srrip.InitFilled(set.meta, way)
	} else {
		c.Policy.OnAccess(set.meta, way)
	}
}

// InvalidateSingleLine marks addr's line invalid, reporting whether it was
// previously valid.
func (c *Cache) InvalidateSingleLine(set *CacheSet, addr uint64) bool {
	blockAddr := c.BlockAddress(addr)
	way := set.findWay(blockAddr)
	if way < 0 {
		return false
	}
	set.blocks[way].valid = false
	set.blocks[way].State = Invalid
	return true
}

// Lookup finds a block without acquiring any lock itself; callers that
// already hold the set lock (e.g. via SetFor+Lock) use this directly.
func (c *Cache) Lookup(set *CacheSet, addr uint64) (*BlockInfo, bool) {
	way := set.findWay(c.BlockAddress(addr))
	if way < 0 {
		return nil, false
	}
	return &set.blocks[way], true
}
