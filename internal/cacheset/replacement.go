package cacheset

// Policy selects and updates replacement metadata for one CacheSet.
// Additional policies plug in by implementing this interface, per spec.md
// §4.B ("exposing pick_victim(set) and on_access(set, way)").
type Policy interface {
	// Name identifies the policy for config validation and logging.
	Name() string
	// Init prepares metadata for a set with the given associativity.
	Init(ways int) Metadata
	// PickVictim returns the way to evict, preferring an invalid way if
	// one exists.
	PickVictim(m Metadata, valid []bool) int
	// OnAccess updates metadata after a hit or fill at way.
	OnAccess(m Metadata, way int)
}

// Metadata is policy-private per-set state (an LRU stack, SRRIP counters,
// ...). It is a tagged variant in spirit: each policy only ever reads back
// the Metadata it produced from Init.
type Metadata interface{}

// LRU is the stack-based least-recently-used policy: a list of ways with
// index 0 the most-recently-used.
type LRU struct{}

type lruMetadata struct {
	stack []int // MRU-first
}

func (LRU) Name() string { return "lru" }

func (LRU) Init(ways int) Metadata {
	stack := make([]int, ways)
	for i := range stack {
		stack[i] = i
	}
	return &lruMetadata{stack: stack}
}

func (LRU) PickVictim(m Metadata, valid []bool) int {
	lm := m.(*lruMetadata)
	for i := 0; i < len(valid); i++ {
		if !valid[lm.stack[len(lm.stack)-1-i]] {
			return lm.stack[len(lm.stack)-1-i]
		}
	}
	return lm.stack[len(lm.stack)-1]
}

func (LRU) OnAccess(m Metadata, way int) {
	lm := m.(*lruMetadata)
	for i, w := range lm.stack {
		if w == way {
			lm.stack = append(lm.stack[:i], lm.stack[i+1:]...)
			break
		}
	}
	lm.stack = append([]int{way}, lm.stack...)
}

// SRRIP is the Static Re-Reference Interval Prediction policy: each way
// carries an n-bit RRPV, new lines insert at rrpvMax-1 (long re-reference
// interval, the default that resists one-shot streaming), and a hit resets
// RRPV to 0 (near-immediate re-reference).
type SRRIP struct {
	// Bits is the RRPV counter width; spec.md's default is n=2.
	Bits int
}

type srripMetadata struct {
	rrpv []uint8
}

func (s SRRIP) bits() int {
	if s.Bits <= 0 {
		return 2
	}
	return s.Bits
}

func (s SRRIP) rrpvMax() uint8 { return uint8((1 << s.bits()) - 1) }

func (SRRIP) Name() string { return "srrip" }

func (s SRRIP) Init(ways int) Metadata {
	rrpv := make([]uint8, ways)
	for i := range rrpv {
		rrpv[i] = s.rrpvMax()
	}
	return &srripMetadata{rrpv: rrpv}
}

func (s SRRIP) PickVictim(m Metadata, valid []bool) int {
	sm := m.(*srripMetadata)
	for i, ok := range valid {
		if !ok {
			return i
		}
	}
	max := s.rrpvMax()
	for {
		for way, v := range sm.rrpv {
			if v == max {
				return way
			}
		}
		for way := range sm.rrpv {
			if sm.rrpv[way] < max {
				sm.rrpv[way]++
			}
		}
	}
}

func (s SRRIP) OnAccess(m Metadata, way int) {
	sm := m.(*srripMetadata)
	sm.rrpv[way] = 0
}

// insertionRRPV is the RRPV assigned to a freshly filled line: one below
// max, predicting a long re-reference interval so streaming accesses age
// out quickly while a line that does get re-referenced survives.
func (s SRRIP) insertionRRPV() uint8 {
	if s.rrpvMax() == 0 {
		return 0
	}
	return s.rrpvMax() - 1
}

// InitFilled sets a freshly inserted way's RRPV to the insertion value
// rather than the all-ways-max value Init uses for a fresh set.
func (s SRRIP) InitFilled(m Metadata, way int) {
	sm := m.(*srripMetadata)
	sm.rrpv[way] = s.insertionRRPV()
}
