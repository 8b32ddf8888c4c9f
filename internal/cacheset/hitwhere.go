package cacheset

// HitWhere classifies the deepest level a memory request reached. Ordering
// matters: comparing two HitWhere values with < tells you which is
// "closer", and spec.md requires the maximum across sub-line accesses to be
// the value reported for a multi-line request.
type HitWhere int

const (
	Unknown HitWhere = iota
	L1I
	L1
	L2
	L3
	L4
	L1Sibling
	L2Sibling
	L3Sibling
	L4Sibling
	CacheRemote
	DRAMLocal
	DRAMRemote
	Miss
	PredicateFalse
)

func (h HitWhere) String() string {
	switch h {
	case L1I:
		return "L1I"
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	case L4:
		return "L4"
	case L1Sibling:
		return "L1_SIBLING"
	case L2Sibling:
		return "L2_SIBLING"
	case L3Sibling:
		return "L3_SIBLING"
	case L4Sibling:
		return "L4_SIBLING"
	case CacheRemote:
		return "CACHE_REMOTE"
	case DRAMLocal:
		return "DRAM_LOCAL"
	case DRAMRemote:
		return "DRAM_REMOTE"
	case Miss:
		return "MISS"
	case PredicateFalse:
		return "PREDICATE_FALSE"
	default:
		return "UNKNOWN"
	}
}

// FromLevel maps a zero-based cache level index (0 = L1) to its HitWhere,
// up to L4 for level 3; any deeper level maps to CacheRemote.
func FromLevel(level int) HitWhere {
	switch level {
	case 0:
		return L1
	case 1:
		return L2
	case 2:
		return L3
	case 3:
		return L4
	default:
		return CacheRemote
	}
}

// MaxHitWhere returns the farther (larger) of two classifications, used to
// fold per-segment results of a cache-line-spanning access into one value.
func MaxHitWhere(a, b HitWhere) HitWhere {
	if b > a {
		return b
	}
	return a
}
