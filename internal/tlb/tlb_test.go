package tlb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/cacheset"
)

func TestTLBMissThenHit(t *testing.T) {
	tl, err := New("dtlb", 4096, 4, 4, cacheset.LRU{})
	require.NoError(t, err)

	require.False(t, tl.Lookup(10)) // compulsory miss, installs the page
	require.True(t, tl.Lookup(10))  // now resident

	require.Equal(t, uint64(2), tl.Accesses)
	require.Equal(t, uint64(1), tl.Misses)
}
