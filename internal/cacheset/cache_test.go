package cacheset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertThenAccessRoundTrips(t *testing.T) {
	c, err := New("L1", 64, 1, 4, LRU{})
	require.NoError(t, err)

	addr := uint64(0x1000)
	set := c.SetFor(addr)
	set.Lock()
	defer set.Unlock()

	fill := make([]byte, 64)
	fill[0] = 0xAB
	c.InsertSingleLine(set, addr, fill, Modified, nil)

	buf := make([]byte, 1)
	blk := c.AccessSingleLine(set, addr, Load, buf, 0)
	require.NotNil(t, blk)
	require.Equal(t, byte(0xAB), buf[0])
}

func TestAccessMissReturnsNil(t *testing.T) {
	c, err := New("L1", 64, 4, 2, LRU{})
	require.NoError(t, err)

	set := c.SetFor(0x4000)
	set.Lock()
	defer set.Unlock()

	require.Nil(t, c.AccessSingleLine(set, 0x4000, Load, nil, 0))
}

func TestLRUCapacityEviction(t *testing.T) {
	// L1 = 32KiB, 8-way, 64B line, LRU -> 64 sets. Use a single set
	// (numSets=1) and touch 64 distinct block addresses one at a time to
	// exercise associativity=8 capacity eviction directly, per spec.md §8
	// scenario 2.
	c, err := New("L1", 64, 1, 8, LRU{})
	require.NoError(t, err)

	set := c.SetFor(0)
	set.Lock()

	addrs := make([]uint64, 64)
	for i := range addrs {
		addrs[i] = uint64(i) * 64
		c.InsertSingleLine(set, addrs[i], nil, Exclusive, nil)
	}
	set.Unlock()

	// Only the 8 most recently inserted remain.
	for i := 0; i < 56; i++ {
		set.Lock()
		blk := c.AccessSingleLine(set, addrs[i], Peek, nil, 0)
		set.Unlock()
		require.Nil(t, blk, "addr %d should have been evicted", i)
	}
	for i := 56; i < 64; i++ {
		set.Lock()
		blk := c.AccessSingleLine(set, addrs[i], Peek, nil, 0)
		set.Unlock()
		require.NotNil(t, blk, "addr %d should still be resident", i)
	}
}

func TestSRRIPScanResistance(t *testing.T) {
	// A working set of 16 blocks streamed once (long re-reference,
	// inserted at rrpvMax-1) followed by repeated re-access of one hot
	// block (resets to 0) should let the hot block survive while the
	// streamed blocks age out under continued pressure.
	policy := SRRIP{Bits: 2}
	c, err := New("L2", 64, 1, 4, policy)
	require.NoError(t, err)

	set := c.SetFor(0)
	set.Lock()

	hot := uint64(0)
	c.InsertSingleLine(set, hot, nil, Shared, nil)
	c.AccessSingleLine(set, hot, Load, nil, 0)

	// Stream distinct blocks through the remaining ways while genuinely
	// revisiting the hot block between each streamed insertion: the real
	// access resets its RRPV to 0 each round, so it keeps winning over
	// the never-revisited streamed lines even under sustained pressure.
	for i := 1; i < 20; i++ {
		c.InsertSingleLine(set, uint64(i)*64, nil, Shared, nil)
		c.AccessSingleLine(set, hot, Load, nil, 0)
	}
	set.Unlock()

	set.Lock()
	blk := c.AccessSingleLine(set, hot, Peek, nil, 0)
	set.Unlock()
	require.NotNil(t, blk, "hot block should survive SRRIP streaming pressure")
}

func TestInvalidateSingleLine(t *testing.T) {
	c, err := New("L1", 64, 1, 2, LRU{})
	require.NoError(t, err)

	set := c.SetFor(0x100)
	set.Lock()
	c.InsertSingleLine(set, 0x100, nil, Shared, nil)

	require.True(t, c.InvalidateSingleLine(set, 0x100))
	require.False(t, c.InvalidateSingleLine(set, 0x100))
	set.Unlock()
}
