package fault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRangeMergesOverlapping(t *testing.T) {
	f := New("l1d", 0, 0, 0, 1)
	f.AddRange(0x1000, 0x1010)
	f.AddRange(0x1008, 0x1020)
	require.True(t, f.InRange(0x1018, 1))
	require.Len(t, f.ranges, 1)
}

func TestRemoveRangeSplitsExisting(t *testing.T) {
	f := New("l1d", 0, 0, 0, 1)
	f.AddRange(0x1000, 0x1020)
	f.RemoveRange(0x1008, 0x1010)
	require.True(t, f.InRange(0x1000, 1))
	require.False(t, f.InRange(0x1008, 1))
	require.True(t, f.InRange(0x1015, 1))
}

func TestPreReadZeroBERNeverFaults(t *testing.T) {
	f := New("l1d", 0, 0, 0, 1)
	f.AddRange(0x1000, 0x1040)
	buf := make([]byte, 8)
	faulted := f.PreRead(0x1000, 8, buf)
	require.False(t, faulted)
	require.Equal(t, uint64(1), f.TotalRead)
	require.Equal(t, uint64(0), f.FaultyRead)
}

func TestPreReadCertainBERAlwaysFlipsEveryBit(t *testing.T) {
	f := New("l1d", 0, 0, 1.0, 1)
	f.ReadBER = 1.0
	f.AddRange(0x1000, 0x1040)
	buf := make([]byte, 2)
	faulted := f.PreRead(0x1000, 2, buf)
	require.True(t, faulted)
	require.Equal(t, []byte{0xff, 0xff}, buf)
	require.Equal(t, uint64(1), f.FaultyRead)
}

func TestPreReadOutsideRangeNeverFaults(t *testing.T) {
	f := New("l1d", 0, 1.0, 0, 1)
	f.AddRange(0x2000, 0x2010)
	buf := make([]byte, 4)
	faulted := f.PreRead(0x1000, 4, buf)
	require.False(t, faulted)
}
