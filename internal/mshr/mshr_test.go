package mshr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/simtime"
)

func TestAdmitNewMissThenOverlap(t *testing.T) {
	m := New("L1D", 4, simtime.NS(1000))

	outcome, _ := m.Admit(0x1000, 0)
	require.Equal(t, NewMiss, outcome)

	m.Complete(0x1000, simtime.NS(100))

	// A second request for the same block before completion overlaps.
	outcome, completeAt := m.Admit(0x1000, simtime.NS(10))
	require.Equal(t, Overlapped, outcome)
	require.Equal(t, simtime.NS(100), completeAt)
}

func TestAdmitRespectsOutstandingBound(t *testing.T) {
	m := New("L1D", 2, simtime.NS(1000))

	o1, _ := m.Admit(0x1000, 0)
	o2, _ := m.Admit(0x2000, 0)
	require.Equal(t, NewMiss, o1)
	require.Equal(t, NewMiss, o2)
	require.Equal(t, 2, m.Len())

	o3, _ := m.Admit(0x3000, 0)
	require.Equal(t, WaitedForSlot, o3)
	require.Equal(t, 2, m.Len())
}

func TestRetireFreesSlot(t *testing.T) {
	m := New("L1D", 1, simtime.NS(1000))
	m.Admit(0x1000, 0)
	require.Equal(t, 1, m.Len())
	m.Retire(0x1000)
	require.Equal(t, 0, m.Len())

	o, _ := m.Admit(0x2000, 0)
	require.Equal(t, NewMiss, o)
}

func TestSweepPurgesStaleCompletedEntries(t *testing.T) {
	m := New("L1D", 4, simtime.NS(100))
	m.Admit(0x1000, 0)
	m.Complete(0x1000, simtime.NS(10))

	m.Sweep(simtime.NS(50)) // within window, stays
	require.Equal(t, 1, m.Len())

	m.Sweep(simtime.NS(1000)) // now - window > completeTime, purged
	require.Equal(t, 0, m.Len())
}

func TestWaiterTableFIFOOrder(t *testing.T) {
	wt := NewWaiterTable()
	wt.Enqueue(0x1000, Waiter{RequesterCntlr: 1, IssueTime: 0})
	wt.Enqueue(0x1000, Waiter{RequesterCntlr: 2, IssueTime: 1})

	require.Equal(t, 2, wt.Len(0x1000))
	drained := wt.DrainInOrder(0x1000)
	require.Len(t, drained, 2)
	require.Equal(t, 1, drained[0].RequesterCntlr)
	require.Equal(t, 2, drained[1].RequesterCntlr)
	require.Equal(t, 0, wt.Len(0x1000))
}
