package futex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/simtime"
)

func TestWaitMismatchReturnsEWouldBlockImmediately(t *testing.T) {
	tbl := New(simtime.NS(10))
	read := func(uint64) uint32 { return 1 }

	errno, w := tbl.Wait(0x1000, 0, 0xffffffff, simtime.MaxTime, 0, read)
	require.Equal(t, EWOULDBLOCK, errno)
	require.Nil(t, w)
}

func TestFutexPingPong(t *testing.T) {
	tbl := New(simtime.NS(5))
	value := uint32(0)
	read := func(uint64) uint32 { return value }

	errno, w := tbl.Wait(0x2000, 0, 0xffffffff, simtime.MaxTime, 0, read)
	require.Equal(t, OK, errno)
	require.NotNil(t, w)

	value = 1
	woken := tbl.Wake(0x2000, 1, 0xffffffff)
	require.Equal(t, 1, woken)

	resolvedErrno, done := w.Resolve()
	require.True(t, done)
	require.Equal(t, OK, resolvedErrno)

	require.Equal(t, uint64(1), tbl.Stats.WaitCount)
	require.Equal(t, uint64(1), tbl.Stats.WakeCount)
}

func TestSweepExpiresTimedOutWaiters(t *testing.T) {
	tbl := New(0)
	read := func(uint64) uint32 { return 0 }
	_, w := tbl.Wait(0x3000, 0, 0xffffffff, simtime.NS(100), 0, read)

	expired := tbl.Sweep(simtime.NS(50))
	require.Empty(t, expired)

	expired = tbl.Sweep(simtime.NS(150))
	require.Len(t, expired, 1)

	errno, done := w.Resolve()
	require.True(t, done)
	require.Equal(t, ETIMEDOUT, errno)
}

func TestCmpRequeueMovesRemainingWaiters(t *testing.T) {
	tbl := New(0)
	read := func(uint64) uint32 { return 7 }

	tbl.Wait(0x4000, 0, 0xffffffff, simtime.MaxTime, 0, read)
	tbl.Wait(0x4000, 0, 0xffffffff, simtime.MaxTime, 1, read)
	tbl.Wait(0x4000, 0, 0xffffffff, simtime.MaxTime, 2, read)

	errno, woken := tbl.CmpRequeue(0x4000, 7, 1, 0x5000, read)
	require.Equal(t, OK, errno)
	require.Equal(t, 1, woken)

	remaining := tbl.Wake(0x5000, 10, 0xffffffff)
	require.Equal(t, 2, remaining)
}

func TestCmpRequeueMismatchReturnsEAgain(t *testing.T) {
	tbl := New(0)
	read := func(uint64) uint32 { return 1 }

	errno, woken := tbl.CmpRequeue(0x4000, 7, 1, 0x5000, read)
	require.Equal(t, EAGAIN, errno)
	require.Equal(t, 0, woken)
}
