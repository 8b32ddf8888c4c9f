package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/simtime"
)

func TestSyncInstructionJumpsUserTimeForward(t *testing.T) {
	m := New(0, nil)
	m.QueueDynamicInstruction(Instruction{Kind: SyncInstruction, TargetTime: simtime.NS(100)})
	m.Iterate(nil)
	require.Equal(t, simtime.NS(100), m.UserTime)
}

func TestMemAccessInstructionConsumesPairedDyninfo(t *testing.T) {
	m := New(0, nil)
	m.PushDyninfo(DynamicInfo{Addr: 0x1000, ShmemTime: simtime.NS(5)})
	m.QueueDynamicInstruction(Instruction{Kind: MemAccessInstruction, ShmemTime: simtime.NS(5)})

	var seen *DynamicInfo
	m.Iterate(func(instr Instruction, info *DynamicInfo) {
		if info != nil {
			seen = info
		}
	})

	require.NotNil(t, seen)
	require.Equal(t, uint64(0x1000), seen.Addr)
	require.Equal(t, simtime.NS(5), m.UserTime)
}

func TestPeriodicHookFiresAtGranularity(t *testing.T) {
	fired := 0
	m := New(2, func(now simtime.Time) { fired++ })
	for i := 0; i < 5; i++ {
		m.QueueDynamicInstruction(Instruction{Kind: SyncInstruction})
	}
	m.Iterate(nil)
	require.Equal(t, 2, fired)
}

func TestElapsedSubtractsIdleTime(t *testing.T) {
	m := New(0, nil)
	m.UserTime = simtime.NS(100)
	m.IdleElapsedTime = simtime.NS(30)
	require.Equal(t, simtime.NS(70), m.Elapsed())
}

func TestHandshakeBlocksUntilSignaled(t *testing.T) {
	h := NewHandshake()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, h.WaitForSimTurn(ctx), "sim turn should not be available before a signal")

	done := make(chan error, 1)
	go func() {
		done <- h.WaitForSimTurn(context.Background())
	}()
	h.SignalUserTurn()
	require.NoError(t, <-done)
}

func TestHandshakeRoundTrip(t *testing.T) {
	h := NewHandshake()
	order := make(chan string, 2)

	go func() {
		require.NoError(t, h.WaitForUserTurn(context.Background()))
		order <- "sim"
		h.SignalUserTurn()
	}()

	h.SignalUserWaiting()
	require.NoError(t, h.WaitForSimTurn(context.Background()))
	order <- "user"

	require.Equal(t, "sim", <-order)
	require.Equal(t, "user", <-order)
}
