package simtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeAddSaturates(t *testing.T) {
	got := MaxTime.Add(1)
	require.Equal(t, MaxTime, got)

	got = Time(5).Add(MaxTime)
	require.Equal(t, MaxTime, got)
}

func TestTimeSubUnderflowPanics(t *testing.T) {
	require.Panics(t, func() {
		Time(1).Sub(2)
	})
}

func TestTimeSubHappyPath(t *testing.T) {
	require.Equal(t, Time(3), Time(5).Sub(2))
}

func TestMinMax(t *testing.T) {
	require.Equal(t, Time(2), Min(2, 5))
	require.Equal(t, Time(5), Max(2, 5))
}

func TestBandwidthLatencyCeilsCycles(t *testing.T) {
	// 64 bits/cycle, 1 cycle = 1ns for a clean assertion.
	bw := Bandwidth{BitsPerCycle: 64, CyclePeriod: NS(1)}

	require.Equal(t, NS(1), bw.Latency(64))
	// 65 bits still costs 2 full cycles.
	require.Equal(t, NS(2), bw.Latency(65))
}

func TestBandwidthZeroIsLatencyFree(t *testing.T) {
	var bw Bandwidth
	require.Equal(t, Time(0), bw.Latency(1000))
}
