package bus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sniperarch/memsim/internal/simtime"
)

func testBandwidth() simtime.Bandwidth {
	// 64 bits/cycle, matching the spec's worked bus-contention example.
	return simtime.Bandwidth{BitsPerCycle: 64, CyclePeriod: simtime.NS(1)}
}

func TestUseBusSerializesTwoSimultaneousPackets(t *testing.T) {
	g := NewGlobal("mem", testBandwidth(), false, simtime.NS(1000))

	t1 := g.UseBus(0, 64) // 64 bytes = 512 bits = 8 cycles = 8ns
	require.Equal(t, simtime.NS(8), t1)

	t2 := g.UseBus(0, 64) // queued behind the first, arrives at 16ns
	require.Equal(t, simtime.NS(16), t2)
}

func TestAccountPacketIgnoresLocalTraffic(t *testing.T) {
	g := NewGlobal("mem", testBandwidth(), false, simtime.NS(1000))
	b := New(g, 4, 4, true)

	require.False(t, b.accountPacket(Packet{Sender: 1, Receiver: 1}))
	require.True(t, b.accountPacket(Packet{Sender: 1, Receiver: 2}))
}

func TestAccountPacketExcludesNonApplicationCores(t *testing.T) {
	g := NewGlobal("mem", testBandwidth(), false, simtime.NS(1000))
	b := New(g, 4, 2, false)

	require.True(t, b.accountPacket(Packet{Sender: 0, Receiver: 1}))
	require.False(t, b.accountPacket(Packet{Sender: 2, Receiver: 0}))
	require.False(t, b.accountPacket(Packet{Sender: 0, Receiver: 3}))
}

func TestRoutePacketBroadcastFansOutToAllCores(t *testing.T) {
	g := NewGlobal("mem", testBandwidth(), false, simtime.NS(1000))
	b := New(g, 3, 3, false)

	hops := b.RoutePacket(Packet{Sender: 0, Receiver: Broadcast, Length: 0, Time: simtime.NS(5)})
	require.Len(t, hops, 3)
	for i, h := range hops {
		require.Equal(t, i, h.Dest)
		require.Equal(t, simtime.NS(5), h.Time)
	}
}

func TestRoutePacketUnicastReturnsSingleHop(t *testing.T) {
	g := NewGlobal("mem", testBandwidth(), false, simtime.NS(1000))
	b := New(g, 3, 3, false)

	hops := b.RoutePacket(Packet{Sender: 0, Receiver: 2, Length: 64, Time: 0})
	require.Len(t, hops, 1)
	require.Equal(t, 2, hops[0].Dest)
	require.Equal(t, simtime.NS(8), hops[0].Time)
}
