// Package bus implements the shared-bus interconnect timing model of
// spec.md §4.G, grounded directly on
// common/network/network_model_bus.cc's NetworkModelBusGlobal::useBus and
// NetworkModelBus::routePacket/accountPacket.
package bus

import (
	"sync"

	"github.com/sniperarch/memsim/internal/metrics"
	"github.com/sniperarch/memsim/internal/queueing"
	"github.com/sniperarch/memsim/internal/simtime"
)

// PacketType mirrors the wire packet "type" field of spec.md §6.
type PacketType int

const (
	SharedMem1 PacketType = iota
	SharedMem2
	User1
	User2
	SystemBroadcast
)

// Broadcast is the distinguished receiver id fanning a packet to every
// core, per spec.md §3 ("receiver == BROADCAST fans out").
const Broadcast = -1

// Packet is one network transmission.
type Packet struct {
	Sender   int
	Receiver int
	Type     PacketType
	Time     simtime.Time
	Length   uint32 // bytes
	Payload  []byte
}

// Hop is one packet's delivery to a single destination core at a computed
// receive time, mirroring NetworkModelBus::Hop.
type Hop struct {
	Dest int
	Time simtime.Time
}

// Global is the per-network-id shared bus state: one instance serves every
// core transmitting on that network, matching
// NetworkModelBus::_bus_global[NUM_STATIC_NETWORKS] keyed by network id
// rather than a single process-global (spec.md §9 design note).
type Global struct {
	mu sync.Mutex

	bandwidth simtime.Bandwidth
	queue     queueing.Model

	NumPackets        uint64
	NumPacketsDelayed uint64
	NumBytes          uint64
	TimeUsed          simtime.Time
	TotalDelay        simtime.Time

	stats metrics.BusStats
}

// NewGlobal builds the shared bus state for one network id, using either a
// windowed-M/G/1 queue model or a plain FCFS contention model depending on
// useQueueModel (the original's BUS_USE_QUEUE_MODEL compile-time toggle,
// now a runtime choice per spec.md §9).
func NewGlobal(networkName string, bandwidth simtime.Bandwidth, useQueueModel bool, windowSize simtime.Time) *Global {
	var q queueing.Model
	if useQueueModel {
		q = queueing.NewHistoryList(windowSize)
	} else {
		q = queueing.NewContentionModel()
	}
	return &Global{
		bandwidth: bandwidth,
		queue:     q,
		stats:     metrics.NewBusStats(networkName),
	}
}

// UseBus models bus utilization: in packet start time and byte length, out
// packet arrival time, exactly mirroring useBus()'s
// t_start + t_queue + t_delay.
func (g *Global) UseBus(tStart simtime.Time, lengthBytes uint32) simtime.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	tDelay := g.bandwidth.Latency(float64(lengthBytes) * 8)
	tQueue := g.queue.ComputeQueueDelay(tStart, tDelay)

	g.TimeUsed = g.TimeUsed.Add(tDelay)
	g.TotalDelay = g.TotalDelay.Add(tQueue)
	g.stats.TimeUsedFs.Add(float64(tDelay))
	g.stats.TotalDelayFs.Add(float64(tQueue))
	if tQueue > 0 {
		g.NumPacketsDelayed++
		g.stats.NumPacketsDelayed.Inc()
	}

	return tStart.Add(tQueue).Add(tDelay)
}

// Bus is one core's view of a shared Global bus, applying the admission
// policy (local-traffic ignoring, admin-core exclusion) before accounting
// a packet against it. Mirrors NetworkModelBus.
type Bus struct {
	global            *Global
	Enabled           bool
	IgnoreLocalTraffic bool
	TotalCores        int
	ApplicationCores  int // cores below this index carry real application traffic
}

// New builds a per-core bus view over a shared Global instance.
func New(global *Global, totalCores, applicationCores int, ignoreLocal bool) *Bus {
	return &Bus{
		global:             global,
		Enabled:            true,
		IgnoreLocalTraffic: ignoreLocal,
		TotalCores:         totalCores,
		ApplicationCores:   applicationCores,
	}
}

// accountPacket decides whether pkt should be charged against the shared
// bus timing model at all, mirroring NetworkModelBus::accountPacket: admin
// traffic to/from non-application cores, and (optionally) same-core local
// traffic, are not accounted.
func (b *Bus) accountPacket(pkt Packet) bool {
	if !b.Enabled {
		return false
	}
	if b.IgnoreLocalTraffic && pkt.Sender == pkt.Receiver {
		return false
	}
	if pkt.Sender >= b.ApplicationCores || pkt.Receiver >= b.ApplicationCores {
		return false
	}
	return true
}

// RoutePacket computes the receive hop(s) for pkt, fanning out to every
// core on Receiver == Broadcast (spec.md §4.G "Broadcast: enqueue one hop
// per destination, all with the same t_recv").
func (b *Bus) RoutePacket(pkt Packet) []Hop {
	var tRecv simtime.Time
	if b.accountPacket(pkt) {
		b.global.mu.Lock()
		b.global.NumPackets++
		b.global.NumBytes += uint64(pkt.Length)
		b.global.stats.NumPackets.Inc()
		b.global.stats.NumBytes.Add(float64(pkt.Length))
		b.global.mu.Unlock()
		tRecv = b.global.UseBus(pkt.Time, pkt.Length)
	} else {
		tRecv = pkt.Time
	}

	if pkt.Receiver == Broadcast {
		hops := make([]Hop, b.TotalCores)
		for i := 0; i < b.TotalCores; i++ {
			hops[i] = Hop{Dest: i, Time: tRecv}
		}
		return hops
	}
	return []Hop{{Dest: pkt.Receiver, Time: tRecv}}
}
