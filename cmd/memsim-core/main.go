// Command memsim-core drives the simulation core end to end: it builds a
// small multicore cache hierarchy from a configuration file (or built-in
// defaults), replays a synthetic memory-access workload across every core
// concurrently, and logs a summary: bus packets and DRAM accesses for the
// run, and retired instructions, I-cache hits and user time for each core.
// Structured as a single cobra root command with one RunE per subcommand.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sniperarch/memsim/internal/arena"
	"github.com/sniperarch/memsim/internal/bus"
	"github.com/sniperarch/memsim/internal/cacheset"
	"github.com/sniperarch/memsim/internal/config"
	"github.com/sniperarch/memsim/internal/controller"
	"github.com/sniperarch/memsim/internal/corefacade"
	"github.com/sniperarch/memsim/internal/directory"
	"github.com/sniperarch/memsim/internal/fault"
	"github.com/sniperarch/memsim/internal/fatal"
	"github.com/sniperarch/memsim/internal/futex"
	"github.com/sniperarch/memsim/internal/perf"
	"github.com/sniperarch/memsim/internal/simlog"
	"github.com/sniperarch/memsim/internal/simtime"
	"github.com/sniperarch/memsim/internal/tlb"
	"github.com/sniperarch/memsim/internal/wire"
)

var log = simlog.For("cmd")

func main() {
	var (
		configPath string
		numCores   int
		accesses   int
		seed       int64
		verbose    bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a synthetic workload through the simulated cache hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				simlog.SetLevel(-1) // zerolog.TraceLevel
			}
			opts, err := loadOptions(configPath, numCores)
			if err != nil {
				return err
			}
			return runSimulation(cmd.Context(), opts, accesses, seed)
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file (defaults built in if omitted)")
	runCmd.Flags().IntVar(&numCores, "cores", 4, "number of cores (ignored when --config is given)")
	runCmd.Flags().IntVar(&accesses, "accesses", 2000, "number of synthetic memory accesses per core")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "PRNG seed for the synthetic workload and fault injection")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd := &cobra.Command{
		Use:   "memsim-core",
		Short: "Multicore memory-subsystem timing simulator core",
	}
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadOptions(path string, numCores int) (config.Options, error) {
	if path != "" {
		opts, err := config.Load(path)
		if err != nil {
			fatal.ConfigInvalid(err)
			return config.Options{}, err
		}
		return opts, nil
	}
	opts := defaultOptions(numCores)
	if err := opts.Validate(); err != nil {
		fatal.ConfigInvalid(err)
		return config.Options{}, err
	}
	return opts, nil
}

func defaultOptions(numCores int) config.Options {
	return config.Options{
		CachingProtocolType: "parametric_dram_directory_msi",
		NumCores:            numCores,
		NumHomes:            2,
		L1DCache: config.CacheLevel{
			SizeBytes: 32 * 1024, Associativity: 8, ReplacementPolicy: "lru",
			AccessTimeNS: 1, OutstandingMisses: 4,
		},
		L1ICache: config.CacheLevel{
			SizeBytes: 32 * 1024, Associativity: 4, ReplacementPolicy: "lru",
			AccessTimeNS: 1, OutstandingMisses: 2,
		},
		L2Cache: config.CacheLevel{
			SizeBytes: 256 * 1024, Associativity: 8, ReplacementPolicy: "lru",
			AccessTimeNS: 8, OutstandingMisses: 8, SharedCores: 1,
		},
		L3Cache: config.CacheLevel{
			SizeBytes: 8 * 1024 * 1024, Associativity: 16, ReplacementPolicy: "lru",
			AccessTimeNS: 30, OutstandingMisses: 16, SharedCores: numCores,
		},
		Bus: config.BusConfig{
			BandwidthBytesPerSec: 2.4e9 / 8, QueueModelType: "windowed_mg1",
		},
		QueueModel: config.QueueModelConfig{WindowSizeNS: 1000},
		DRAM: config.DRAMConfig{
			LatencyNS: 100, PerControllerBandwidth: 7.6e9 / 8, NumControllers: 1,
		},
		FaultInjection: config.FaultInjectionConfig{Type: "none"},
		Sync:           config.SyncConfig{RescheduleCostNS: 50},
	}
}

// hierarchy is everything built from an Options value, scoped to one run.
type hierarchy struct {
	opts      config.Options
	busG      *bus.Global
	busB      *bus.Bus
	dramHomes []*directory.DRAMController
	dir       *directory.Directory
	nodes     *arena.Arena[*controller.Controller]
	llc       *controller.Controller
	cores     []*corefacade.Core
	perfs     []*perf.Model
	inj       []*fault.Injector
	ftx       *futex.Table

	lockWord uint32 // a single shared futex word guarding sharedBlock's critical section
}

// dramAccesses sums NumAccesses across every home-node DRAM controller.
func (h *hierarchy) dramAccesses() uint64 {
	var total uint64
	for _, d := range h.dramHomes {
		total += d.NumAccesses
	}
	return total
}

func buildHierarchy(opts config.Options) *hierarchy {
	busBW := simtime.NewBandwidth(opts.Bus.BandwidthBytesPerSec, 1e9)
	busGlobal := bus.NewGlobal("mem", busBW, opts.Bus.QueueModelType == "windowed_mg1", simtime.NS(opts.QueueModel.WindowSizeNS))
	busB := bus.New(busGlobal, opts.NumCores, opts.NumCores, opts.Bus.IgnoreLocalTraffic)

	numHomes := opts.NumHomes
	if numHomes < 1 {
		numHomes = 1
	}
	dramBW := simtime.NewBandwidth(opts.DRAM.PerControllerBandwidth, 1e9)
	dramHomes := make([]*directory.DRAMController, numHomes)
	dramAccessors := make([]controller.DRAMAccessor, numHomes)
	for i := range dramHomes {
		d := directory.NewDRAMController(fmt.Sprintf("dram%d", i), simtime.NS(opts.DRAM.LatencyNS), dramBW, simtime.NS(opts.QueueModel.WindowSizeNS))
		dramHomes[i] = d
		dramAccessors[i] = d
	}
	dir := directory.New(numHomes)

	nodes := arena.New[*controller.Controller]()

	llcCache, err := cacheset.New("L3", 64, opts.L3Cache.SizeBytes/(64*opts.L3Cache.Associativity), opts.L3Cache.Associativity, cacheset.LRU{})
	fatal.Assert(err == nil, "failed to build shared cache", "level", "L3", "err", err)
	llcIdx := nodes.Insert(nil)
	llc := controller.New("L3", -1, 2, llcCache, controller.Params{
		OutstandingMisses: opts.L3Cache.OutstandingMisses,
		MshrWindow:        simtime.NS(opts.QueueModel.WindowSizeNS),
		SharedCores:       opts.L3Cache.SharedCores,
	}, llcIdx)
	llc.AttachDirectory(dir, dramAccessors)
	*nodes.Get(llcIdx) = llc

	h := &hierarchy{opts: opts, busG: busGlobal, busB: busB, dramHomes: dramHomes, dir: dir, nodes: nodes, llc: llc, ftx: futex.New(simtime.NS(opts.Sync.RescheduleCostNS))}

	for core := 0; core < opts.NumCores; core++ {
		l1d := buildL1(nodes, opts.L1DCache, fmt.Sprintf("L1D-%d", core), core, llc)
		l1i := buildL1(nodes, opts.L1ICache, fmt.Sprintf("L1I-%d", core), core, llc)

		pm := perf.New(1000, nil)
		facade := corefacade.New(l1d, l1i, pm, 64)

		dtlb, err := tlb.New(fmt.Sprintf("dtlb-%d", core), 4096, 64, 4, cacheset.LRU{})
		fatal.Assert(err == nil, "failed to build TLB", "core", core, "err", err)
		itlb, err := tlb.New(fmt.Sprintf("itlb-%d", core), 4096, 64, 4, cacheset.LRU{})
		fatal.Assert(err == nil, "failed to build TLB", "core", core, "err", err)
		facade.AttachTLB(dtlb, itlb)

		var injector *fault.Injector
		if h.opts.FaultInjection.Type != "none" {
			injector = fault.New(fmt.Sprintf("core%d", core), core, h.opts.FaultInjection.ReadBER, h.opts.FaultInjection.WriteBER, h.opts.FaultInjection.Seed+int64(core))
			injector.AddRange(0, 1<<40)
		}

		h.cores = append(h.cores, facade)
		h.perfs = append(h.perfs, pm)
		h.inj = append(h.inj, injector)
	}

	return h
}

func buildL1(nodes *arena.Arena[*controller.Controller], cfg config.CacheLevel, name string, core int, next *controller.Controller) *controller.Controller {
	sets := cfg.SizeBytes / (64 * cfg.Associativity)
	cache, err := cacheset.New(name, 64, sets, cfg.Associativity, cacheset.LRU{})
	fatal.Assert(err == nil, "failed to build L1 cache", "name", name, "err", err)
	idx := nodes.Insert(nil)
	c := controller.New(name, core, 0, cache, controller.Params{
		OutstandingMisses: cfg.OutstandingMisses,
		MshrWindow:        simtime.NS(1000),
	}, idx)
	c.AttachNext(next, nil)
	*nodes.Get(idx) = c
	return c
}

// runSimulation replays a synthetic workload of random reads/writes over a
// shared address range through every core's façade concurrently, using one
// goroutine per core fanned out with errgroup.
func runSimulation(ctx context.Context, opts config.Options, accessesPerCore int, seed int64) error {
	h := buildHierarchy(opts)

	start := time.Now()
	g, _ := errgroup.WithContext(ctx)
	for core := 0; core < opts.NumCores; core++ {
		core := core
		g.Go(func() error {
			return driveCore(h, core, accessesPerCore, seed+int64(core))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	log.Info().
		Int("cores", opts.NumCores).
		Int("accesses_per_core", accessesPerCore).
		Dur("wall_clock", elapsed).
		Uint64("bus_packets", h.busG.NumPackets).
		Uint64("dram_accesses", h.dramAccesses()).
		Msg("run complete")

	for core, facade := range h.cores {
		log.Info().
			Int("core", core).
			Uint64("retired_instructions", facade.NumRetiredInstructions).
			Uint64("icache_hits", facade.ICacheHits).
			Uint64("user_time_ns", uint64(h.perfs[core].UserTime.Nanoseconds())).
			Msg("core summary")
	}
	return nil
}

// driveCore issues a mix of shared and private-range reads/writes to model
// a producer/consumer-ish workload: every core reads a shared "hot" block
// under a futex-guarded critical section and writes its own private block,
// exercising coherence traffic, DRAM fills, bus accounting, and the
// trace-record codec together.
func driveCore(h *hierarchy, core, n int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	const sharedBlock = 0x1000
	privateBase := uint64(0x10000 + core*0x1000)

	readWord := func(uaddr uint64) uint32 { return atomic.LoadUint32(&h.lockWord) }

	for i := 0; i < n; i++ {
		var addr uint64
		var op corefacade.MemOp
		if rng.Intn(4) == 0 {
			addr = sharedBlock
			op = corefacade.OpRead
			acquireSharedLock(h, core, readWord)
		} else {
			addr = privateBase + uint64(rng.Intn(8))*8
			if rng.Intn(3) == 0 {
				op = corefacade.OpWrite
			} else {
				op = corefacade.OpRead
			}
		}

		instrAddr := privateBase + 0x800 + uint64(i%16)*4
		h.cores[core].ReadInstructionMemory(instrAddr, 4)

		buf := make([]byte, 8)
		res := h.cores[core].AccessMemory(corefacade.LockNone, op, addr, buf, 8, corefacade.ModeledTime, addr, simtime.MaxTime)

		if addr == sharedBlock {
			releaseSharedLock(h)
			req := wire.MemoryRequest{RequestID: uuid.New(), Addr: addr, Size: 8, Op: uint8(op)}
			h.busB.RoutePacket(bus.Packet{
				Sender: core, Receiver: bus.Broadcast, Type: bus.SharedMem1,
				Time: h.perfs[core].UserTime, Length: uint32(len(wire.EncodeMemoryRequest(req))),
			})
		}

		if injector := h.inj[core]; injector != nil && op == corefacade.OpRead {
			injector.PreRead(addr, len(buf), buf)
		}

		h.cores[core].CountInstructions(addr, 1)
		_ = res
	}
	return nil
}

const sharedLockAddr = 0x1000

// acquireSharedLock implements a simple test-and-set spinlock over
// h.lockWord using the futex table's non-blocking Wait/Resolve contract:
// on contention it parks a waiter and polls Resolve until another core's
// releaseSharedLock wakes it. The table's reschedule cost is not charged.
func acquireSharedLock(h *hierarchy, core int, read futex.Read) {
	for {
		if atomic.CompareAndSwapUint32(&h.lockWord, 0, 1) {
			return
		}
		errno, w := h.ftx.Wait(sharedLockAddr, 1, ^uint32(0), simtime.MaxTime, core, read)
		if errno != futex.OK {
			continue
		}
		for {
			if _, done := w.Resolve(); done {
				break
			}
			time.Sleep(time.Microsecond)
		}
	}
}

// releaseSharedLock clears the lock word and wakes one waiter, mirroring a
// FUTEX_WAKE(1) unlock.
func releaseSharedLock(h *hierarchy) {
	atomic.StoreUint32(&h.lockWord, 0)
	h.ftx.Wake(sharedLockAddr, 1, ^uint32(0))
}
