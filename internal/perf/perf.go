// Package perf implements the per-core performance-model façade of
// spec.md §4.H: the two-timeline (user_time/idle_elapsed_time) bookkeeping, the
// basic-block and dyninfo queues drained in lockstep by iterate(), and the
// HOOK_PERIODIC emission that lets the clock-skew barrier advance.
// Grounded on original_source/common/performance_model/performance_model.cc
// and performance_model.h.
package perf

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/sniperarch/memsim/internal/simtime"
)

// InstructionKind distinguishes the synthesized instruction types the
// façade's consumer (the interval model, outside this module's scope per
// spec.md's Non-goals) can be handed.
type InstructionKind int

const (
	SyncInstruction InstructionKind = iota
	MemAccessInstruction
	TLBMissInstruction
)

// Instruction is one entry on the basic-block/dyninfo consumption path.
type Instruction struct {
	Kind       InstructionKind
	TargetTime simtime.Time // SyncInstruction: absolute time to jump user_time to
	ShmemTime  simtime.Time // MemAccessInstruction: latency to account
	Fenced     bool
}

// DynamicInfo carries the per-access metadata consumed in lockstep with
// basic-block iteration (spec.md: "for every memory micro-op in a basic
// block dequeued by iterate(), exactly one dyninfo is consumed").
type DynamicInfo struct {
	EIP       uint64
	ShmemTime simtime.Time
	Addr      uint64
	Size      int
	IsWrite   bool
	NumMisses int
}

// BasicBlock is a sequence of instructions queued for the interval model.
type BasicBlock struct {
	Instructions []Instruction
}

// PeriodicHook is invoked by iterate() once per configured granularity of
// retired instructions, mirroring HOOK_PERIODIC.
type PeriodicHook func(now simtime.Time)

// Model holds one core's user_time/idle_elapsed_time pair and the two
// FIFOs iterate() drains in lockstep, per spec.md §4.H.
type Model struct {
	UserTime        simtime.Time
	IdleElapsedTime simtime.Time

	blocks  []BasicBlock
	dyninfo []DynamicInfo

	// PeriodicGranularity is the instruction count between HOOK_PERIODIC
	// firings; zero disables the hook.
	PeriodicGranularity uint64
	instrSinceHook      uint64
	hook                PeriodicHook
}

// New builds an empty performance model for one core.
func New(periodicGranularity uint64, hook PeriodicHook) *Model {
	return &Model{PeriodicGranularity: periodicGranularity, hook: hook}
}

// Elapsed returns non-idle elapsed time: user_time minus the accumulated
// idle time, per spec.md §3's "elapsed = user_time - idle_time_accumulator".
func (m *Model) Elapsed() simtime.Time {
	return m.UserTime.Sub(m.IdleElapsedTime)
}

// QueueBasicBlock appends bb to the basic-block FIFO.
func (m *Model) QueueBasicBlock(bb BasicBlock) {
	m.blocks = append(m.blocks, bb)
}

// QueueDynamicInstruction enqueues a single synthesized instruction as its
// own one-instruction basic block, used for SyncInstruction/
// MemAccessInstruction injected outside of normal basic-block replay.
func (m *Model) QueueDynamicInstruction(instr Instruction) {
	m.blocks = append(m.blocks, BasicBlock{Instructions: []Instruction{instr}})
}

// PushDyninfo enqueues one dyninfo record.
func (m *Model) PushDyninfo(info DynamicInfo) {
	m.dyninfo = append(m.dyninfo, info)
}

// PopDyninfo dequeues the next dyninfo record, if any.
func (m *Model) PopDyninfo() (DynamicInfo, bool) {
	if len(m.dyninfo) == 0 {
		return DynamicInfo{}, false
	}
	info := m.dyninfo[0]
	m.dyninfo = m.dyninfo[1:]
	return info, true
}

// Iterate drains every queued basic block, advancing user_time for each
// instruction and consuming exactly one dyninfo per memory micro-op
// (MemAccessInstruction / TLBMissInstruction). consume receives each
// instruction and its paired dyninfo (nil for non-memory instructions) so
// the caller's interval-model consumer can do its own accounting; this
// package owns only the timeline, not the scheduling heuristics spec.md's
// Non-goals explicitly exclude.
func (m *Model) Iterate(consume func(Instruction, *DynamicInfo)) {
	for _, bb := range m.blocks {
		for _, instr := range bb.Instructions {
			var info *DynamicInfo
			switch instr.Kind {
			case SyncInstruction:
				if instr.TargetTime > m.UserTime {
					m.UserTime = instr.TargetTime
				}
			case MemAccessInstruction:
				m.UserTime = m.UserTime.Add(instr.ShmemTime)
				if d, ok := m.PopDyninfo(); ok {
					info = &d
				}
			case TLBMissInstruction:
				if d, ok := m.PopDyninfo(); ok {
					info = &d
				}
			}
			if consume != nil {
				consume(instr, info)
			}
			m.advanceHook()
		}
	}
	m.blocks = nil
}

// Handshake is the cooperative user-thread/sim-thread rendezvous of
// spec.md §5, grounded on cache_cntlr.h's m_user_thread_sem/
// m_network_thread_sem pair: the application's user thread blocks on
// WaitForSimTurn while the timing core (the "network thread" in the
// original) processes the access it just issued, then the timing core
// calls SignalUserTurn to hand control back. Both semaphores start empty
// (weight 1, fully acquired) so the first wait always blocks until its
// counterpart signals.
type Handshake struct {
	userTurn *semaphore.Weighted
	simTurn  *semaphore.Weighted
}

// NewHandshake builds a handshake with both turns initially held, matching
// the original's semaphores starting at count zero.
func NewHandshake() *Handshake {
	h := &Handshake{
		userTurn: semaphore.NewWeighted(1),
		simTurn:  semaphore.NewWeighted(1),
	}
	h.userTurn.Acquire(context.Background(), 1)
	h.simTurn.Acquire(context.Background(), 1)
	return h
}

// WaitForSimTurn blocks the user thread until the sim thread signals it has
// finished processing the in-flight access, mirroring waitForUserThread's
// callee-side wait.
func (h *Handshake) WaitForSimTurn(ctx context.Context) error {
	return h.simTurn.Acquire(ctx, 1)
}

// SignalUserWaiting hands control to the sim thread, mirroring
// wakeUpUserThread's dual (issued from the user side to wake the network
// thread).
func (h *Handshake) SignalUserWaiting() {
	h.userTurn.Release(1)
}

// WaitForUserTurn blocks the sim thread until the user thread has issued
// its next access.
func (h *Handshake) WaitForUserTurn(ctx context.Context) error {
	return h.userTurn.Acquire(ctx, 1)
}

// SignalUserTurn hands control back to the user thread once the sim thread
// has finished accounting for the access, mirroring wakeUpUserThread.
func (h *Handshake) SignalUserTurn() {
	h.simTurn.Release(1)
}

func (m *Model) advanceHook() {
	if m.PeriodicGranularity == 0 || m.hook == nil {
		return
	}
	m.instrSinceHook++
	if m.instrSinceHook >= m.PeriodicGranularity {
		m.instrSinceHook = 0
		m.hook(m.UserTime)
	}
}
