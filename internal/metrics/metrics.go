// Package metrics exports the simulation core's counters through
// Prometheus collectors, keyed by component name and core id the way
// Sniper's registerStatsMetric() keys into its own stats tree. This is the
// ambient observability layer: spec.md's Non-goal on "Python scripting and
// statistics registration boilerplate" excludes the original's Python stats
// harness, not a structured metrics surface (see SPEC_FULL.md §2).
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a prometheus.Registry with the lazy-construct-once-per-name
// pattern every component's NewXStats constructor relies on, so repeated
// construction (e.g. in tests) never tries to register the same metric
// twice.
type Registry struct {
	mu   sync.Mutex
	reg  *prometheus.Registry
	ctrs map[string]*prometheus.CounterVec
	gges map[string]*prometheus.GaugeVec
}

var global = newRegistry()

func newRegistry() *Registry {
	return &Registry{
		reg:  prometheus.NewRegistry(),
		ctrs: make(map[string]*prometheus.CounterVec),
		gges: make(map[string]*prometheus.GaugeVec),
	}
}

// Default returns the process-wide registry every NewXStats constructor
// uses. NewRegistry and the NewXStatsOn variants give a caller an
// independent registry instead.
func Default() *Registry { return global }

// NewRegistry builds a fresh, independent registry.
func NewRegistry() *Registry { return newRegistry() }

func (r *Registry) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cv, ok := r.ctrs[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(cv)
	r.ctrs[name] = cv
	return cv
}

func (r *Registry) gaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gv, ok := r.gges[name]; ok {
		return gv
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(gv)
	r.gges[name] = gv
	return gv
}

// Gatherer exposes the underlying prometheus.Registry, e.g. for an HTTP
// /metrics handler; the demo driver does not serve one.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// TLBStats holds the per-TLB access/miss counters (spec.md §4.C).
type TLBStats struct {
	Accesses prometheus.Counter
	Misses   prometheus.Counter
}

// NewTLBStats registers (or reuses) the access/miss counters for a named
// TLB instance.
func NewTLBStats(name string) TLBStats {
	return NewTLBStatsOn(Default(), name)
}

// NewTLBStatsOn is NewTLBStats against an explicit registry, used by tests
// that want isolation from the process-wide default.
func NewTLBStatsOn(r *Registry, name string) TLBStats {
	cv := r.counterVec("memsim_tlb_total", "TLB accesses by outcome", []string{"tlb", "outcome"})
	return TLBStats{
		Accesses: cv.WithLabelValues(name, "access"),
		Misses:   cv.WithLabelValues(name, "miss"),
	}
}

// MSHRStats tracks MSHR occupancy and overlap accounting (spec.md §4.D).
type MSHRStats struct {
	Occupancy          prometheus.Gauge
	LoadOverlapping    prometheus.Counter
	StoreOverlapping   prometheus.Counter
	OutstandingWaits   prometheus.Counter
}

func NewMSHRStats(cacheName string) MSHRStats { return NewMSHRStatsOn(Default(), cacheName) }

func NewMSHRStatsOn(r *Registry, cacheName string) MSHRStats {
	gv := r.gaugeVec("memsim_mshr_occupancy", "In-flight MSHR entries", []string{"cache"})
	cv := r.counterVec("memsim_mshr_events_total", "MSHR overlap/wait events", []string{"cache", "event"})
	return MSHRStats{
		Occupancy:        gv.WithLabelValues(cacheName),
		LoadOverlapping:  cv.WithLabelValues(cacheName, "load_overlap"),
		StoreOverlapping: cv.WithLabelValues(cacheName, "store_overlap"),
		OutstandingWaits: cv.WithLabelValues(cacheName, "outstanding_wait"),
	}
}

// BusStats mirrors NetworkModelBusGlobal's registered metrics.
type BusStats struct {
	NumPackets        prometheus.Counter
	NumPacketsDelayed prometheus.Counter
	NumBytes          prometheus.Counter
	TimeUsedFs        prometheus.Counter
	TotalDelayFs      prometheus.Counter
}

func NewBusStats(network string) BusStats { return NewBusStatsOn(Default(), network) }

func NewBusStatsOn(r *Registry, network string) BusStats {
	cv := r.counterVec("memsim_bus_total", "Bus packet/byte/time counters", []string{"network", "metric"})
	return BusStats{
		NumPackets:        cv.WithLabelValues(network, "num_packets"),
		NumPacketsDelayed: cv.WithLabelValues(network, "num_packets_delayed"),
		NumBytes:          cv.WithLabelValues(network, "num_bytes"),
		TimeUsedFs:        cv.WithLabelValues(network, "time_used_fs"),
		TotalDelayFs:      cv.WithLabelValues(network, "total_delay_fs"),
	}
}

// DRAMStats mirrors the DRAM controller's per-controller counters.
type DRAMStats struct {
	NumAccesses        prometheus.Counter
	TotalAccessLatency prometheus.Counter
	TotalQueueingDelay prometheus.Counter
}

func NewDRAMStats(controller string) DRAMStats { return NewDRAMStatsOn(Default(), controller) }

func NewDRAMStatsOn(r *Registry, controller string) DRAMStats {
	cv := r.counterVec("memsim_dram_total", "DRAM controller counters", []string{"controller", "metric"})
	return DRAMStats{
		NumAccesses:        cv.WithLabelValues(controller, "num_accesses"),
		TotalAccessLatency: cv.WithLabelValues(controller, "total_access_latency_fs"),
		TotalQueueingDelay: cv.WithLabelValues(controller, "total_queueing_delay_fs"),
	}
}

// FaultStats mirrors FaultInjectorRange's totalRead/faultyRead/... metrics.
type FaultStats struct {
	TotalRead   prometheus.Counter
	FaultyRead  prometheus.Counter
	TotalWrite  prometheus.Counter
	FaultyWrite prometheus.Counter
}

func NewFaultStats(component string, coreID int) FaultStats {
	return NewFaultStatsOn(Default(), component, coreID)
}

func NewFaultStatsOn(r *Registry, component string, coreID int) FaultStats {
	cv := r.counterVec("memsim_fault_injection_total", "Fault injection totals", []string{"component", "core", "metric"})
	core := strconv.Itoa(coreID)
	return FaultStats{
		TotalRead:   cv.WithLabelValues(component, core, "total_read"),
		FaultyRead:  cv.WithLabelValues(component, core, "faulty_read"),
		TotalWrite:  cv.WithLabelValues(component, core, "total_write"),
		FaultyWrite: cv.WithLabelValues(component, core, "faulty_write"),
	}
}

// ControllerStats tracks per-reason transition counts (SPEC_FULL.md §4,
// recovered from the original's ENABLE_TRANSITIONS accounting).
type ControllerStats struct {
	vec *prometheus.CounterVec
	name string
}

func NewControllerStats(cacheName string) ControllerStats {
	return NewControllerStatsOn(Default(), cacheName)
}

func NewControllerStatsOn(r *Registry, cacheName string) ControllerStats {
	return ControllerStats{
		vec:  r.counterVec("memsim_controller_transitions_total", "Coherence state transitions by reason", []string{"cache", "reason"}),
		name: cacheName,
	}
}

// Transition increments the counter for the given reason string.
func (c ControllerStats) Transition(reason string) {
	if c.vec == nil {
		return
	}
	c.vec.WithLabelValues(c.name, reason).Inc()
}
