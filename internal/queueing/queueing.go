// Package queueing implements the two queue-delay abstractions spec'd for
// the bus and DRAM timing models: a windowed M/G/1 approximation fed by a
// sliding history of arrivals, and a plain FCFS contention model. Both are
// grounded on common/performance_model/queue_model_windowed_mg1.cc and the
// ContentionModel referenced from cache_cntlr.h.
package queueing

import "github.com/sniperarch/memsim/internal/simtime"

// Model is the common interface selected by the "queue_model/type"
// configuration knob (spec.md §6).
type Model interface {
	// ComputeQueueDelay returns the additional queueing delay a request
	// arriving at t and requiring service for the given duration must
	// wait, and records the arrival for future estimates.
	ComputeQueueDelay(arrival simtime.Time, service simtime.Time) simtime.Time
}

// arrival is one recorded (t_arrival, service_time) pair.
type arrival struct {
	at      simtime.Time
	service simtime.Time
}

// HistoryList is the windowed M/G/1 queueing approximation. It keeps a
// sliding window of the last Window worth of arrivals and derives
// utilization (rho), arrival rate (lambda) and E[s^2] directly from that
// history rather than assuming a fixed distribution.
type HistoryList struct {
	Window simtime.Time

	window       []arrival
	serviceSum   float64 // sum of service times in the window, in femtoseconds
	serviceSumSq float64 // sum of service_time^2, in femtoseconds^2

	NumRequests       uint64
	TotalUtilizedTime simtime.Time
	TotalQueueDelay   simtime.Time
}

// NewHistoryList constructs a windowed M/G/1 model with the given window
// size (spec.md recommends ~1us by default).
func NewHistoryList(window simtime.Time) *HistoryList {
	return &HistoryList{Window: window}
}

// ComputeQueueDelay implements the five-step algorithm from spec.md §4.A:
// drop stale arrivals, bail out below two samples, derive rho/lambda/E[s^2],
// compute t_queue bounded by the window, then record this arrival.
func (h *HistoryList) ComputeQueueDelay(t simtime.Time, s simtime.Time) simtime.Time {
	h.dropBefore(t)

	var tQueue simtime.Time
	if len(h.window) >= 2 {
		windowFs := float64(h.Window)
		rho := h.serviceSum / windowFs
		if rho > 0.99 {
			rho = 0.99
		}
		lambda := float64(len(h.window)) / windowFs
		eS2 := h.serviceSumSq / float64(len(h.window))

		tQueueFs := lambda * eS2 / (2 * (1 - rho))
		tQueue = simtime.Time(tQueueFs)
		if tQueue > h.Window {
			tQueue = h.Window
		}
	}

	h.insert(t, s)

	h.NumRequests++
	h.TotalUtilizedTime = h.TotalUtilizedTime.Add(s)
	h.TotalQueueDelay = h.TotalQueueDelay.Add(tQueue)

	return tQueue
}

func (h *HistoryList) insert(t, s simtime.Time) {
	h.window = append(h.window, arrival{at: t, service: s})
	sf := float64(s)
	h.serviceSum += sf
	h.serviceSumSq += sf * sf
}

// dropBefore removes arrivals older than t-Window, mirroring removeItems().
func (h *HistoryList) dropBefore(t simtime.Time) {
	if h.Window == 0 {
		return
	}
	cutoff := simtime.Time(0)
	if t > h.Window {
		cutoff = t - h.Window
	}

	i := 0
	for i < len(h.window) && h.window[i].at < cutoff {
		sf := float64(h.window[i].service)
		h.serviceSum -= sf
		h.serviceSumSq -= sf * sf
		i++
	}
	if i > 0 {
		h.window = h.window[i:]
	}
}

// NumArrivals reports how many arrivals currently sit inside the window,
// used by the periodic invariant in spec.md §8 ("arrivals minus dropped
// equals in-flight").
func (h *HistoryList) NumArrivals() int { return len(h.window) }

// ContentionModel is the plain FCFS queue: each request's completion can be
// no earlier than the previous request's completion plus its own service
// time.
type ContentionModel struct {
	tailCompletion simtime.Time
}

// NewContentionModel constructs an empty FCFS contention model.
func NewContentionModel() *ContentionModel { return &ContentionModel{} }

// GetCompletionTime returns max(t_start, t_tail) + t_service and advances
// the tail to that value.
func (c *ContentionModel) GetCompletionTime(tStart, tService simtime.Time) simtime.Time {
	base := simtime.Max(tStart, c.tailCompletion)
	completion := base.Add(tService)
	c.tailCompletion = completion
	return completion
}

// ComputeQueueDelay adapts GetCompletionTime to the Model interface,
// reporting only the queueing component (completion minus start minus
// service), matching NetworkModelBusGlobal::useBus's non-queue-model branch.
func (c *ContentionModel) ComputeQueueDelay(tStart, tService simtime.Time) simtime.Time {
	completion := c.GetCompletionTime(tStart, tService)
	return completion.Sub(tStart).Sub(tService)
}
