package obs

import (
	"sync/atomic"
	"time"

	"marketmaker/internal/order"
	"marketmaker/internal/risk"
)

// EventType of an inbound venue event.
type EventType uint8

const (
	_event_type_beg EventType = iota
	EventBook
	EventGap
	EventOrder
	EventReconnect
	_event_type_end
)

func (e EventType) String() string {
	switch e {
	case EventBook:
		return "book"
	case EventGap:
		return "gap"
	case EventOrder:
		return "order"
	case EventReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

const (
	maxRequestKind = int(order.RequestCancel)
	maxRiskReason  = int(risk.ReasonPositionLimit)
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	eventCounts      [_event_type_end]uint64
	requestCounts    [maxRequestKind + 1]uint64
	riskReasonCounts [maxRiskReason + 1]uint64
	fills            uint64
	rejects          uint64
	desyncs          uint64
	queueDrops       uint64

	eventLatency    LatencyStats
	dispatchLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[EventType]uint64         `json:"-"`
	RequestCounts    map[order.RequestKind]uint64 `json:"-"`
	RiskReasonCounts map[risk.Reason]uint64       `json:"-"`
	Fills            uint64                       `json:"fills"`
	Rejects          uint64                       `json:"rejects"`
	Desyncs          uint64                       `json:"desyncs"`
	QueueDrops       uint64                       `json:"queueDrops"`
	EventLatency     LatencySnapshot              `json:"eventLatency"`
	DispatchLatency  LatencySnapshot              `json:"dispatchLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts an inbound event and, when recv is set, the time it
// waited before being applied.
func (m *Metrics) ObserveEvent(t EventType, recv time.Time) {
	if m == nil {
		return
	}
	idx := int(t)
	if idx > 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if !recv.IsZero() {
		m.eventLatency.Observe(time.Since(recv))
	}
}

// IncRequest counts an outbound request.
func (m *Metrics) IncRequest(kind order.RequestKind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx > 0 && idx < len(m.requestCounts) {
		atomic.AddUint64(&m.requestCounts[idx], 1)
	}
}

// IncRiskReason increments the risk reason counter.
func (m *Metrics) IncRiskReason(reason risk.Reason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

func (m *Metrics) IncReject() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.rejects, 1)
}

func (m *Metrics) IncDesync() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.desyncs, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveDispatch measures how long handling one inbound event took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[EventType(i)] = v
		}
	}
	requestCounts := make(map[order.RequestKind]uint64)
	for i := range m.requestCounts {
		if v := atomic.LoadUint64(&m.requestCounts[i]); v > 0 {
			requestCounts[order.RequestKind(i)] = v
		}
	}
	riskCounts := make(map[risk.Reason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[risk.Reason(i)] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		RequestCounts:    requestCounts,
		RiskReasonCounts: riskCounts,
		Fills:            atomic.LoadUint64(&m.fills),
		Rejects:          atomic.LoadUint64(&m.rejects),
		Desyncs:          atomic.LoadUint64(&m.desyncs),
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		EventLatency:     m.eventLatency.Snapshot(),
		DispatchLatency:  m.dispatchLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
