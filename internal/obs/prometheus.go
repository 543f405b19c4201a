package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "marketmaker"

// Collector exports Metrics snapshots to prometheus.
type Collector struct {
	m *Metrics

	events   *prometheus.Desc
	requests *prometheus.Desc
	denials  *prometheus.Desc
	fills    *prometheus.Desc
	rejects  *prometheus.Desc
	desyncs  *prometheus.Desc
	drops    *prometheus.Desc
	latency  *prometheus.Desc
}

func NewCollector(m *Metrics) *Collector {
	return &Collector{
		m:        m,
		events:   prometheus.NewDesc(namespace+"_events_total", "Inbound venue events by type", []string{"type"}, nil),
		requests: prometheus.NewDesc(namespace+"_requests_total", "Outbound order requests by kind", []string{"kind"}, nil),
		denials:  prometheus.NewDesc(namespace+"_risk_denials_total", "Requests denied by pre-trade limits", []string{"reason"}, nil),
		fills:    prometheus.NewDesc(namespace+"_fills_total", "Executions applied to the position", nil, nil),
		rejects:  prometheus.NewDesc(namespace+"_rejects_total", "Venue rejections of our requests", nil, nil),
		desyncs:  prometheus.NewDesc(namespace+"_desyncs_total", "Order ledger desyncs", nil, nil),
		drops:    prometheus.NewDesc(namespace+"_queue_drops_total", "Items dropped by full queues", nil, nil),
		latency:  prometheus.NewDesc(namespace+"_latency_avg_seconds", "Average latency by stage", []string{"stage"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.requests
	ch <- c.denials
	ch <- c.fills
	ch <- c.rejects
	ch <- c.desyncs
	ch <- c.drops
	ch <- c.latency
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()

	for t, v := range s.EventCounts {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), t.String())
	}
	for k, v := range s.RequestCounts {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(v), k.String())
	}
	for r, v := range s.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(c.denials, prometheus.CounterValue, float64(v), r.String())
	}

	ch <- prometheus.MustNewConstMetric(c.fills, prometheus.CounterValue, float64(s.Fills))
	ch <- prometheus.MustNewConstMetric(c.rejects, prometheus.CounterValue, float64(s.Rejects))
	ch <- prometheus.MustNewConstMetric(c.desyncs, prometheus.CounterValue, float64(s.Desyncs))
	ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(s.QueueDrops))
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.EventLatency.Avg.Seconds(), "event")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.DispatchLatency.Avg.Seconds(), "dispatch")
}

// NewRegistry returns a registry holding the collector plus the Go runtime
// and process collectors.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(m),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
