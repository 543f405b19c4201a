package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/order"
	"marketmaker/internal/risk"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(EventBook, time.Now().Add(-time.Millisecond))
	m.ObserveEvent(EventBook, time.Time{})
	m.ObserveEvent(EventGap, time.Time{})
	m.IncRequest(order.RequestNew)
	m.IncRequest(order.RequestCancel)
	m.IncRiskReason(risk.ReasonPriceBand)
	m.IncFill()
	m.IncReject()
	m.IncDesync()
	m.IncQueueDrop()
	m.ObserveDispatch(2 * time.Microsecond)
	m.ObserveDispatch(4 * time.Microsecond)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.EventCounts[EventBook])
	assert.Equal(t, uint64(1), s.EventCounts[EventGap])
	assert.Equal(t, uint64(1), s.RequestCounts[order.RequestNew])
	assert.Equal(t, uint64(1), s.RiskReasonCounts[risk.ReasonPriceBand])
	assert.Equal(t, uint64(1), s.Fills)
	assert.Equal(t, uint64(1), s.QueueDrops)
	assert.Equal(t, uint64(1), s.EventLatency.Count)
	assert.Equal(t, 3*time.Microsecond, s.DispatchLatency.Avg)
	assert.Equal(t, 2*time.Microsecond, s.DispatchLatency.Min)
	assert.Equal(t, 4*time.Microsecond, s.DispatchLatency.Max)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncFill()
	m.ObserveEvent(EventOrder, time.Now())
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestCollectorExports(t *testing.T) {
	m := NewMetrics()
	m.IncFill()
	m.IncFill()
	m.ObserveEvent(EventOrder, time.Time{})

	c := NewCollector(m)
	require.NotZero(t, testutil.CollectAndCount(c))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "marketmaker_fills_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "marketmaker_events_total"))

	families, err := NewRegistry(m).Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator(10)
	assert.Equal(t, uint64(11), g.Next())
	assert.Equal(t, uint64(12), g.Next())
}
