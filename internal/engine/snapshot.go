package engine

import (
	"time"

	"marketmaker/internal/audit"
	"marketmaker/internal/book"
	"marketmaker/internal/obs"
	"marketmaker/internal/order"
	"marketmaker/internal/pnl"
	"marketmaker/internal/risk"
)

// Snapshot is a read-only copy of the engine state, built between events.
type Snapshot struct {
	Seq     uint64        `json:"seq"`
	Time    time.Time     `json:"time"`
	Market  string        `json:"market"`
	Book    book.Depth    `json:"book"`
	Orders  []order.Order `json:"orders"`
	PnL     pnl.Summary   `json:"pnl"`
	Risk    risk.State    `json:"risk"`
	Metrics obs.Snapshot  `json:"metrics"`
	// Events holds the important events recorded since the previous snapshot.
	Events []audit.Event `json:"events"`
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		Seq:     e.seq.Next(),
		Time:    e.now(),
		Market:  e.cfg.Market,
		Book:    e.book.Top(e.cfg.SnapshotDepth),
		Orders:  e.orders.Live(),
		PnL:     e.pnl.Summary(),
		Risk:    e.broker.Gate().State(),
		Metrics: e.metrics.Snapshot(),
		Events:  e.hub.Drain(),
	}
}
