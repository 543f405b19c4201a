package venue

import (
	"time"

	"marketmaker/internal/book"
	"marketmaker/internal/obs"
	"marketmaker/internal/order"
)

// Kind of inbound event.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindBook
	KindGap
	KindOrder
	KindReconnected
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

func (k Kind) String() string {
	switch k {
	case KindBook:
		return "book"
	case KindGap:
		return "gap"
	case KindOrder:
		return "order"
	case KindReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// MetricType maps the kind to its metrics counter.
func (k Kind) MetricType() obs.EventType {
	switch k {
	case KindBook:
		return obs.EventBook
	case KindGap:
		return obs.EventGap
	case KindOrder:
		return obs.EventOrder
	case KindReconnected:
		return obs.EventReconnect
	default:
		return 0
	}
}

// Event is one decoded venue message, handed to the engine in arrival order.
type Event struct {
	Kind Kind

	// Deltas carries book updates for KindBook. Full means they describe the
	// whole book and replace it.
	Deltas []book.Delta
	Full   bool

	// Skipped counts the feed updates lost before a KindGap.
	Skipped uint64

	// Order is set for KindOrder.
	Order order.Event

	RecvTs time.Time
}

func BookEvent(deltas []book.Delta, full bool, recv time.Time) Event {
	return Event{Kind: KindBook, Deltas: deltas, Full: full, RecvTs: recv}
}

func GapEvent(skipped uint64, recv time.Time) Event {
	return Event{Kind: KindGap, Skipped: skipped, RecvTs: recv}
}

func OrderEvent(ev order.Event, recv time.Time) Event {
	return Event{Kind: KindOrder, Order: ev, RecvTs: recv}
}

func ReconnectedEvent(recv time.Time) Event {
	return Event{Kind: KindReconnected, RecvTs: recv}
}
