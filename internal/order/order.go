package order

import (
	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

// Status new, acknowledged, replace pending, completed
type Status uint8

const (
	_status_beg Status = iota
	StatusNew
	StatusAcknowledged
	StatusReplacePending
	StatusCompleted
	_status_end
)

func (s Status) IsAvailable() bool {
	return s > _status_beg && s < _status_end
}

// InFlight reports whether a request for the order awaits a venue answer.
func (s Status) InFlight() bool {
	return s == StatusNew || s == StatusReplacePending
}

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusAcknowledged:
		return "ACK"
	case StatusReplacePending:
		return "REPLACE_PENDING"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handle addresses an order inside the ledger arena. Handles stay valid until
// the ledger prunes the completed order they point to.
type Handle struct {
	idx uint32
	gen uint32
}

// IsZero reports whether h was never issued by a ledger.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// Order is the local view of one of our resting orders.
type Order struct {
	Side          enum.Side       `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Requested     decimal.Decimal `json:"requested"`
	OrderID       string          `json:"orderId,omitempty"`
	CorrelationID string          `json:"correlationId"`
	Status        Status          `json:"status"`

	// price and size asked for by the replace in flight
	targetPrice decimal.Decimal
	targetSize  decimal.Decimal
}

// IsLive reports whether the order can still trade.
func (o Order) IsLive() bool {
	return o.Status.IsAvailable() && o.Status != StatusCompleted
}
