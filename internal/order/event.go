package order

import "github.com/shopspring/decimal"

// Event is a venue-originated order event applied through Ledger.MarketEvent.
type Event interface {
	EventName() string
}

// Acknowledged confirms a new order and carries the venue order id.
type Acknowledged struct {
	CorrelationID string
	OrderID       string
	Pending       decimal.Decimal
	Amount        decimal.Decimal
}

// Replaced confirms a price/size amendment; the order gets a new venue id.
type Replaced struct {
	CorrelationID string
	OrderID       string
	Pending       decimal.Decimal
	Amount        decimal.Decimal
	Price         decimal.Decimal
}

// Cancelled confirms an order left the book without trading further.
type Cancelled struct {
	CorrelationID string
	OrderID       string
}

// Execution reports the remaining amount of an order after a fill. Either key
// may be empty.
type Execution struct {
	OrderID       string
	CorrelationID string
	Remaining     decimal.Decimal
}

// ErrorEvent is the venue rejecting one of our requests.
type ErrorEvent struct {
	CorrelationID string
	Class         ErrorClass
	Message       string
}

// Reconnect tells the ledger the transport session was re-established.
type Reconnect struct{}

func (Acknowledged) EventName() string { return "ack" }
func (Replaced) EventName() string     { return "replaced" }
func (Cancelled) EventName() string    { return "cancelled" }
func (Execution) EventName() string    { return "execution" }
func (ErrorEvent) EventName() string   { return "error" }
func (Reconnect) EventName() string    { return "reconnect" }

// ErrorClass groups venue rejections by how the caller should react.
type ErrorClass uint8

const (
	_error_class_beg ErrorClass = iota
	ErrorInsufficientFunds
	ErrorRateLimit
	ErrorOrderNotFound
	ErrorInvalidAmount
	ErrorUnexpected
	_error_class_end
)

func (c ErrorClass) IsAvailable() bool {
	return c > _error_class_beg && c < _error_class_end
}

func (c ErrorClass) String() string {
	switch c {
	case ErrorInsufficientFunds:
		return "insufficient_funds"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOrderNotFound:
		return "order_not_found"
	case ErrorInvalidAmount:
		return "invalid_amount"
	case ErrorUnexpected:
		return "unexpected"
	default:
		return "none"
	}
}
