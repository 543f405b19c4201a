package order

import (
	"github.com/shopspring/decimal"

	"marketmaker/internal/enum"
)

// RequestKind new, replace, cancel
type RequestKind uint8

const (
	_request_kind_beg RequestKind = iota
	RequestNew
	RequestReplace
	RequestCancel
	_request_kind_end
)

func (k RequestKind) IsAvailable() bool {
	return k > _request_kind_beg && k < _request_kind_end
}

func (k RequestKind) String() string {
	switch k {
	case RequestNew:
		return "new"
	case RequestReplace:
		return "replace"
	case RequestCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Request is an outbound intent for the transport. OrderID is empty for new
// orders; Price and Size are empty for cancels.
type Request struct {
	Kind          RequestKind
	Side          enum.Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	OrderID       string
	CorrelationID string
}
