package venue

import (
	"errors"
	"strings"

	"marketmaker/internal/order"
)

var (
	ErrUnsupportedRequest = errors.New("venue: unsupported request kind")
	ErrAuthRejected       = errors.New("venue: auth rejected")
	ErrMalformedMessage   = errors.New("venue: malformed message")
	ErrSessionClosed      = errors.New("venue: session closed")
)

// Classify maps a venue error description to an error class.
func Classify(msg string) order.ErrorClass {
	lower := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(lower, "insufficient funds"):
		return order.ErrorInsufficientFunds
	case strings.Contains(lower, "rate limit"):
		return order.ErrorRateLimit
	case strings.Contains(lower, "order not found"):
		return order.ErrorOrderNotFound
	case strings.Contains(lower, "invalid amount"), strings.Contains(lower, "minimum order amount"):
		return order.ErrorInvalidAmount
	default:
		return order.ErrorUnexpected
	}
}
