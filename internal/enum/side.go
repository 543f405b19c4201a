package enum

import (
	"errors"

	"github.com/shopspring/decimal"
)

var errInvalidSide = errors.New("enum: invalid side")

// Side bid, ask
type Side uint8

const (
	_side_beg Side = iota
	SideBid
	SideAsk
	_side_end
)

// Sides lists both sides in book order, bids first.
var Sides = [2]Side{SideBid, SideAsk}

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

// MustBeAvailable panics on a malformed side. A bad side reaching the book or
// the order ledger is a programming error.
func (s Side) MustBeAvailable() {
	if !s.IsAvailable() {
		panic("enum: invalid side " + s.String())
	}
}

// Sign is +1 for bids and -1 for asks.
func (s Side) Sign() int {
	s.MustBeAvailable()
	if s == SideBid {
		return 1
	}
	return -1
}

// SignDecimal is Sign as a decimal multiplier.
func (s Side) SignDecimal() decimal.Decimal {
	return decimal.NewFromInt(int64(s.Sign()))
}

func (s Side) Opposite() Side {
	s.MustBeAvailable()
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Index maps a side to 0 (bid) or 1 (ask) for side-indexed arrays.
func (s Side) Index() int {
	s.MustBeAvailable()
	return int(s - SideBid)
}

func (s Side) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// SideOf returns the side holding a signed position: bid when long, ask otherwise.
func SideOf(position decimal.Decimal) Side {
	if position.IsPositive() {
		return SideBid
	}
	return SideAsk
}

// ParseSide converts venue wording ("buy"/"sell") to a side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "BID", "bid":
		return SideBid, true
	case "sell", "ASK", "ask":
		return SideAsk, true
	default:
		return _side_beg, false
	}
}

// CloserToQuote returns whichever price sits nearer the top of book on side s.
func (s Side) CloserToQuote(a, b decimal.Decimal) decimal.Decimal {
	if s.Sign() > 0 {
		return decimal.Max(a, b)
	}
	return decimal.Min(a, b)
}

// Better reports whether price a is strictly closer to the top of book than b.
func (s Side) Better(a, b decimal.Decimal) bool {
	if s.Sign() > 0 {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, ok := ParseSide(string(b))
	if !ok {
		return errInvalidSide
	}
	*s = parsed
	return nil
}
