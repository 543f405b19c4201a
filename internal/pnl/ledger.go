package pnl

import (
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/book"
	"marketmaker/internal/enum"
)

var _hundred = decimal.NewFromInt(100)

// Ledger tracks the running position, realized PnL and market marks. It is
// owned by the engine goroutine.
type Ledger struct {
	pos        Position
	closed     decimal.Decimal
	feePercent decimal.Decimal

	quotes   [2]decimal.Decimal
	hasQuote [2]bool
	ema      *EMA

	fills  uint64
	volume decimal.Decimal
	fees   decimal.Decimal
}

type Option func(*ledgerOptions)

type ledgerOptions struct {
	window time.Duration
	now    func() time.Time
}

func WithEMAWindow(window time.Duration) Option {
	return func(o *ledgerOptions) {
		o.window = window
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *ledgerOptions) {
		o.now = now
	}
}

// NewLedger creates a flat ledger. takerFeePercent is the venue fee charged
// when exiting by crossing the spread, e.g. 0.25 for 0.25%.
func NewLedger(takerFeePercent decimal.Decimal, opts ...Option) *Ledger {
	o := ledgerOptions{window: DefaultEMAWindow, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Ledger{
		feePercent: takerFeePercent,
		ema:        NewEMA(o.window, o.now),
	}
}

// Fee returns the taker fee for trading notional.
func (l *Ledger) Fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Abs().Mul(l.feePercent).Div(_hundred)
}

// Execution books a fill of delta at price. fee is the absolute fee the venue
// charged and always reduces the balance. Non-positive deltas are ignored.
func (l *Ledger) Execution(side enum.Side, delta, price, fee decimal.Decimal) bool {
	side.MustBeAvailable()
	if !delta.IsPositive() {
		return false
	}

	fill := NewFill(side, delta, price).WithMargin(fee.Abs().Neg())
	l.pos = l.pos.Add(fill)
	l.fills++
	l.volume = l.volume.Add(delta)
	l.fees = l.fees.Add(fee.Abs())

	if l.pos.IsFlat() {
		l.closed = l.closed.Add(l.pos.Balance)
		l.pos = Position{}
	}

	return true
}

// QuoteChanged caches the new top of book and samples the mid into the EMA.
func (l *Ledger) QuoteChanged(top book.Level) {
	i := top.Side.Index()
	l.quotes[i] = top.Price
	l.hasQuote[i] = true

	if mid, ok := l.Mid(); ok {
		l.ema.Add(mid)
	}
}

// Quote returns the cached best price of side.
func (l *Ledger) Quote(side enum.Side) (decimal.Decimal, bool) {
	i := side.Index()
	return l.quotes[i], l.hasQuote[i]
}

func (l *Ledger) Mid() (decimal.Decimal, bool) {
	bid, okb := l.Quote(enum.SideBid)
	ask, oka := l.Quote(enum.SideAsk)
	if !okb || !oka {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(_two), true
}

// ResetQuotes forgets the cached quotes, e.g. after a feed gap.
func (l *Ledger) ResetQuotes() {
	l.hasQuote = [2]bool{}
	l.quotes = [2]decimal.Decimal{}
}

func (l *Ledger) Snapshot() Position {
	return l.pos
}

func (l *Ledger) Position() decimal.Decimal {
	return l.pos.Quantity
}

func (l *Ledger) AbsPosition() decimal.Decimal {
	return l.pos.AbsQuantity()
}

func (l *Ledger) Balance() decimal.Decimal {
	return l.pos.Balance
}

// PositionZeroPrice is the break-even price of the open position.
func (l *Ledger) PositionZeroPrice() decimal.Decimal {
	return l.pos.Price()
}

// OpenPnL is the PnL of closing the whole position at exitPrice.
func (l *Ledger) OpenPnL(exitPrice decimal.Decimal) decimal.Decimal {
	return l.pos.Add(l.pos.OppositeWithPrice(exitPrice)).Balance
}

// NBBOPnL marks the position at the opposite best quote, where a passive
// exit order would rest.
func (l *Ledger) NBBOPnL() (decimal.Decimal, bool) {
	if l.pos.IsFlat() {
		return decimal.Zero, true
	}

	price, ok := l.Quote(l.pos.Side().Opposite())
	if !ok {
		return decimal.Zero, false
	}
	return l.OpenPnL(price), true
}

// TakePnL marks the position at the same side best quote, the price of
// exiting by crossing the spread, net of the taker fee.
func (l *Ledger) TakePnL() (decimal.Decimal, bool) {
	if l.pos.IsFlat() {
		return decimal.Zero, true
	}

	price, ok := l.Quote(l.pos.Side())
	if !ok {
		return decimal.Zero, false
	}

	fee := l.Fee(l.pos.Quantity.Mul(price))
	return l.OpenPnL(price).Sub(fee), true
}

func (l *Ledger) ClosedPnL() decimal.Decimal {
	return l.closed
}

func (l *Ledger) EMA() (decimal.Decimal, bool) {
	return l.ema.Value()
}

// Summary is a read-only copy of the ledger for observers.
type Summary struct {
	Position  decimal.Decimal  `json:"position"`
	Balance   decimal.Decimal  `json:"balance"`
	ZeroPrice decimal.Decimal  `json:"zeroPrice"`
	ClosedPnL decimal.Decimal  `json:"closedPnl"`
	NBBOPnL   *decimal.Decimal `json:"nbboPnl,omitempty"`
	TakePnL   *decimal.Decimal `json:"takePnl,omitempty"`
	EMA       *decimal.Decimal `json:"ema,omitempty"`
	BestBid   *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk   *decimal.Decimal `json:"bestAsk,omitempty"`
	Fills     uint64           `json:"fills"`
	Volume    decimal.Decimal  `json:"volume"`
	Fees      decimal.Decimal  `json:"fees"`
}

func optional(v decimal.Decimal, ok bool) *decimal.Decimal {
	if !ok {
		return nil
	}
	return &v
}

func (l *Ledger) Summary() Summary {
	return Summary{
		Position:  l.pos.Quantity,
		Balance:   l.pos.Balance,
		ZeroPrice: l.pos.Price(),
		ClosedPnL: l.closed,
		NBBOPnL:   optional(l.NBBOPnL()),
		TakePnL:   optional(l.TakePnL()),
		EMA:       optional(l.EMA()),
		BestBid:   optional(l.Quote(enum.SideBid)),
		BestAsk:   optional(l.Quote(enum.SideAsk)),
		Fills:     l.fills,
		Volume:    l.volume,
		Fees:      l.fees,
	}
}
