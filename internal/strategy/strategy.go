package strategy

import (
	"github.com/shopspring/decimal"

	"marketmaker/internal/audit"
	"marketmaker/internal/book"
	"marketmaker/internal/broker"
	"marketmaker/internal/enum"
	"marketmaker/internal/pnl"
)

// Fill is an execution of one of our orders.
type Fill struct {
	Side      enum.Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Completed bool
}

// Strategy reacts to engine notifications. All methods run on the engine
// goroutine, so implementations may read Env freely.
type Strategy interface {
	OnMarketData()
	OnExecution(fill Fill)
	OnImportantEvent(ev audit.Event)
}

// Env is the state a strategy reads and the router it trades through.
type Env struct {
	Book   *book.Book
	PnL    *pnl.Ledger
	Broker *broker.Broker
}

// Noop never trades.
type Noop struct{}

func (Noop) OnMarketData()                {}
func (Noop) OnExecution(Fill)             {}
func (Noop) OnImportantEvent(audit.Event) {}
