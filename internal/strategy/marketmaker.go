package strategy

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"marketmaker/internal/audit"
	"marketmaker/internal/broker"
	"marketmaker/internal/enum"
	"marketmaker/internal/pnl"
)

const Tag broker.Tag = "mm"

// Params tune the market maker. Per side values are indexed by
// enum.Side.Index.
type Params struct {
	OrderSize      [2]decimal.Decimal
	LiqBehind      [2]decimal.Decimal
	EMAWorkPerc    decimal.Decimal
	MaxPosition    decimal.Decimal
	HedgePerc      decimal.Decimal
	MinProfit      decimal.Decimal
	PriceTolerance decimal.Decimal
	MinLevels      int
	TickSize       decimal.Decimal
	MinOrderSize   decimal.Decimal
}

// Quote is the order the market maker wants on one side.
type Quote struct {
	Side   enum.Side
	Price  decimal.Decimal
	Size   decimal.Decimal
	Method Method
}

// MarketMaker quotes both sides while flat, an exit while holding a position
// and, below the position limit, a hedge on the position side.
type MarketMaker struct {
	env    Env
	params atomic.Pointer[Params]
}

func NewMarketMaker(env Env, p Params) *MarketMaker {
	m := &MarketMaker{env: env}
	m.params.Store(&p)
	return m
}

// SetParams swaps the parameters; safe from any goroutine.
func (m *MarketMaker) SetParams(p Params) {
	m.params.Store(&p)
}

func (m *MarketMaker) Params() Params {
	return *m.params.Load()
}

func (m *MarketMaker) OnMarketData() {
	m.evaluate()
}

func (m *MarketMaker) OnExecution(fill Fill) {
	logs.Infof("filled %s %s@%s, position: %s", fill.Side, fill.Size, fill.Price, m.env.PnL.Position())
	m.evaluate()
}

func (m *MarketMaker) OnImportantEvent(ev audit.Event) {
	switch ev.Kind {
	case audit.KindGap, audit.KindReconnect:
		m.cancelAll()
	}
}

func (m *MarketMaker) cancelAll() {
	for _, side := range enum.Sides {
		m.env.Broker.Cancel(Tag, side)
	}
}

func (m *MarketMaker) evaluate() {
	p := m.params.Load()
	for _, side := range enum.Sides {
		q := m.Target(side, p)
		m.place(q, p)
	}
}

func (m *MarketMaker) place(q Quote, p *Params) {
	if q.Method == MethodCancel || q.Size.LessThan(p.MinOrderSize) || !q.Size.IsPositive() {
		m.env.Broker.Cancel(Tag, q.Side)
		return
	}

	if cur, ok := m.env.Broker.Order(Tag, q.Side); ok && cur.Amount.Equal(q.Size) &&
		cur.Price.Sub(q.Price).Abs().LessThanOrEqual(p.PriceTolerance) && q.Method != MethodRemove {
		return
	}

	if act := m.env.Broker.Request(Tag, q.Side, q.Price, q.Size); act == broker.ActionNew || act == broker.ActionReplace {
		logs.Infof("%s %s %s@%s by %s", act, q.Side, q.Size, q.Price, q.Method)
	}
}

// Target computes the desired quote for side.
func (m *MarketMaker) Target(side enum.Side, p *Params) Quote {
	cancel := Quote{Side: side, Method: MethodCancel}
	ladder := m.env.Book.Ladder(side)
	if !m.env.Book.IsValid() || ladder.Len() < p.MinLevels {
		return cancel
	}

	pos := m.env.PnL.Snapshot()
	switch {
	case pos.AbsQuantity().LessThan(p.MinOrderSize):
		size := AdjustedSize(p.OrderSize[side.Index()], side, pos.Quantity)
		price, method, ok := m.depthEMAPrice(side, size, p)
		if !ok {
			return cancel
		}
		return Quote{Side: side, Price: price, Size: size, Method: method}

	case pos.Side().Opposite() == side:
		return m.exit(side, pos, p)

	case p.MaxPosition.Sub(pos.AbsQuantity()).GreaterThanOrEqual(p.MinOrderSize):
		return m.hedge(side, pos, p)

	default:
		return cancel
	}
}

func (m *MarketMaker) exit(side enum.Side, pos pnl.Position, p *Params) Quote {
	size := pos.AbsQuantity()

	if cost, last, ok := m.env.Book.CostToTake(pos.Side(), size); ok {
		proceeds := pos.Balance.Add(cost.Mul(pos.Side().SignDecimal())).Sub(m.env.PnL.Fee(cost))
		if proceeds.GreaterThan(p.MinProfit) {
			return Quote{Side: side, Price: last, Size: size, Method: MethodRemove}
		}
	}

	if price, _, ok := m.depthEMAPrice(side, size, p); ok {
		if pos.Add(pos.OppositeWithPrice(price)).Balance.GreaterThan(p.MinProfit) {
			return Quote{Side: side, Price: price, Size: size, Method: MethodQuote}
		}
	}

	floor := pos.Opposite().WithMargin(p.MinProfit).Price()
	price := RoundToTick(side, floor, p.TickSize)
	price = BoundToLowerQuote(m.env.Book.Ladder(side), price, p.TickSize)
	price = Passive(m.env.Book, side, price, p.TickSize)
	return Quote{Side: side, Price: price, Size: size, Method: MethodMinProfit}
}

func (m *MarketMaker) hedge(side enum.Side, pos pnl.Position, p *Params) Quote {
	size := decimal.Min(p.OrderSize[side.Index()], p.MaxPosition.Sub(pos.AbsQuantity()))
	depth, method, ok := m.depthEMAPrice(side, size, p)
	if !ok {
		return Quote{Side: side, Method: MethodCancel}
	}

	improve := decimal.NewFromInt(1).Sub(p.HedgePerc.Div(_hundred).Mul(side.SignDecimal()))
	target := pos.Price().Mul(improve)
	hedge := RoundToTick(side, HedgePrice(pos, target, size), p.TickSize)
	hedge = BoundToLowerQuote(m.env.Book.Ladder(side), hedge, p.TickSize)

	if side.Better(depth, hedge) {
		return Quote{Side: side, Price: hedge, Size: size, Method: MethodHedge}
	}
	return Quote{Side: side, Price: depth, Size: size, Method: method}
}

func (m *MarketMaker) depthEMAPrice(side enum.Side, size decimal.Decimal, p *Params) (decimal.Decimal, Method, bool) {
	ladder := m.env.Book.Ladder(side)
	depth, ok := PriceOnDepth(ladder, size, p.LiqBehind[side.Index()], p.TickSize)
	if !ok {
		return decimal.Zero, MethodCancel, false
	}

	price, method := depth, MethodDepth
	if ema, ok := m.env.PnL.EMA(); ok {
		emaPrice := EnterEMA(ladder, ema, p.EMAWorkPerc, p.TickSize)
		emaPrice = BoundToLowerQuote(ladder, emaPrice, p.TickSize)
		price, method = EMAConstraint(side, depth, emaPrice)
	}

	return Passive(m.env.Book, side, price, p.TickSize), method, true
}
