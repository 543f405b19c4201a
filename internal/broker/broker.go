package broker

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"marketmaker/internal/enum"
	"marketmaker/internal/obs"
	"marketmaker/internal/order"
	"marketmaker/internal/risk"
)

// Tag names a strategy purpose, e.g. "enter" or "exit".
type Tag string

// Action tells what Request did.
type Action uint8

const (
	ActionNone Action = iota
	ActionNew
	ActionReplace
	ActionInTransition
	ActionSkipped
	ActionBlocked
	ActionDenied
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionNew:
		return "new"
	case ActionReplace:
		return "replace"
	case ActionInTransition:
		return "in_transition"
	case ActionSkipped:
		return "skipped"
	case ActionBlocked:
		return "blocked"
	case ActionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// PositionView exposes the current signed position.
type PositionView interface {
	Position() decimal.Decimal
}

type slotKey struct {
	tag  Tag
	side enum.Side
}

// Broker maps (tag, side) slots to at most one order and turns strategy
// intents into ledger requests, subject to the risk gate.
type Broker struct {
	ledger    *order.Ledger
	gate      *risk.Gate
	checker   *risk.Checker
	position  PositionView
	reference func() decimal.Decimal
	now       func() time.Time
	metrics   *obs.Metrics
	slots     map[slotKey]order.Handle
}

type Option func(*Broker)

// WithLimits enables pre-trade limits.
func WithLimits(l risk.Limits) Option {
	return func(b *Broker) {
		b.checker = risk.NewChecker(l)
	}
}

// WithReference sets the price the price band check compares against.
func WithReference(fn func() decimal.Decimal) Option {
	return func(b *Broker) {
		b.reference = fn
	}
}

// WithMetrics counts risk denials by reason.
func WithMetrics(m *obs.Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// New creates a broker owning its risk gate. events may be nil.
func New(ledger *order.Ledger, position PositionView, events risk.Recorder, opts ...Option) *Broker {
	b := &Broker{
		ledger:   ledger,
		position: position,
		now:      time.Now,
		slots:    make(map[slotKey]order.Handle),
	}
	b.gate = risk.NewGate(b, events)

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Broker) Gate() *risk.Gate {
	return b.gate
}

// SetLimits swaps the pre-trade limits, e.g. after a config reload.
func (b *Broker) SetLimits(l risk.Limits) {
	if b.checker == nil {
		b.checker = risk.NewChecker(l)
		return
	}
	b.checker.Update(l)
}

// Request asks for the slot (tag, side) to hold an order at price and size.
func (b *Broker) Request(tag Tag, side enum.Side, price, size decimal.Decimal) Action {
	side.MustBeAvailable()

	if !size.IsPositive() {
		logs.Warnf("skip %s %s request with size %s", tag, side, size)
		return ActionSkipped
	}

	key := slotKey{tag: tag, side: side}
	o, tracked := b.tracked(key)
	if tracked {
		switch o.Status {
		case order.StatusNew, order.StatusReplacePending:
			logs.Infof("%s %s request in transition, status: %s", tag, side, o.Status)
			return ActionInTransition
		case order.StatusAcknowledged:
			if o.Price.Equal(price) && o.Amount.Equal(size) {
				return ActionNone
			}
		}
	}

	if act := b.admit(side, price, size); act != ActionNone {
		return act
	}

	if tracked {
		if err := b.ledger.ReplaceRequest(b.slots[key], price, size); err != nil {
			b.gate.Escalate(err)
			return ActionNone
		}
		return ActionReplace
	}

	b.slots[key] = b.ledger.NewRequest(side, price, size)
	return ActionNew
}

func (b *Broker) admit(side enum.Side, price, size decimal.Decimal) Action {
	intent := risk.Intent{Side: side, Price: price, Size: size}
	pos := decimal.Zero
	if b.position != nil {
		pos = b.position.Position()
	}

	switch {
	case b.gate.TradingAllowed():
	case b.gate.ReducingAllowed() && risk.Reduces(pos, intent):
	default:
		return ActionBlocked
	}

	if b.checker == nil {
		return ActionNone
	}

	view := risk.View{Position: pos, Now: b.now()}
	if b.reference != nil {
		view.ReferencePrice = b.reference()
	}

	if dec := b.checker.Check(intent, view); !dec.Allowed {
		logs.Warnf("risk denied %s %s@%s, reason: %s", side, size, price, dec.Reason)
		b.metrics.IncRiskReason(dec.Reason)
		return ActionDenied
	}

	return ActionNone
}

// tracked resolves the slot to a live order, forgetting slots whose order is
// gone.
func (b *Broker) tracked(key slotKey) (order.Order, bool) {
	h, ok := b.slots[key]
	if !ok {
		return order.Order{}, false
	}

	o, ok := b.ledger.Get(h)
	if !ok || !o.IsLive() {
		delete(b.slots, key)
		return order.Order{}, false
	}

	return o, true
}

// Cancel cancels the slot order when it is acknowledged and forgets the slot
// right away. It reports whether a cancel was queued.
func (b *Broker) Cancel(tag Tag, side enum.Side) bool {
	key := slotKey{tag: tag, side: side}
	o, ok := b.tracked(key)
	if !ok || o.Status != order.StatusAcknowledged {
		return false
	}

	if err := b.ledger.CancelRequest(b.slots[key]); err != nil {
		b.gate.Escalate(err)
		return false
	}

	delete(b.slots, key)
	return true
}

// CancelAll cancels every acknowledged slot. Slots in transition are kept so
// a later call can cancel them once the venue answers. Acknowledged orders no
// slot holds any more, e.g. after the venue refused a cancel, are cancelled
// too.
func (b *Broker) CancelAll() {
	keys := make([]slotKey, 0, len(b.slots))
	for key := range b.slots {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, func(x, y slotKey) int {
		if c := cmp.Compare(x.tag, y.tag); c != 0 {
			return c
		}
		return cmp.Compare(x.side, y.side)
	})

	for _, key := range keys {
		b.Cancel(key.tag, key.side)
	}

	for _, h := range b.ledger.Uncancelled() {
		if err := b.ledger.CancelRequest(h); err != nil {
			b.gate.Escalate(err)
			return
		}
	}
}

// Order returns the order held by the slot.
func (b *Broker) Order(tag Tag, side enum.Side) (order.Order, bool) {
	return b.tracked(slotKey{tag: tag, side: side})
}

// Pending reports whether any slot waits for a venue answer.
func (b *Broker) Pending() bool {
	for key := range b.slots {
		if o, ok := b.tracked(key); ok && o.Status.InFlight() {
			return true
		}
	}
	return false
}
