package order

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"marketmaker/internal/enum"
)

// Outcome classifies what a venue event did to the ledger.
type Outcome uint8

const (
	_outcome_beg Outcome = iota
	OutcomeApplied
	OutcomeNoEffect
	OutcomeFilled
	OutcomeRejected
	_outcome_end
)

func (o Outcome) IsAvailable() bool {
	return o > _outcome_beg && o < _outcome_end
}

// Result describes the effect of one MarketEvent call.
type Result struct {
	Outcome Outcome
	Handle  Handle
	Side    enum.Side

	// Delta is the filled amount and Price the order price, set on OutcomeFilled.
	Delta decimal.Decimal
	Price decimal.Decimal

	// Completed is set when the event moved the order to StatusCompleted.
	Completed bool

	// Class is set for ErrorEvent, whatever the outcome.
	Class ErrorClass

	// Reverted counts replaces rolled back by a Reconnect.
	Reverted int
}

type slot struct {
	gen     uint32
	order   Order
	cancels []string
}

// Ledger tracks our orders from request until completion and reconciles
// them against venue events. It is not safe for concurrent use; the engine
// goroutine owns it.
type Ledger struct {
	slots         []slot
	free          []uint32
	byCorrelation map[string]Handle
	byOrderID     map[string]Handle
	cancels       map[string]Handle
	done          map[string]Handle
	queue         []Request
	newID         func() string
}

type Option func(*Ledger)

// WithIDGenerator replaces the uuid correlation id source.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		byCorrelation: make(map[string]Handle),
		byOrderID:     make(map[string]Handle),
		cancels:       make(map[string]Handle),
		done:          make(map[string]Handle),
		newID:         uuid.NewString,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Ledger) lookup(h Handle) (*slot, bool) {
	if h.IsZero() || int(h.idx) >= len(l.slots) {
		return nil, false
	}

	s := &l.slots[h.idx]
	if s.gen != h.gen {
		return nil, false
	}

	return s, true
}

func (l *Ledger) alloc(o Order) Handle {
	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		s := &l.slots[idx]
		s.order = o
		s.cancels = s.cancels[:0]
		return Handle{idx: idx, gen: s.gen}
	}

	l.slots = append(l.slots, slot{gen: 1, order: o})
	return Handle{idx: uint32(len(l.slots) - 1), gen: 1}
}

// NewRequest records a new order and queues the place request.
func (l *Ledger) NewRequest(side enum.Side, price, size decimal.Decimal) Handle {
	side.MustBeAvailable()

	cid := l.newID()
	h := l.alloc(Order{
		Side:          side,
		Price:         price,
		Amount:        size,
		Requested:     size,
		CorrelationID: cid,
		Status:        StatusNew,
	})
	l.byCorrelation[cid] = h

	l.queue = append(l.queue, Request{
		Kind:          RequestNew,
		Side:          side,
		Price:         price,
		Size:          size,
		CorrelationID: cid,
	})

	return h
}

// ReplaceRequest amends an acknowledged order to a new price and size.
func (l *Ledger) ReplaceRequest(h Handle, price, size decimal.Decimal) error {
	s, ok := l.lookup(h)
	if !ok {
		return ErrUnknownHandle
	}

	o := &s.order
	if o.Status != StatusAcknowledged {
		return ErrInvalidTransition
	}

	cid := l.newID()
	o.CorrelationID = cid
	o.Status = StatusReplacePending
	o.targetPrice = price
	o.targetSize = size
	l.byCorrelation[cid] = h

	l.queue = append(l.queue, Request{
		Kind:          RequestReplace,
		Side:          o.Side,
		Price:         price,
		Size:          size,
		OrderID:       o.OrderID,
		CorrelationID: cid,
	})

	return nil
}

// CancelRequest queues a cancel for an order known to the venue. The order
// keeps its status until the venue confirms.
func (l *Ledger) CancelRequest(h Handle) error {
	s, ok := l.lookup(h)
	if !ok {
		return ErrUnknownHandle
	}

	o := &s.order
	if o.Status == StatusCompleted || o.OrderID == "" {
		return ErrInvalidTransition
	}

	cid := l.newID()
	l.cancels[cid] = h
	s.cancels = append(s.cancels, cid)

	l.queue = append(l.queue, Request{
		Kind:          RequestCancel,
		Side:          o.Side,
		OrderID:       o.OrderID,
		CorrelationID: cid,
	})

	return nil
}

// Drain hands over every queued request in FIFO order.
func (l *Ledger) Drain() []Request {
	if len(l.queue) == 0 {
		return nil
	}

	out := l.queue
	l.queue = nil
	return out
}

// Queued returns the number of requests waiting for Drain.
func (l *Ledger) Queued() int {
	return len(l.queue)
}

// MarketEvent applies one venue event. A returned error is a desync unless
// it is ErrUnknownHandle or ErrInvalidTransition, which only come from the
// request side.
func (l *Ledger) MarketEvent(ev Event) (Result, error) {
	switch e := ev.(type) {
	case Acknowledged:
		return l.onAcknowledged(e)
	case Replaced:
		return l.onReplaced(e)
	case Cancelled:
		return l.onCancelled(e)
	case Execution:
		return l.onExecution(e)
	case ErrorEvent:
		return l.onError(e), nil
	case Reconnect:
		return l.onReconnect(), nil
	default:
		return Result{Outcome: OutcomeNoEffect}, nil
	}
}

func (l *Ledger) onAcknowledged(e Acknowledged) (Result, error) {
	h, ok := l.byCorrelation[e.CorrelationID]
	if !ok {
		return Result{}, desync(ErrUnknownCorrelationID, e)
	}

	s, _ := l.lookup(h)
	o := &s.order
	if o.Status != StatusNew {
		return Result{}, desync(ErrUnknownCorrelationID, e)
	}

	delete(l.byCorrelation, e.CorrelationID)
	o.OrderID = e.OrderID
	o.Status = StatusAcknowledged
	if e.Amount.IsPositive() {
		o.Requested = e.Amount
	}
	l.byOrderID[e.OrderID] = h

	return Result{Outcome: OutcomeApplied, Handle: h, Side: o.Side}, nil
}

func (l *Ledger) onReplaced(e Replaced) (Result, error) {
	h, ok := l.byCorrelation[e.CorrelationID]
	if !ok {
		return Result{}, desync(ErrUnknownCorrelationID, e)
	}

	s, _ := l.lookup(h)
	o := &s.order
	if o.Status != StatusReplacePending {
		return Result{}, desync(ErrUnknownCorrelationID, e)
	}

	delete(l.byCorrelation, e.CorrelationID)
	if cur, ok := l.byOrderID[o.OrderID]; ok && cur == h {
		delete(l.byOrderID, o.OrderID)
	}

	o.OrderID = e.OrderID
	o.Price = o.targetPrice
	if e.Price.IsPositive() {
		o.Price = e.Price
	}

	o.Requested = o.targetSize
	if e.Amount.IsPositive() {
		o.Requested = e.Amount
	}

	o.Amount = o.Requested
	if e.Pending.IsPositive() {
		o.Amount = e.Pending
	}

	o.Status = StatusAcknowledged
	l.byOrderID[e.OrderID] = h

	return Result{Outcome: OutcomeApplied, Handle: h, Side: o.Side}, nil
}

func (l *Ledger) onCancelled(e Cancelled) (Result, error) {
	h, ok := l.byOrderID[e.OrderID]
	if !ok {
		h, ok = l.cancels[e.CorrelationID]
	}

	if !ok {
		return Result{}, desync(ErrUnknownOrderID, e)
	}

	s, ok := l.lookup(h)
	if !ok || s.order.Status == StatusCompleted {
		return Result{}, desync(ErrUnknownOrderID, e)
	}

	l.complete(h)
	return Result{Outcome: OutcomeApplied, Handle: h, Side: s.order.Side, Completed: true}, nil
}

func (l *Ledger) onExecution(e Execution) (Result, error) {
	h, ok := l.byOrderID[e.OrderID]
	if !ok && e.CorrelationID != "" {
		h, ok = l.byCorrelation[e.CorrelationID]
	}

	if !ok {
		return l.onLateExecution(e)
	}

	s, _ := l.lookup(h)
	o := &s.order
	remaining := e.Remaining.Abs()
	delta := o.Amount.Sub(remaining)

	if delta.IsZero() {
		return Result{Outcome: OutcomeNoEffect, Handle: h, Side: o.Side}, nil
	}

	if delta.IsNegative() {
		return Result{}, desync(ErrNegativeAmountAfterExecution, e)
	}

	o.Amount = remaining
	res := Result{
		Outcome: OutcomeFilled,
		Handle:  h,
		Side:    o.Side,
		Delta:   delta,
		Price:   o.Price,
	}

	if !o.Amount.IsPositive() {
		l.complete(h)
		res.Completed = true
	}

	return res, nil
}

// onLateExecution absorbs a repeated report for an order that already
// completed, which the venue sends as both an order update and a reply.
func (l *Ledger) onLateExecution(e Execution) (Result, error) {
	h, ok := l.done[e.OrderID]
	if !ok && e.CorrelationID != "" {
		h, ok = l.done[e.CorrelationID]
	}

	if !ok {
		return Result{}, desync(ErrUnknownExecution, e)
	}

	s, ok := l.lookup(h)
	if !ok || s.order.Status != StatusCompleted || !s.order.Amount.Equal(e.Remaining.Abs()) {
		return Result{}, desync(ErrUnknownExecution, e)
	}

	return Result{Outcome: OutcomeNoEffect, Handle: h, Side: s.order.Side}, nil
}

func (l *Ledger) onError(e ErrorEvent) Result {
	res := Result{Outcome: OutcomeNoEffect, Class: e.Class}

	if h, ok := l.byCorrelation[e.CorrelationID]; ok {
		s, _ := l.lookup(h)
		o := &s.order
		res.Handle = h
		res.Side = o.Side
		res.Outcome = OutcomeRejected

		switch {
		case o.Status == StatusNew, e.Class == ErrorOrderNotFound:
			l.complete(h)
			res.Completed = true
		case o.Status == StatusReplacePending:
			delete(l.byCorrelation, e.CorrelationID)
			o.Status = StatusAcknowledged
		}

		return res
	}

	if h, ok := l.cancels[e.CorrelationID]; ok {
		l.dropCancel(h, e.CorrelationID)
		s, _ := l.lookup(h)
		res.Handle = h
		res.Side = s.order.Side
		res.Outcome = OutcomeRejected

		if e.Class == ErrorOrderNotFound && s.order.Status != StatusCompleted {
			l.complete(h)
			res.Completed = true
		}
	}

	return res
}

// onReconnect rolls back replaces in flight, which the venue never answers
// after a dropped session, and re-queues lost cancels.
func (l *Ledger) onReconnect() Result {
	res := Result{Outcome: OutcomeApplied}

	for i := range l.slots {
		s := &l.slots[i]
		o := &s.order
		h := Handle{idx: uint32(i), gen: s.gen}

		if o.Status == StatusReplacePending {
			delete(l.byCorrelation, o.CorrelationID)
			o.Status = StatusAcknowledged
			res.Reverted++
		}

		if len(s.cancels) > 0 && o.Status == StatusAcknowledged {
			for _, cid := range s.cancels {
				delete(l.cancels, cid)
			}
			s.cancels = s.cancels[:0]
			if err := l.CancelRequest(h); err != nil {
				logs.Warnf("requeue cancel for order %s after reconnect, err: %+v", o.OrderID, err)
			}
		}
	}

	return res
}

func (l *Ledger) dropCancel(h Handle, cid string) {
	delete(l.cancels, cid)

	s, ok := l.lookup(h)
	if !ok {
		return
	}

	for i, c := range s.cancels {
		if c == cid {
			s.cancels = append(s.cancels[:i], s.cancels[i+1:]...)
			return
		}
	}
}

// complete removes every index entry of the order and leaves a tombstone
// under its ids. The arena slot and the tombstone stay until Prune so late
// reports and callers holding the handle still resolve to the final state.
func (l *Ledger) complete(h Handle) {
	s, ok := l.lookup(h)
	if !ok {
		return
	}

	o := &s.order
	if cur, ok := l.byCorrelation[o.CorrelationID]; ok && cur == h {
		delete(l.byCorrelation, o.CorrelationID)
	}

	if cur, ok := l.byOrderID[o.OrderID]; ok && cur == h {
		delete(l.byOrderID, o.OrderID)
	}

	if o.OrderID != "" {
		l.done[o.OrderID] = h
	}

	if o.CorrelationID != "" {
		l.done[o.CorrelationID] = h
	}

	for _, cid := range s.cancels {
		delete(l.cancels, cid)
	}

	s.cancels = s.cancels[:0]
	o.Amount = decimal.Zero
	o.Status = StatusCompleted
}

// Get returns a copy of the order behind h.
func (l *Ledger) Get(h Handle) (Order, bool) {
	s, ok := l.lookup(h)
	if !ok {
		return Order{}, false
	}

	return s.order, true
}

// Live returns copies of every order that is not completed.
func (l *Ledger) Live() []Order {
	out := make([]Order, 0, len(l.byOrderID)+len(l.byCorrelation))
	for i := range l.slots {
		if l.slots[i].order.IsLive() {
			out = append(out, l.slots[i].order)
		}
	}

	return out
}

// Uncancelled returns handles of acknowledged orders with no cancel in
// flight, in arena order.
func (l *Ledger) Uncancelled() []Handle {
	var out []Handle
	for i := range l.slots {
		s := &l.slots[i]
		if s.order.Status == StatusAcknowledged && len(s.cancels) == 0 {
			out = append(out, Handle{idx: uint32(i), gen: s.gen})
		}
	}

	return out
}

// Prune releases arena slots and tombstones of completed orders and returns
// how many were freed. Handles to pruned orders stop resolving.
func (l *Ledger) Prune() int {
	for id, h := range l.done {
		if s, ok := l.lookup(h); !ok || s.order.Status == StatusCompleted {
			delete(l.done, id)
		}
	}

	n := 0
	for i := range l.slots {
		s := &l.slots[i]
		if s.order.Status != StatusCompleted {
			continue
		}

		s.gen++
		s.order = Order{}
		s.cancels = s.cancels[:0]
		l.free = append(l.free, uint32(i))
		n++
	}

	return n
}
