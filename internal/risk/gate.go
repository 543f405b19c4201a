package risk

import (
	"github.com/yanun0323/logs"

	"marketmaker/internal/audit"
	"marketmaker/internal/order"
)

// State of the trading gate.
type State uint8

const (
	_state_beg State = iota
	StateNormal
	StateExitOnly
	StateCancelAll
	_state_end
)

func (s State) IsAvailable() bool {
	return s > _state_beg && s < _state_end
}

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateExitOnly:
		return "EXIT_ONLY"
	case StateCancelAll:
		return "CANCEL_ALL"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Canceller cancels every order it tracks.
type Canceller interface {
	CancelAll()
}

// Recorder receives important events.
type Recorder interface {
	Record(kind audit.Kind, details string)
}

// Gate decides whether new exposure may be requested.
type Gate struct {
	state     State
	canceller Canceller
	events    Recorder
}

// NewGate starts in NORMAL. A nil recorder discards events.
func NewGate(canceller Canceller, events Recorder) *Gate {
	return &Gate{
		state:     StateNormal,
		canceller: canceller,
		events:    events,
	}
}

func (g *Gate) State() State {
	return g.state
}

// TradingAllowed reports whether any order may be requested.
func (g *Gate) TradingAllowed() bool {
	return g.state == StateNormal
}

// ReducingAllowed reports whether orders reducing the position may be requested.
func (g *Gate) ReducingAllowed() bool {
	return g.state == StateNormal || g.state == StateExitOnly
}

func (g *Gate) SetNormal() {
	g.transit(StateNormal)
}

func (g *Gate) SetExitOnly() {
	g.transit(StateExitOnly)
}

// SetCancelAll stops trading and cancels every tracked order. Calling it again
// re-issues the cancels.
func (g *Gate) SetCancelAll() {
	g.transit(StateCancelAll)
	if g.canceller != nil {
		g.canceller.CancelAll()
	}
}

func (g *Gate) transit(next State) {
	if g.state == next {
		return
	}

	prev := g.state
	g.state = next
	logs.Warnf("risk state %s -> %s", prev, next)

	if g.events != nil {
		g.events.Record(audit.KindRM, prev.String()+" -> "+next.String())
	}
}

// Escalate applies the reaction for err returned by the order ledger. Desync
// errors stop trading; request-side errors are only logged.
func (g *Gate) Escalate(err error) {
	if err == nil {
		return
	}

	if order.IsDesync(err) {
		logs.Errorf("order ledger desync, err: %+v", err)
		if g.events != nil {
			g.events.Record(audit.KindDesync, err.Error())
		}
		g.SetCancelAll()
		return
	}

	logs.Warnf("order request rejected locally, err: %+v", err)
}

// OnOrderError reacts to a venue rejection.
func (g *Gate) OnOrderError(class order.ErrorClass) {
	switch class {
	case order.ErrorInsufficientFunds:
		if g.state == StateNormal {
			g.SetExitOnly()
		}
	case order.ErrorOrderNotFound:
	default:
		logs.Warnf("venue rejected order request, class: %s", class)
	}
}
