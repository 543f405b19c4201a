package audit

import "time"

// Kind of important event.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindReconnect
	KindRM
	KindOrderError
	KindGap
	KindDesync
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

func (k Kind) String() string {
	switch k {
	case KindReconnect:
		return "Reconnect"
	case KindRM:
		return "RM"
	case KindOrderError:
		return "OrderError"
	case KindGap:
		return "Gap"
	case KindDesync:
		return "Desync"
	default:
		return "Unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is an operator-facing record of something that changed how the
// engine trades.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Details string    `json:"details"`
}
