package exception

import "github.com/yanun0323/errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilInstance     = errors.New("nil instance")
	ErrConnectionClose = errors.New("connection closed")
)
