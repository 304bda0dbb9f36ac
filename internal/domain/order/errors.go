package order

import "errors"

var (
	ErrOrderNotFound        = errors.New("medical order not found")
	ErrSessionsExhausted    = errors.New("medical order has no sessions remaining")
	ErrNoActiveOrder        = errors.New("patient has no active medical order")
	ErrInvalidTotalSessions = errors.New("total sessions must be a positive integer")
	ErrOrderCompleted       = errors.New("medical order is already completed")
)
