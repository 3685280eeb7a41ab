package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAccountClosed        = errors.New("account closed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrMalformedAmount      = errors.New("malformed amount")
	ErrVersionConflict      = errors.New("optimistic lock conflict")
	ErrInvalidEventSequence = errors.New("invalid event sequence")
)
