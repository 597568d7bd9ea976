package core

import "errors"

var (
	ErrUnsupportedPair = errors.New("trading pair not supported")
	ErrInvalidSide     = errors.New("order side must be buy or sell")
	ErrInvalidPrice    = errors.New("order price cannot be zero")
	ErrInvalidQuantity = errors.New("quantity cannot be zero")
	ErrInvalidAmount   = errors.New("amount cannot be zero")
)
