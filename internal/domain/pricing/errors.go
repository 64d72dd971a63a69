package pricing

import "errors"

var (
	ErrNoActiveVersion = errors.New("no pricing version published")
	ErrNoRateForType   = errors.New("no rate for submission type")
	ErrInvalidRates    = errors.New("rates must be non-negative and cover every submission type")
	ErrInvalidExchange = errors.New("exchange rate must be positive")
)
