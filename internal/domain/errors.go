package domain

import "errors"

var (
	ErrClientNotFound     = errors.New("client not found")
	ErrIdentityRequired   = errors.New("client name required")
	ErrInvalidProfitDelta = errors.New("invalid cumulativeProfit value")
	ErrInvalidTarget      = errors.New("invalid targetProfit value")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrConnectionUnbound  = errors.New("connection has no registered client")
)

// IsValidation reports whether err was caused by malformed input rather than state or storage.
func IsValidation(err error) bool {
	return errors.Is(err, ErrIdentityRequired) ||
		errors.Is(err, ErrInvalidProfitDelta) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrUnknownCommand)
}
