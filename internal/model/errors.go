package model

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobConflict       = errors.New("job already finalized")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrOwnerMismatch     = errors.New("owner does not match authenticated user")
)

// ValidationError reports a request that cannot become a job
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
