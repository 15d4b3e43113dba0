package checkout

import (
	"errors"
	"fmt"
)

// ValidationError is a request the shopper can fix. No side effects have happened.
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

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AvailabilityError names the first cart line that cannot be fulfilled.
type AvailabilityError struct {
	ItemID   string
	ItemName string
	Current  int
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("not enough availability for %s (available: %d)", e.ItemName, e.Current)
}

// ErrPersistence marks a failure to store an order after the gateway accepted it.
var ErrPersistence = errors.New("order persistence failed")
