package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrAlreadyStarted = errors.New("dispatcher already started")
	ErrStopped        = errors.New("dispatcher stopped")
)

// ValidationError is returned by Submit for malformed requests. No job record
// exists when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
