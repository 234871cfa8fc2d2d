package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyVisitHistory rejects a generation before any side effect.
var ErrEmptyVisitHistory = errors.New("visit history is empty")

// ErrQuotaExceeded is returned when the daily generation budget is
// spent. Callers surface NextAvailableAt and must not auto-retry.
type ErrQuotaExceeded struct {
	NextAvailableAt *time.Time
}

func (e *ErrQuotaExceeded) Error() string {
	if e.NextAvailableAt != nil {
		return fmt.Sprintf("daily analysis limit reached, next available at %s", e.NextAvailableAt.Format(time.RFC3339))
	}
	return "daily analysis limit reached"
}

func IsQuotaExceeded(err error) bool {
	var qe *ErrQuotaExceeded
	return errors.As(err, &qe)
}
