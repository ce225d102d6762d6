package services

import (
	"errors"
	"fmt"
)

// ValidationError: ein eingehender Grant-Datensatz ist unbrauchbar
// (Pflichtfeld fehlt). Wird pro Batch-Item lokal behandelt, nie eskaliert.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pflichtfeld fehlt: %s", e.Field)
}

// IsValidationError meldet, ob ein Fehler eine ValidationError ist.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ScorerError: Fehler der externen Matching-Engine. Retryable steuert,
// ob ein Workpackage erneut dispatcht wird.
type ScorerError struct {
	Retryable bool
	Err       error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("scorer: %v", e.Err)
}

func (e *ScorerError) Unwrap() error {
	return e.Err
}

// IsScorerRetryable meldet, ob ein Scorer-Fehler wiederholbar ist.
func IsScorerRetryable(err error) bool {
	var se *ScorerError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
