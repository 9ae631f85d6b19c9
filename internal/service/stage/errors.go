package stage

import "errors"

// Validation failures. All surface to the caller before any store mutation.
var (
	ErrMissingBatchID   = errors.New("batch id is required")
	ErrMissingActor     = errors.New("changed_by is required")
	ErrUnknownStage     = errors.New("unknown stage")
	ErrNegativeQuantity = errors.New("quantity must not be negative")
	ErrMissingFarmer    = errors.New("farmer id is required")
	ErrMissingProduct   = errors.New("product is required")
)

// ErrIllegalTransition marks a backward stage move. Wrapped errors name the
// offending current -> requested pair.
var ErrIllegalTransition = errors.New("illegal stage transition")

// ErrBatchNotFound is returned when the batch is absent or soft-deleted.
var ErrBatchNotFound = errors.New("batch not found")

// ErrStageConflict is returned when a concurrent update to the same batch
// won the race; the caller may re-read and retry.
var ErrStageConflict = errors.New("batch was updated concurrently")

// IsValidationError reports whether err belongs to the validation family,
// letting transport layers map it uniformly.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingBatchID) ||
		errors.Is(err, ErrMissingActor) ||
		errors.Is(err, ErrUnknownStage) ||
		errors.Is(err, ErrNegativeQuantity) ||
		errors.Is(err, ErrMissingFarmer) ||
		errors.Is(err, ErrMissingProduct) ||
		errors.Is(err, ErrIllegalTransition)
}
