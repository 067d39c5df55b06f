package amount

import "errors"

// Amount-related errors.
var (
	// ErrInvalidAmount is returned for malformed, non-positive, or
	// over-precise input. Input is rejected, never silently rounded.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPrecisionLoss is returned when a conversion to micro-units would
	// not round-trip exactly. This indicates a bug, not bad user input.
	ErrPrecisionLoss = errors.New("precision loss in micro-unit conversion")

	// ErrNegativeResult is returned when a subtraction would produce a
	// negative amount.
	ErrNegativeResult = errors.New("negative amount result")

	// ErrOverflow is returned when an arithmetic result leaves the
	// representable micro-unit range. Like ErrPrecisionLoss, this
	// indicates a bug, not bad user input.
	ErrOverflow = errors.New("amount overflows micro-unit range")
)
