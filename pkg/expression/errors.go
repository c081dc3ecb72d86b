package expression

import "errors"

var (
	// ErrInvalidExpression is returned by validating callers for tags outside the enumeration.
	ErrInvalidExpression = errors.New("expression: invalid expression")

	// ErrSequenceRunning is returned when starting a sequencer twice.
	ErrSequenceRunning = errors.New("expression: sequence already started")
)
