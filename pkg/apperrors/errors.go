package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrInfeasible        = errors.New("infeasible")
	ErrNoSolutionFound   = errors.New("no solution found")
	ErrValidationFailure = errors.New("validation failure")
	ErrConflict          = errors.New("conflict")
	ErrDatabase          = errors.New("database error")
)
