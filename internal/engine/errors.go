package engine

import "errors"

var (
	// ErrMissingWorkspace is returned when a cadence has no owning workspace
	ErrMissingWorkspace = errors.New("cadence workspace is required")

	// ErrMissingName is returned when a cadence has no name
	ErrMissingName = errors.New("cadence name is required")

	// ErrMissingCreator is returned when a cadence has no creator identity
	ErrMissingCreator = errors.New("cadence creator is required")

	// ErrMissingForm is returned when a cadence targets no form
	ErrMissingForm = errors.New("cadence form is required")
)
