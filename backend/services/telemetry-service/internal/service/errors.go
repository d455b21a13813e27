package service

import "errors"

// Ingestion failures.
var (
	// ErrValidationRejected indicates a malformed reading or query; nothing was written.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrDurabilityFailure indicates the history append did not commit.
	ErrDurabilityFailure = errors.New("durability failure")
	// ErrDuplicateReading indicates a different reading already holds the same device and timestamp.
	ErrDuplicateReading = errors.New("duplicate reading")
)

// Query and registry failures. These are never retried.
var (
	ErrDeviceUnknown          = errors.New("device unknown")
	ErrNoDataInWindow         = errors.New("no data in window")
	ErrNoActiveMapping        = errors.New("no active mapping")
	ErrAmbiguousMapping       = errors.New("ambiguous mapping")
	ErrDivisionUndefined      = errors.New("division undefined")
	ErrDuplicateActiveMapping = errors.New("duplicate active mapping")
	ErrEdgeNotFound           = errors.New("edge not found")
)
