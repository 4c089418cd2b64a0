package model

import "errors"

// Sentinel errors for the reconciliation core. Callers wrap them with eris
// for stack context and test with errors.Is.
var (
	// ErrUnknownParameter rejects writes referencing a parameter outside the
	// controlled vocabulary. Overrides never silently create parameters.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrUnitMismatch fails a comparison whose units differ from the
	// parameter's canonical unit. No conversion is guessed.
	ErrUnitMismatch = errors.New("unit mismatch")

	// ErrUnresolvedSpec means the classifier had no value to compare against.
	// Surfaced distinctly from Not Repairable.
	ErrUnresolvedSpec = errors.New("unresolved spec")

	// ErrEmptyVariantSet is a contract violation: resolve must never be
	// called for a parameter with zero variants and no override.
	ErrEmptyVariantSet = errors.New("empty variant set")
)
