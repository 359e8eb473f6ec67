package orchestrator

import (
	"errors"
	"fmt"
)

// ErrValidation marks uploads rejected before the pipeline runs
// (disallowed extension, empty or oversized body).
var ErrValidation = errors.New("validation failed")

// EncodeError reports a failed rendition encode.
type EncodeError struct {
	Rendition string
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Rendition, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
