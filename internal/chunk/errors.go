package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a chunk or file name that cannot be used.
	ErrValidation = errors.New("invalid chunk name")

	// ErrNotFound is returned by Merge when nothing is staged for a name,
	// including a name that was already merged.
	ErrNotFound = errors.New("no staged chunks")

	// ErrMergeInProgress rejects a Put or Merge while the same name is busy.
	ErrMergeInProgress = errors.New("merge in progress")
)

// MergeError reports a failed merge. Chunk is set when a single chunk caused it.
type MergeError struct {
	Name  string
	Chunk string
	Err   error
}

func (e *MergeError) Error() string {
	if e.Chunk != "" {
		return fmt.Sprintf("merge %s: chunk %s: %v", e.Name, e.Chunk, e.Err)
	}
	return fmt.Sprintf("merge %s: %v", e.Name, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }
