package curation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("mapping not found")
	ErrNotReady          = errors.New("curation index not initialized")
	ErrRebuildInProgress = errors.New("rebuild already in progress")
	ErrLocked            = errors.New("mapping key is locked")
)

// ValidationError carries every problem found in a submitted batch.
type ValidationError struct {
	Problems []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Problems, "; "))
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// MissingError lists entity ids that do not exist.
type MissingError struct {
	IDs []int64
}

func (e MissingError) Error() string {
	return fmt.Sprintf("entities not found: %v", e.IDs)
}

func (e MissingError) Unwrap() error {
	return ErrNotFound
}
