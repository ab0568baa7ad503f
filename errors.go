package main

import (
	"errors"
	"fmt"
)

// ErrValidation is returned when required input is missing or blank.
var ErrValidation = errors.New("invalid input")

// ErrNotFound is returned when a confession is not found in the store.
var ErrNotFound = errors.New("confession not found")

// ErrInvalidReaction is returned for a reaction type outside love, sad and laugh.
var ErrInvalidReaction = errors.New("invalid reaction type")

// ErrDuplicateReaction is returned when the user already reacted to the confession.
var ErrDuplicateReaction = errors.New("user has already reacted")

// StorageError wraps a failure of the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the backend error.
func (e *StorageError) Unwrap() error { return e.Err }
