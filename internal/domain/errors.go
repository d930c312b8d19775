package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface lets the routing layer translate structural
// failures without a type switch per error.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound    = errors.New("not found")
	ErrBrokenChain = errors.New("broken parent chain")
	ErrCycle       = errors.New("cycle detected")
	ErrDuplicate   = errors.New("duplicate event id")
	ErrValidation  = errors.New("validation failed")
)

// NotFoundError indicates a target tree or node is absent.
type NotFoundError struct {
	Kind string // "tree" or "node"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Kind, e.ID)
}

func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// BrokenChainError indicates a node references a parent id that does not
// exist in the materialized set. This is a structural-integrity failure
// detected at read time, never repaired silently.
type BrokenChainError struct {
	NodeID   string
	ParentID string
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("node %s references missing parent %s", e.NodeID, e.ParentID)
}

func (e *BrokenChainError) StatusCode() int { return http.StatusConflict }

func (e *BrokenChainError) Is(target error) bool { return target == ErrBrokenChain }

// CycleError indicates the parent graph revisited a node during a path walk.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected at node %s", e.NodeID)
}

func (e *CycleError) StatusCode() int { return http.StatusConflict }

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// DuplicateEventError indicates an append collided on event id. This is the
// store's only concurrency guard: a retried write surfaces here and the
// caller treats it as a no-op.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event %s: already appended", e.EventID)
}

func (e *DuplicateEventError) StatusCode() int { return http.StatusConflict }

func (e *DuplicateEventError) Is(target error) bool { return target == ErrDuplicate }

// ValidationError indicates invalid caller input (bad payload, bad request).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
