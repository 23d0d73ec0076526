// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the operation collides with work already in progress.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates invalid input or an inconsistent input table.
var ErrValidation = errors.New("validation error")

// ErrConfig indicates missing or unusable configuration (credentials, sync positions).
var ErrConfig = errors.New("configuration error")

// ErrCancelled indicates a run stopped because an operator requested it.
var ErrCancelled = errors.New("sync cancelled")

// ErrUnsafeEnvironment indicates a safety predicate detected production.
var ErrUnsafeEnvironment = errors.New("refusing to run against production")
