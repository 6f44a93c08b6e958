// Package apperr holds the error taxonomy shared by the store, the index and
// the HTTP layer.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrValidation       = errors.New("validation failed")
	ErrIndexUnavailable = errors.New("search index unavailable")
	ErrSchemaMissing    = errors.New("search schema missing")
)
