// Package apperr holds the error taxonomy shared by the catalog, sync and pricing code.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrTransient       = errors.New("transient storage failure")
)
