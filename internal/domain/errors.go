// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists or was modified concurrently.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates malformed input. Wrap it with the field detail:
//
//	fmt.Errorf("%w: text is required", domain.ErrValidation)
var ErrValidation = errors.New("validation failed")
