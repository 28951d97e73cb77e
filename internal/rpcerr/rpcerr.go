// Package rpcerr carries the distinction between a caller's bad input and
// an internal failure across package boundaries, so the RPC dispatcher can
// map errors to JSON-RPC codes without every collaborator importing it.
package rpcerr

import (
	"errors"
	"fmt"
)

// sentinel is wrapped by every InvalidParams error so callers can recognize
// the class with errors.Is without depending on this package's types.
var sentinel = errors.New("invalid params")

// InvalidParams formats a message and wraps it so IsInvalidParams reports
// true for it and for anything wrapping it.
func InvalidParams(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// IsInvalidParams reports whether err (or anything it wraps) was produced
// by InvalidParams.
func IsInvalidParams(err error) bool {
	return errors.Is(err, sentinel)
}
