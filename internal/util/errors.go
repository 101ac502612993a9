// Package util provides shared error types for the outbound transport.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrPoolSaturated.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigError, RouteError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
)

// Common sentinel errors.
var (
	ErrPoolSaturated    = errors.New("connection pool saturated")
	ErrNoPoolAffinity   = errors.New("connection without a pool")
	ErrConnectionClosed = errors.New("connection closed")
	ErrConnectSuppress  = errors.New("connect suppressed by circuit breaker")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// RouteError represents an error tied to a specific outbound route.
type RouteError struct {
	Route   string
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("route %s: %s: %s: %v", e.Route, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("route %s: %s: %s", e.Route, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *RouteError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *RouteError) Is(target error) bool {
	if e.Cause == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}
