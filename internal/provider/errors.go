// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes generation failures.
type Kind int

const (
	// KindConfiguration means the adapter was not usable: unknown model,
	// missing key or no Configure call. No request was sent.
	KindConfiguration Kind = iota + 1

	// KindNetwork means the request could not be completed: DNS, connect,
	// timeout, cancellation or an unreadable response.
	KindNetwork

	// KindProvider means the provider answered with an error.
	KindProvider
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNetwork:
		return "network"
	case KindProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Sentinel errors, reachable through errors.Is on an *Error.
var (
	ErrNotConfigured       = errors.New("provider not configured")
	ErrUnknownModel        = errors.New("unknown model")
	ErrMissingKey          = errors.New("API key not set")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrModelNotFound       = errors.New("model not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrTimeout             = errors.New("request timed out")
	ErrResponseTooLarge    = errors.New("response too large")
	ErrEmptyResponse       = errors.New("empty response")
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a categorized generation failure.
type Error struct {
	Kind Kind

	// Message is shown to the user. For provider errors it is the
	// provider's own message, unmodified.
	Message string

	// Code is the provider's error code or type, when given.
	Code string

	// Status is the HTTP status, zero when no response was received.
	Status int

	// Cause is the underlying error or sentinel.
	Cause error
}

// Error implements the error interface and returns Message when present.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String() + " error"
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Detail returns a diagnostic string including kind, code and status.
func (e *Error) Detail() string {
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Kind, e.Code, e.Status, e.Error())
	case e.Status != 0:
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.Status, e.Error())
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Error())
	}
}

func configError(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func networkError(cause error, message string) *Error {
	return &Error{Kind: KindNetwork, Message: message, Cause: cause}
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}
