// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"strconv"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrCircuitOpen indicates the backend circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("llm circuit breaker open")

	// ErrRetriesExhausted indicates a sampling call kept failing with
	// transient errors until the retry policy gave up.
	ErrRetriesExhausted = errors.New("llm retries exhausted")

	// ErrEmptyMessages indicates a sample request carried no messages.
	ErrEmptyMessages = errors.New("messages must not be empty")

	// ErrMissingAPIKey indicates no API key was configured for a backend
	// that requires one.
	ErrMissingAPIKey = errors.New("api key not configured")

	// ErrMissingBaseURL indicates no base URL was configured for a backend
	// that requires one.
	ErrMissingBaseURL = errors.New("base url not configured")

	// ErrNilBackend indicates a Client was built without a backend.
	ErrNilBackend = errors.New("backend must not be nil")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// TransientError marks a backend failure that may succeed on retry
// (rate limiting, timeouts, server errors, dropped connections).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetriesExhaustedError is returned when every attempt of a call failed with
// a transient error.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return "llm retries exhausted after " + strconv.Itoa(e.Attempts) + " attempts: " + e.Err.Error()
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// StatusError is a non-2xx response from an HTTP backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	switch {
	case code == 408, code == 409, code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
