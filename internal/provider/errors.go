// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Classification categorizes a provider failure for retry and breaker
// decisions.
type Classification string

const (
	// ClassRateLimit is a 429-equivalent; transient.
	ClassRateLimit Classification = "rate_limit"
	// ClassTimeout is a deadline or network timeout; transient.
	ClassTimeout Classification = "timeout"
	// ClassOverloaded is a provider-reported overload; transient.
	ClassOverloaded Classification = "overloaded"
	// ClassServerError is a 5xx-equivalent; transient.
	ClassServerError Classification = "server_error"
	// ClassAuth is an authentication/authorization failure; permanent.
	ClassAuth Classification = "auth"
	// ClassBadRequest is a malformed or rejected request; permanent.
	ClassBadRequest Classification = "bad_request"
	// ClassUnknown is an unclassified failure; treated as permanent so the
	// chain moves on instead of retrying blindly.
	ClassUnknown Classification = "unknown"
)

// Error is the typed failure returned by provider callers.
type Error struct {
	// Model is the model id the call targeted.
	Model string
	// Class categorizes the failure.
	Class Classification
	// StatusCode is the HTTP status when applicable, 0 otherwise.
	StatusCode int
	// Message is the provider-reported detail.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider call to %s failed (%s, status %d): %s", e.Model, e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider call to %s failed (%s): %s", e.Model, e.Class, e.Message)
}

// Transient reports whether the failure is worth retrying in place.
func (e *Error) Transient() bool {
	switch e.Class {
	case ClassRateLimit, ClassTimeout, ClassOverloaded, ClassServerError:
		return true
	default:
		return false
	}
}

// NewError builds a typed provider error.
func NewError(model string, class Classification, statusCode int, message string) *Error {
	return &Error{Model: model, Class: class, StatusCode: statusCode, Message: message}
}

// Classify extracts the Classification from an arbitrary error. Typed errors
// are used directly; everything else is classified from the error text and
// context sentinels, defaulting to ClassUnknown.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "quota"):
		return ClassRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return ClassTimeout
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "503"):
		return ClassOverloaded
	case strings.Contains(msg, "5xx"), strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "504"), strings.Contains(msg, "server error"), strings.Contains(msg, "internal error"):
		return ClassServerError
	case strings.Contains(msg, "auth"), strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "api key"), strings.Contains(msg, "forbidden"):
		return ClassAuth
	case strings.Contains(msg, "400"), strings.Contains(msg, "bad request"), strings.Contains(msg, "invalid request"), strings.Contains(msg, "malformed"):
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}

// IsTransient reports whether an arbitrary error represents a transient
// provider condition.
func IsTransient(err error) bool {
	switch Classify(err) {
	case ClassRateLimit, ClassTimeout, ClassOverloaded, ClassServerError:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether an error should skip in-place retries and
// fast-trip the circuit breaker.
func IsPermanent(err error) bool {
	switch Classify(err) {
	case ClassAuth, ClassBadRequest:
		return true
	default:
		return false
	}
}
