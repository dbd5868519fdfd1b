/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package providers

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// fetch error kinds, a closed set
const (
	kindAPIError    = "api_error"
	kindBadRequest  = "bad_request"
	kindNetwork     = "network_error"
	kindRateLimited = "rate_limited"
	kindAuthExpired = "auth_expired"
	kindParseError  = "parse_error"
)

// FetchError is a categorized provider failure. The kind drives how
// the account processor reacts: rate limiting feeds the breaker state,
// auth expiry triggers a token refresh, everything else is recorded as
// a plain failure.
type FetchError struct {
	// Kind is one of the closed error kinds
	Kind string `json:"kind"`
	// Status is the HTTP status for api errors
	Status int `json:"status,omitempty"`
	// Message is a human readable description
	Message string `json:"message,omitempty"`
	// RetryAfter is the upstream-mandated backoff for rate limiting
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Cause is the underlying error for network failures
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *FetchError) Error() string {
	switch e.Kind {
	case kindAPIError:
		return fmt.Sprintf("api error %v: %v", e.Status, e.Message)
	case kindNetwork:
		return fmt.Sprintf("network error: %v", e.Cause)
	case kindRateLimited:
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	default:
		return fmt.Sprintf("%v: %v", e.Kind, e.Message)
	}
}

// Unwrap returns the underlying cause, when there is one
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// APIError returns an upstream API failure
func APIError(status int, message string) error {
	return &FetchError{Kind: kindAPIError, Status: status, Message: message}
}

// BadRequest returns a malformed-request failure
func BadRequest(message string) error {
	return &FetchError{Kind: kindBadRequest, Message: message}
}

// NetworkError returns a transport level failure
func NetworkError(cause error) error {
	return &FetchError{Kind: kindNetwork, Cause: cause}
}

// RateLimited returns an upstream rate limit rejection
func RateLimited(retryAfter time.Duration) error {
	return &FetchError{Kind: kindRateLimited, RetryAfter: retryAfter}
}

// AuthExpired returns an authentication failure
func AuthExpired(message string) error {
	return &FetchError{Kind: kindAuthExpired, Message: message}
}

// ParseError returns an upstream schema mismatch failure
func ParseError(message string) error {
	return &FetchError{Kind: kindParseError, Message: message}
}

// FromStatus maps an HTTP response status to the error taxonomy:
// 401/403 to auth expiry, 429 to rate limiting honoring retryAfter,
// remaining 4xx and all 5xx to api errors.
func FromStatus(status int, message string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthExpired(message)
	case status == http.StatusTooManyRequests:
		return RateLimited(retryAfter)
	default:
		return APIError(status, message)
	}
}

func kindOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsAuthExpired reports whether err is an auth expiry failure
func IsAuthExpired(err error) bool {
	return kindOf(err) == kindAuthExpired
}

// IsRateLimited reports whether err is a rate limit rejection
func IsRateLimited(err error) bool {
	return kindOf(err) == kindRateLimited
}

// IsNetworkError reports whether err is a transport failure
func IsNetworkError(err error) bool {
	return kindOf(err) == kindNetwork
}

// IsParseError reports whether err is an upstream schema mismatch
func IsParseError(err error) bool {
	return kindOf(err) == kindParseError
}

// RetryAfter returns the upstream-mandated backoff of a rate limit
// rejection, zero for any other error
func RetryAfter(err error) time.Duration {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == kindRateLimited {
		return fe.RetryAfter
	}
	return 0
}
