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

package services

import (
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
)

// RateLimit is the per-account fetch governance state driving the
// circuit breaker decisions of the sync engine.
type RateLimit struct {
	// AccountID is the governed account
	AccountID string `json:"account_id"`
	// Remaining is the quota left in the current window, when the
	// upstream reported one
	Remaining *int `json:"remaining,omitempty"`
	// ResetAt is when the quota window refills, when known
	ResetAt *time.Time `json:"reset_at,omitempty"`
	// ConsecutiveFailures counts fetch failures with no intervening
	// success
	ConsecutiveFailures int `json:"consecutive_failures"`
	// LastFailureAt is the time of the last fetch failure
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	// CircuitOpenUntil suppresses fetches until this deadline when set
	CircuitOpenUntil *time.Time `json:"circuit_open_until,omitempty"`
}

// Check validates the rate limit record
func (r *RateLimit) Check() error {
	if r.AccountID == "" {
		return trace.BadParameter("missing parameter AccountID")
	}
	return nil
}

// MarshalRateLimit marshals rate limit state to JSON
func MarshalRateLimit(r RateLimit) ([]byte, error) {
	if err := r.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// UnmarshalRateLimit unmarshals rate limit state from JSON
func UnmarshalRateLimit(data []byte) (*RateLimit, error) {
	var r RateLimit
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, trace.BadParameter("failed to unmarshal rate limit: %v", err)
	}
	if err := r.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &r, nil
}
