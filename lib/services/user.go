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

// User is the owning principal of profiles and accounts. A user record
// is created on first verification against the external identity
// service and never deleted.
type User struct {
	// ID is an opaque internal identifier
	ID string `json:"id"`
	// ExternalID is the id assigned by the external identity service
	ExternalID string `json:"external_id"`
	// Name is a display name
	Name string `json:"name"`
	// Email is the user's email address
	Email string `json:"email,omitempty"`
	// CreatedAt is the creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// Check validates the user record
func (u *User) Check() error {
	if u.ExternalID == "" {
		return trace.BadParameter("missing parameter ExternalID")
	}
	return nil
}

// MarshalUser marshals a user to JSON
func MarshalUser(u User) ([]byte, error) {
	if err := u.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// UnmarshalUser unmarshals a user from JSON
func UnmarshalUser(data []byte) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, trace.BadParameter("failed to unmarshal user: %v", err)
	}
	if err := u.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &u, nil
}
