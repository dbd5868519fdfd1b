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

// Package httplib implements common utility functions for writing
// classic HTTP handlers
package httplib

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// HandlerFunc specifies HTTP handler function that returns error
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// MakeHandler returns a new httprouter.Handle func from a handler func
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		roundtrip.ReplyJSON(w, http.StatusOK, out)
	}
}

// ReadJSON reads HTTP json request and unmarshals it
// into passed interface{} obj
func ReadJSON(r *http.Request, val interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, &val); err != nil {
		return trace.BadParameter("failed to parse request body: %v", err)
	}
	return nil
}

// ErrorResponse is the JSON error body of every failed request.
type ErrorResponse struct {
	// Error is a short machine-readable error name
	Error string `json:"error"`
	// Message is a human-readable description
	Message string `json:"message"`
	// Details carries optional structured context
	Details map[string]interface{} `json:"details,omitempty"`
}

// ReplyError sets up http error response and writes it to writer w
func ReplyError(w http.ResponseWriter, err error) {
	var status int
	var name string
	switch {
	case trace.IsNotFound(err):
		status, name = http.StatusNotFound, "not_found"
	case trace.IsBadParameter(err):
		status, name = http.StatusBadRequest, "bad_request"
	case trace.IsAccessDenied(err):
		status, name = http.StatusForbidden, "access_denied"
	case trace.IsAlreadyExists(err):
		status, name = http.StatusConflict, "already_exists"
	case trace.IsLimitExceeded(err):
		status, name = http.StatusTooManyRequests, "limit_exceeded"
	default:
		status, name = http.StatusInternalServerError, "internal_error"
	}
	roundtrip.ReplyJSON(w, status, ErrorResponse{
		Error:   name,
		Message: trace.UserMessage(err),
	})
}

// SetCORSHeaders answers preflight checks for the given origin. The
// caller decides whether the origin is allowed.
func SetCORSHeaders(w http.ResponseWriter, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Origin, Content-Type, Authorization, Auth-Token")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Max-Age", "1728000")
}
