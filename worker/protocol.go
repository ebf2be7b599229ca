/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package worker runs package builds and dev servers in long-lived child
// processes.
//
// A worker speaks newline-delimited JSON over stdin and stdout: requests
// carry an ID and get exactly one response with the same ID, and events are
// fire-and-forget notifications from the worker. The same protocol runs over
// in-memory pipes in tests.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned by a second initialize call.
	ErrAlreadyInitialized = errors.New("worker already initialized")
	// ErrNotInitialized is returned by calls made before initialize.
	ErrNotInitialized = errors.New("worker not initialized")
	// ErrWorkerCrashed is returned for calls to a worker that exited.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrUnknownMethod is returned for methods the handler does not serve.
	ErrUnknownMethod = errors.New("unknown method")
)

// Kind is the worker flavor spawned by the parent.
type Kind string

const (
	KindCompile Kind = "compile"
	KindServer  Kind = "server"
)

// Message types.
const (
	typeRequest  = "request"
	typeResponse = "response"
	typeEvent    = "event"
)

// Event names.
const (
	EventServerReady = "serverReady"
	EventError       = "error"
	EventLog         = "log"
)

// Message is one line on the wire.
type Message struct {
	ID     uint64          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Event is a notification from a worker.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// WireError carries an error across the process boundary. Code maps back
// to the package's sentinel errors.
type WireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return e.Message
}

var sentinels = map[string]error{
	"already_initialized": ErrAlreadyInitialized,
	"not_initialized":     ErrNotInitialized,
	"unknown_method":      ErrUnknownMethod,
}

func (e *WireError) Unwrap() error {
	return sentinels[e.Code]
}

func toWireError(err error) *WireError {
	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return &WireError{Code: code, Message: err.Error()}
		}
	}
	return &WireError{Message: err.Error()}
}

// CrashError reports a worker that exited while calls were outstanding.
type CrashError struct {
	Cause error
}

func (e *CrashError) Error() string {
	if e.Cause == nil {
		return ErrWorkerCrashed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrWorkerCrashed, e.Cause)
}

func (e *CrashError) Is(target error) bool {
	return target == ErrWorkerCrashed
}

func (e *CrashError) Unwrap() error {
	return e.Cause
}
