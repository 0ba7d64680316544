// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// A Kind classifies a request failure.
type Kind int

const (
	// KindGeneric is a failure with no more specific classification,
	// including panics recovered while processing a request.
	KindGeneric Kind = iota
	// KindAuthFailure is a 401 or 403 response. It may carry a
	// Resolution which re-authenticates the caller.
	KindAuthFailure
	// KindNetwork is a transport-level failure, such as a refused
	// connection or a body which could not be read.
	KindNetwork
	// KindNoConnection means there was no connectivity at all.
	KindNoConnection
	// KindTimeout means an attempt exceeded its deadline.
	KindTimeout
	// KindServer is a non-2xx response other than 401 and 403. The
	// response is carried for inspection.
	KindServer
	// KindParse means the response body could not be decoded.
	KindParse
)

var kindNames = []string{
	"generic failure",
	"auth failure",
	"network failure",
	"no connection",
	"timeout",
	"server failure",
	"parse failure",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is the failure delivered to a request's error listener.
type Error struct {
	Kind Kind
	// Response is the network response which caused the failure, if
	// any.
	Response *NetworkResponse
	// NetworkTime is the time spent on the network before the failure
	// was detected.
	NetworkTime time.Duration
	// Resolution optionally resolves an auth failure, for example by
	// refreshing credentials, so the request can be retried.
	Resolution func(context.Context) error
	// Err is the underlying cause, if any.
	Err error
}

// Sentinel errors for matching failure kinds with errors.Is.
var (
	ErrGeneric      = &Error{Kind: KindGeneric}
	ErrAuthFailure  = &Error{Kind: KindAuthFailure}
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrNoConnection = &Error{Kind: KindNoConnection}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrServer       = &Error{Kind: KindServer}
	ErrParse        = &Error{Kind: KindParse}
)

func (e *Error) Error() string {
	msg := "httpq: " + e.Kind.String()
	if e.Response != nil {
		msg += fmt.Sprintf(" (status %d)", e.Response.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Timeout reports whether the failure is an attempt timeout.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// StatusCode returns the status code of the response which caused the
// failure, or zero if there was no response.
func (e *Error) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// asError returns err as an *Error, wrapping anything else as a
// generic failure.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindGeneric, Err: err}
}
