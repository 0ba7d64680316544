// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"errors"

	"github.com/gogama/httpq/transient"
)

// A Decider decides whether a failed attempt is routed through the
// request's retry Policy. Failures the Decider rejects are surfaced to
// the caller on their first occurrence.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
type Decider interface {
	Decide(err error) bool
}

// The DeciderFunc type is an adapter to allow the use of ordinary
// functions as retry deciders. Every DeciderFunc is also a Decider.
//
// Note that DeciderFunc has convenience methods And and Or, which
// can be used to compose retry logic.
type DeciderFunc func(err error) bool

// DefaultDecider routes attempt timeouts and authentication failures
// (HTTP 401 and 403) through the retry policy.
var DefaultDecider = TimeoutErr.Or(StatusCode(401, 403))

// TimeoutErr is a decider that returns true if the error is an attempt
// timeout.
var TimeoutErr DeciderFunc = timeoutErr

// TransientErr is a decider that returns true if the error is a
// transient transport error, as categorized by transient.Categorize.
var TransientErr DeciderFunc = transientErr

// Decide returns true if a failed attempt is routed through the retry
// policy, and false otherwise.
func (f DeciderFunc) Decide(err error) bool {
	return f(err)
}

// And composes two retry deciders into a new decider which returns
// true if both sub-deciders return true, and false otherwise.
//
// And short-circuits: if f returns false, g is never evaluated.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(err error) bool {
		return f(err) && g(err)
	}
}

// Or composes two retry deciders into a new decider which returns true
// if either of the two sub-deciders returns true, but false if they
// both return false.
//
// Or short-circuits: if f returns true, g is never evaluated.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(err error) bool {
		return f(err) || g(err)
	}
}

// StatusCode constructs a retry decider allowing retry if the failure
// carries an HTTP response whose status code matches any of the given
// status codes. The failure exposes its status code through a
// StatusCode() int method.
func StatusCode(ss ...int) DeciderFunc {
	ss2 := make([]int, len(ss))
	copy(ss2, ss)
	return func(err error) bool {
		var sc statusCoder
		if !errors.As(err, &sc) {
			return false
		}
		code := sc.StatusCode()
		for _, s := range ss2 {
			if code == s {
				return true
			}
		}
		return false
	}
}

func timeoutErr(err error) bool {
	return transient.Categorize(err) == transient.Timeout
}

func transientErr(err error) bool {
	return transient.Categorize(err).Transient()
}

type statusCoder interface {
	StatusCode() int
}
