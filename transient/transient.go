// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"net"
	"syscall"
)

// A Category is the category of a transport error, as reported by
// function Categorize().
//
// Categories Timeout, ConnRefused and ConnReset are transient: a retry
// after encountering the error has some prospect of success. Category
// Unreachable means the client has no route to the server at all, and
// Not covers every other error.
type Category int

const (
	// Not indicates an error which fits no other category.
	Not Category = iota
	// Timeout indicates a client-side timeout. The server may be going
	// through a temporary period of slowness, or the client may succeed
	// on a future attempt with a longer timeout.
	//
	// Categorize() returns Timeout if the error or any of its wrapped
	// causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection
	// (POSIX ECONNREFUSED). It is considered transient because the
	// remote service may be restarting.
	ConnRefused
	// ConnReset indicates the remote host reset a previously active
	// TCP connection (POSIX ECONNRESET).
	ConnReset
	// Unreachable indicates that there is no connectivity to the remote
	// host: the name does not resolve, or the network or host is
	// unreachable or down.
	Unreachable
)

var categoryNames = []string{
	"Not",
	"Timeout",
	"ConnRefused",
	"ConnReset",
	"Unreachable",
}

// String returns the name of the category.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "Unknown"
	}
	return categoryNames[c]
}

// Transient reports whether a retry after an error in category c has
// some prospect of success.
func (c Category) Transient() bool {
	return c == Timeout || c == ConnRefused || c == ConnReset
}

// Categorize returns the category of the given error. A nil error
// produces Not.
//
// Categorize looks at wrapped causes contained within err, not just err
// itself. It never checks Temporary(), as the semantics of Temporary()
// aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return ConnReset
		case syscall.ECONNREFUSED:
			return ConnRefused
		case syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.ENETDOWN:
			return Unreachable
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return Unreachable
	}

	return Not
}

type hasTimeout interface {
	Timeout() bool
}
