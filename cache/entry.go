// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"net/http"
	"time"
)

// An Entry is a cached response. Entries are immutable once
// constructed: neither the Entry nor the Data and Header it references
// may be modified. Use Invalidated or construct a new Entry instead.
type Entry struct {
	// Data is the response body.
	Data []byte
	// ETag is the entity tag used for cache coherency.
	ETag string
	// ServerDate is the date of the response as reported by the server.
	ServerDate time.Time
	// LastModified is the last modified date of the requested object.
	LastModified time.Time
	// TTL is the hard expiry time.
	TTL time.Time
	// SoftTTL is the soft expiry time. SoftTTL never comes after TTL.
	SoftTTL time.Time
	// Header is a snapshot of the response headers.
	Header http.Header
}

// IsExpired reports whether the entry is past its hard expiry.
func (e *Entry) IsExpired() bool {
	return e.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether now is after the hard expiry.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return now.After(e.TTL)
}

// RefreshNeeded reports whether the entry is past its soft expiry.
func (e *Entry) RefreshNeeded() bool {
	return e.RefreshNeededAt(time.Now())
}

// RefreshNeededAt reports whether now is after the soft expiry.
func (e *Entry) RefreshNeededAt(now time.Time) bool {
	return now.After(e.SoftTTL)
}

// Invalidated returns a copy of e whose soft expiry has passed, so it
// is revalidated before its next use. If fullExpire is true the hard
// expiry has passed as well.
func (e *Entry) Invalidated(fullExpire bool) *Entry {
	e2 := *e
	e2.SoftTTL = time.Time{}
	if fullExpire {
		e2.TTL = time.Time{}
	}
	return &e2
}
