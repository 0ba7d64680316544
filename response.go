// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"net/http"
	"time"

	"github.com/gogama/httpq/cache"
)

// A NetworkResponse is the normalized result of one network exchange.
// It is constructed once per exchange and not modified afterward.
type NetworkResponse struct {
	StatusCode int
	Data       []byte
	Header     http.Header
	// NotModified is true when the server answered 304. If the request
	// carried a cache entry, Data and Header hold the cached body merged
	// with the fresh headers.
	NotModified bool
	NetworkTime time.Duration
}

// A Response is the parsed outcome of a request: either a result with
// its cache entry, or an error. Never both.
type Response struct {
	Result     interface{}
	CacheEntry *cache.Entry
	Err        error
	// Intermediate marks a soft-expired cached value. A second,
	// authoritative delivery may follow for the same request.
	Intermediate bool
}

// Success returns a successful response. The cache entry may be nil
// when the response must not be cached.
func Success(result interface{}, entry *cache.Entry) *Response {
	return &Response{Result: result, CacheEntry: entry}
}

// Failure returns a failed response.
func Failure(err error) *Response {
	return &Response{Err: err}
}

// OK reports whether the response is a success.
func (r *Response) OK() bool {
	return r.Err == nil
}
