// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package cache holds the HTTP cache model used by httpq: the immutable
Entry, the Cache storage capability, and the freshness computation which
maps response headers to soft and hard expiry times.

An Entry has two expiry times. After the soft expiry (SoftTTL) the entry
should be revalidated but may still be served; after the hard expiry
(TTL) it must not be served at all. ParseCacheHeaders derives both from
Cache-Control, Expires and Date:

	e := cache.ParseCacheHeaders(resp.Header, body, time.Now())
	if e == nil {
		// no-cache or no-store: do not store
	}

Storage backends live in subpackages: memory (bounded LRU), dynamodb and
postgres. Persistent backends serialize entries with Marshal, which
compresses the encoded entry with snappy.
*/
package cache
