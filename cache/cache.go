// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Cache.Get when no entry exists for a key.
var ErrNotFound = errors.New("httpq/cache: entry not found")

// A Cache stores entries by cache key.
//
// Implementations must be safe for concurrent use. Initialize may
// block and is never called from the delivery goroutine.
type Cache interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put stores an entry, replacing any existing one.
	Put(ctx context.Context, key string, e *Entry) error
	// Initialize prepares the cache for use.
	Initialize(ctx context.Context) error
	// Invalidate expires the soft TTL of the entry for key, and the
	// hard TTL too if fullExpire is true. Invalidating a missing key
	// is not an error.
	Invalidate(ctx context.Context, key string, fullExpire bool) error
	// Remove deletes the entry for key.
	Remove(ctx context.Context, key string) error
	// Clear deletes every entry.
	Clear(ctx context.Context) error
}

// NoCache is a Cache which stores nothing.
type NoCache struct{}

// Get always returns ErrNotFound.
func (NoCache) Get(context.Context, string) (*Entry, error) { return nil, ErrNotFound }

// Put discards the entry.
func (NoCache) Put(context.Context, string, *Entry) error { return nil }

// Initialize does nothing.
func (NoCache) Initialize(context.Context) error { return nil }

// Invalidate does nothing.
func (NoCache) Invalidate(context.Context, string, bool) error { return nil }

// Remove does nothing.
func (NoCache) Remove(context.Context, string) error { return nil }

// Clear does nothing.
func (NoCache) Clear(context.Context) error { return nil }
