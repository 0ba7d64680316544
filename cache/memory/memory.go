// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package memory provides a bounded in-memory cache.Cache which evicts
// the least recently used entry when full.
package memory

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogama/httpq/cache"
)

// DefaultSize is the entry capacity used when New is given a
// non-positive size.
const DefaultSize = 1024

// Cache is an LRU cache.Cache held in process memory.
type Cache struct {
	entries *lru.Cache[string, *cache.Entry]
}

// New returns a cache holding at most size entries.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *cache.Entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Get returns the entry for key.
func (c *Cache) Get(_ context.Context, key string) (*cache.Entry, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, cache.ErrNotFound
	}
	return e, nil
}

// Put stores e under key.
func (c *Cache) Put(_ context.Context, key string, e *cache.Entry) error {
	if e == nil {
		return errors.New("httpq/cache/memory: nil entry")
	}
	c.entries.Add(key, e)
	return nil
}

// Initialize does nothing; the cache is ready when constructed.
func (c *Cache) Initialize(context.Context) error {
	return nil
}

// Invalidate replaces the entry for key with an invalidated copy.
func (c *Cache) Invalidate(_ context.Context, key string, fullExpire bool) error {
	if e, ok := c.entries.Peek(key); ok {
		c.entries.Add(key, e.Invalidated(fullExpire))
	}
	return nil
}

// Remove deletes the entry for key.
func (c *Cache) Remove(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Clear deletes every entry.
func (c *Cache) Clear(context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
