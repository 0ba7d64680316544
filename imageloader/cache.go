// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package imageloader

import (
	"image"

	"github.com/dgraph-io/ristretto"
)

// An ImageCache holds decoded images by cache key. It is consulted
// synchronously by Loader.Get, so lookups should be fast.
type ImageCache interface {
	// Image returns the image for key, or nil.
	Image(key string) image.Image
	// PutImage stores img under key.
	PutImage(key string, img image.Image)
}

// DefaultCacheBytes is the capacity used when NewRistrettoCache is given
// a non-positive size.
const DefaultCacheBytes = 32 << 20

// Typical decoded image footprint, used to size the admission counters.
const typicalImageBytes = 64 * 64 * 4

// RistrettoCache is an ImageCache bounded by the decoded size of its
// images.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewRistrettoCache returns a cache holding roughly maxBytes of decoded
// pixels.
func NewRistrettoCache(maxBytes int64) (*RistrettoCache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	counters := maxBytes / typicalImageBytes * 10
	if counters < 100 {
		counters = 100
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        counters,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{cache: c}, nil
}

// Image returns the cached image for key, or nil.
func (c *RistrettoCache) Image(key string) image.Image {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil
	}
	img, _ := v.(image.Image)
	return img
}

// PutImage stores img at a cost of four bytes per pixel. The store is
// asynchronous and may be dropped under contention.
func (c *RistrettoCache) PutImage(key string, img image.Image) {
	if img == nil {
		return
	}
	c.cache.Set(key, img, cost(img))
}

// Wait blocks until buffered writes are applied.
func (c *RistrettoCache) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}

func cost(img image.Image) int64 {
	b := img.Bounds()
	n := int64(b.Dx()) * int64(b.Dy()) * 4
	if n < 1 {
		return 1
	}
	return n
}
