// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/internal/pq"
	"go.uber.org/zap"
)

// networkDispatcher takes requests from the network queue, performs
// them, and hands the parsed result to the delivery.
type networkDispatcher struct {
	queue    *pq.Queue[Request]
	network  Network
	cache    cache.Cache
	delivery Delivery
	logger   *zap.Logger
}

func (d *networkDispatcher) run(ctx context.Context) {
	for ctx.Err() == nil {
		r, err := d.queue.Take(ctx)
		if err != nil {
			return
		}
		d.process(r)
	}
}

func (d *networkDispatcher) process(r Request) {
	b := r.Core()
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("Unhandled failure processing request",
				zap.Stringer("request", b),
				zap.Any("panic", p),
				zap.Stack("stack"))
			if b.Finished() {
				return
			}
			d.delivery.PostError(r, &Error{
				Kind:        KindGeneric,
				NetworkTime: time.Since(start),
				Err:         fmt.Errorf("panic: %v", p),
			})
		}
	}()

	b.Mark(NetworkQueueTake)
	if b.Canceled() {
		b.Finish(NetworkDiscardCanceled)
		return
	}

	resp, err := d.network.PerformRequest(r)
	if err != nil {
		failure := *asError(err)
		failure.NetworkTime = time.Since(start)
		d.delivery.PostError(r, r.ParseNetworkError(&failure))
		return
	}
	b.Mark(NetworkHTTPComplete)

	if resp.NotModified && b.HasHadResponseDelivered() {
		b.Finish(NotModified)
		return
	}

	parsed := r.ParseNetworkResponse(resp)
	b.Mark(NetworkParseComplete)
	if parsed == nil {
		parsed = Failure(&Error{Kind: KindParse, Response: resp, Err: errors.New("no response parsed")})
	}

	if parsed.OK() && parsed.CacheEntry != nil && b.ShouldCache() && d.cache != nil {
		if err = d.cache.Put(b.Plan().Context(), b.CacheKey(), parsed.CacheEntry); err != nil {
			d.logger.Warn("Failed to write cache entry",
				zap.String("key", b.CacheKey()),
				zap.Error(err))
		} else {
			b.Mark(NetworkCacheWritten)
		}
	}

	d.delivery.PostResponse(r, parsed, nil)
}

// cacheDispatcher takes requests from the cache queue and either
// delivers a cached response or forwards them to the network queue.
type cacheDispatcher struct {
	cacheQueue   *pq.Queue[Request]
	networkQueue *pq.Queue[Request]
	cache        cache.Cache
	delivery     Delivery
	logger       *zap.Logger
	now          func() time.Time
}

func (d *cacheDispatcher) run(ctx context.Context) {
	if err := d.cache.Initialize(ctx); err != nil {
		d.logger.Error("Failed to initialize cache", zap.Error(err))
	}
	for ctx.Err() == nil {
		r, err := d.cacheQueue.Take(ctx)
		if err != nil {
			return
		}
		d.process(ctx, r)
	}
}

func (d *cacheDispatcher) process(ctx context.Context, r Request) {
	b := r.Core()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("Unhandled failure processing cached request",
				zap.Stringer("request", b),
				zap.Any("panic", p),
				zap.Stack("stack"))
			if b.Finished() {
				return
			}
			d.delivery.PostError(r, &Error{Kind: KindGeneric, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	b.Mark(CacheQueueTake)
	if b.Canceled() {
		b.Finish(CacheDiscardCanceled)
		return
	}

	entry, err := d.cache.Get(ctx, b.CacheKey())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			d.logger.Warn("Failed to read cache entry",
				zap.String("key", b.CacheKey()),
				zap.Error(err))
		}
		b.Mark(CacheMiss)
		d.networkQueue.Put(r)
		return
	}

	now := d.now()
	if entry.IsExpiredAt(now) {
		b.Mark(CacheHitExpired)
		b.SetCacheEntry(entry)
		d.networkQueue.Put(r)
		return
	}

	b.Mark(CacheHit)
	parsed := r.ParseNetworkResponse(&NetworkResponse{
		StatusCode: 200,
		Data:       entry.Data,
		Header:     entry.Header,
	})
	b.Mark(CacheHitParsed)
	if parsed == nil || !parsed.OK() {
		b.SetCacheEntry(entry)
		d.networkQueue.Put(r)
		return
	}

	if !entry.RefreshNeededAt(now) {
		d.delivery.PostResponse(r, parsed, nil)
		return
	}

	b.Mark(CacheHitRefreshNeeded)
	b.SetCacheEntry(entry)
	parsed.Intermediate = true
	d.delivery.PostResponse(r, parsed, func() {
		d.networkQueue.Put(r)
	})
}
