// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package imageloader

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/httpq"
	"github.com/gogama/httpq/request"
	"go.uber.org/zap"
)

// DefaultBatchDelay is how long completed images wait to be delivered
// together with other completions.
const DefaultBatchDelay = 100 * time.Millisecond

// A Listener receives the progress of a Loader.Get call.
type Listener interface {
	// OnResponse receives a container whose image may be nil. Immediate
	// is true when the call happens within Get: with the cached image
	// on a hit, or with no image to signal that loading started.
	OnResponse(c *Container, immediate bool)
	// OnError receives a load failure.
	OnError(err error)
}

// ListenerFuncs adapts a pair of functions to Listener. Either may be
// nil.
type ListenerFuncs struct {
	Response func(c *Container, immediate bool)
	Error    func(err error)
}

// OnResponse calls l.Response if it is set.
func (l ListenerFuncs) OnResponse(c *Container, immediate bool) {
	if l.Response != nil {
		l.Response(c, immediate)
	}
}

// OnError calls l.Error if it is set.
func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// An Option configures a Loader.
type Option func(*Loader)

// WithBatchDelay sets how long completions wait before delivery. Zero
// delivers on the next tick of the executor. Negative values panic.
func WithBatchDelay(d time.Duration) Option {
	if d < 0 {
		panic("httpq/imageloader: negative batch delay")
	}
	return func(l *Loader) {
		l.batchDelay = d
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// A Loader loads images through an httpq.Adder, issuing at most one
// request at a time for each distinct image.
type Loader struct {
	adder      httpq.Adder
	cache      ImageCache
	executor   httpq.DelayedExecutor
	batchDelay time.Duration
	logger     *zap.Logger

	lock      sync.Mutex
	inFlight  map[string]*batch
	batched   map[string]*batch
	scheduled bool
}

// NewLoader returns a loader which sends requests to a, consults and
// fills cache, and delivers batched results on executor.
func NewLoader(a httpq.Adder, cache ImageCache, executor httpq.DelayedExecutor, opts ...Option) *Loader {
	if a == nil {
		panic("httpq/imageloader: nil adder")
	}
	if cache == nil {
		panic("httpq/imageloader: nil cache")
	}
	if executor == nil {
		panic("httpq/imageloader: nil executor")
	}
	l := &Loader{
		adder:      a,
		cache:      cache,
		executor:   executor,
		batchDelay: DefaultBatchDelay,
		logger:     zap.NewNop(),
		inFlight:   make(map[string]*batch),
		batched:    make(map[string]*batch),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CacheKey returns the key under which the image for url, scaled to
// the given bounds, is cached and coalesced.
func CacheKey(url string, maxWidth, maxHeight int, scale ScaleType) string {
	return fmt.Sprintf("#W%d#H%d#S%d%s", maxWidth, maxHeight, int(scale), url)
}

// IsCached reports whether the image is in the loader's cache.
func (l *Loader) IsCached(url string, maxWidth, maxHeight int, scale ScaleType) bool {
	return l.cache.Image(CacheKey(url, maxWidth, maxHeight, scale)) != nil
}

// Get loads the image at url scaled to fit maxWidth x maxHeight.
//
// On a cache hit listener receives the cached image immediately and no
// request is made. Otherwise listener immediately receives a container
// with no image, then later receives the loaded image or the error. An
// error is returned only if url is invalid, in which case listener is
// not called.
func (l *Loader) Get(url string, maxWidth, maxHeight int, scale ScaleType, listener Listener) (*Container, error) {
	if listener == nil {
		panic("httpq/imageloader: nil listener")
	}

	key := CacheKey(url, maxWidth, maxHeight, scale)
	if img := l.cache.Image(key); img != nil {
		c := &Container{url: url}
		c.setImage(img)
		listener.OnResponse(c, true)
		return c, nil
	}

	p, err := request.NewPlan("GET", url, nil)
	if err != nil {
		return nil, err
	}

	c := &Container{loader: l, url: url, key: key, listener: listener}
	listener.OnResponse(c, true)

	l.lock.Lock()
	if b, ok := l.inFlight[key]; ok {
		b.containers = append(b.containers, c)
		c.batch = b
		l.lock.Unlock()
		l.logger.Debug("Coalesced image request",
			zap.String("key", key),
			zap.Int("listeners", len(b.containers)))
		return c, nil
	}
	b := &batch{containers: []*Container{c}}
	c.batch = b
	b.request = newPlanRequest(p, maxWidth, maxHeight, scale,
		func(img image.Image) { l.onSuccess(key, b, img) },
		func(err error) { l.onError(key, b, err) })
	l.inFlight[key] = b
	l.lock.Unlock()

	l.adder.Add(b.request)
	return c, nil
}

func (l *Loader) onSuccess(key string, b *batch, img image.Image) {
	l.cache.PutImage(key, img)

	l.lock.Lock()
	defer l.lock.Unlock()
	if l.inFlight[key] != b {
		return
	}
	delete(l.inFlight, key)
	b.image = img
	l.batchLocked(key, b)
}

func (l *Loader) onError(key string, b *batch, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.inFlight[key] != b {
		return
	}
	delete(l.inFlight, key)
	b.err = err
	l.batchLocked(key, b)
}

func (l *Loader) batchLocked(key string, b *batch) {
	// A second completion for the same key within one window carries
	// the newer result to every waiting container.
	if prev, ok := l.batched[key]; ok {
		for _, c := range prev.containers {
			c.batch = b
		}
		b.containers = append(prev.containers, b.containers...)
	}
	l.batched[key] = b
	if l.scheduled {
		return
	}
	l.scheduled = true
	l.executor.ExecuteAfter(l.batchDelay, l.deliverBatched)
}

func (l *Loader) deliverBatched() {
	l.lock.Lock()
	batched := l.batched
	l.batched = make(map[string]*batch)
	l.scheduled = false
	deliveries := make([]delivery, 0, len(batched))
	for _, b := range batched {
		for _, c := range b.containers {
			c.batch = nil
			deliveries = append(deliveries, delivery{c, b})
		}
	}
	l.lock.Unlock()

	// A container canceled by an earlier listener in this pass is
	// skipped. Cancel racing with its own callback is best-effort.
	for _, d := range deliveries {
		if d.container.canceled.Load() {
			continue
		}
		if d.batch.err != nil {
			d.container.listener.OnError(d.batch.err)
			continue
		}
		d.container.setImage(d.batch.image)
		d.container.listener.OnResponse(d.container, false)
	}
}

// cancel detaches c from its pending batch, canceling the request if c
// was the last container waiting on it.
func (l *Loader) cancel(c *Container) {
	c.canceled.Store(true)
	l.lock.Lock()
	defer l.lock.Unlock()
	b := c.batch
	if b == nil {
		return
	}
	c.batch = nil
	if !b.remove(c) {
		return
	}
	if l.inFlight[c.key] == b {
		delete(l.inFlight, c.key)
	}
	if l.batched[c.key] == b {
		delete(l.batched, c.key)
	}
}

// Pending returns the number of distinct images being loaded or
// awaiting delivery.
func (l *Loader) Pending() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.inFlight) + len(l.batched)
}

// A Container is a caller's handle on one Get call.
type Container struct {
	loader   *Loader
	url      string
	key      string
	listener Listener
	img      atomic.Pointer[imageHolder]
	canceled atomic.Bool

	// batch is the record c waits on; guarded by loader.lock.
	batch *batch
}

type imageHolder struct {
	img image.Image
}

// Image returns the loaded image, or nil if it is not loaded yet.
func (c *Container) Image() image.Image {
	if h := c.img.Load(); h != nil {
		return h.img
	}
	return nil
}

func (c *Container) setImage(img image.Image) {
	c.img.Store(&imageHolder{img})
}

// URL returns the requested URL.
func (c *Container) URL() string {
	return c.url
}

// Cancel stops delivery to this container's listener. The underlying
// request is canceled once no container waits on it. Canceling a
// container served from the cache does nothing. A Cancel that races
// with the container's own batched callback may not prevent it.
func (c *Container) Cancel() {
	if c.listener == nil {
		return
	}
	c.loader.cancel(c)
}

// A batch is a request together with every container waiting on it.
type batch struct {
	request    httpq.Request
	image      image.Image
	err        error
	containers []*Container
}

func (b *batch) remove(c *Container) (empty bool) {
	for i := range b.containers {
		if b.containers[i] == c {
			b.containers = append(b.containers[:i:i], b.containers[i+1:]...)
			break
		}
	}
	if len(b.containers) == 0 {
		b.request.Core().Cancel()
		return true
	}
	return false
}

type delivery struct {
	container *Container
	batch     *batch
}
