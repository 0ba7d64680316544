// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/internal/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPoolSize is the number of network dispatchers a Queue runs
// unless configured otherwise.
const DefaultPoolSize = 4

// A RequestFilter selects requests for CancelAll.
type RequestFilter func(r Request) bool

// A FinishedListener is told about every request its Queue finishes.
type FinishedListener interface {
	OnRequestFinished(r Request)
}

// The FinishedListenerFunc type is an adapter to allow the use of
// ordinary functions as finished listeners.
type FinishedListenerFunc func(r Request)

// OnRequestFinished calls f(r).
func (f FinishedListenerFunc) OnRequestFinished(r Request) {
	f(r)
}

// An Option configures a Queue.
type Option func(*Queue)

// WithPoolSize sets the number of network dispatchers.
func WithPoolSize(n int) Option {
	return func(q *Queue) {
		if n <= 0 {
			panic("httpq: non-positive pool size")
		}
		q.poolSize = n
	}
}

// WithDelivery sets the delivery. Without it, the queue delivers
// responses on its own Loop, which Close stops.
func WithDelivery(d Delivery) Option {
	return func(q *Queue) {
		q.delivery = d
	}
}

// WithCache sets the cache consulted before the network and written
// after it. Without it, every request goes straight to the network.
func WithCache(c cache.Cache) Option {
	return func(q *Queue) {
		q.cache = c
	}
}

// WithHandlers installs lifecycle event handlers.
func WithHandlers(g *HandlerGroup) Option {
	return func(q *Queue) {
		q.handlers = g
	}
}

// WithLogger sets the logger used by the queue and its dispatchers.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithSlowThreshold sets the lifetime beyond which finished requests
// are logged as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(q *Queue) {
		q.slowThreshold = d
	}
}

// A Queue dispatches requests to a pool of network dispatchers,
// optionally triaging them through a cache first, and delivers the
// results.
//
// Requests are dispatched by priority, highest first, and in the order
// they were added within a priority.
type Queue struct {
	network       Network
	delivery      Delivery
	cache         cache.Cache
	handlers      *HandlerGroup
	logger        *zap.Logger
	poolSize      int
	slowThreshold time.Duration
	loop          *Loop

	seq          atomic.Int64
	cacheQueue   *pq.Queue[Request]
	networkQueue *pq.Queue[Request]

	currentLock sync.Mutex
	current     map[Request]struct{}

	listenersLock sync.Mutex
	listeners     map[int]FinishedListener
	nextListener  int

	lifecycleLock sync.Mutex
	cancel        context.CancelFunc
	group         *errgroup.Group
}

// NewQueue returns a queue which performs requests on network. Call
// Start to start dispatching.
func NewQueue(network Network, opts ...Option) *Queue {
	if network == nil {
		panic("httpq: nil network")
	}
	q := &Queue{
		network:       network,
		poolSize:      DefaultPoolSize,
		slowThreshold: DefaultSlowThreshold,
		logger:        zap.NewNop(),
		cacheQueue:    pq.New(less),
		networkQueue:  pq.New(less),
		current:       make(map[Request]struct{}),
		listeners:     make(map[int]FinishedListener),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	if q.delivery == nil {
		q.loop = NewLoop(q.logger)
		q.delivery = NewExecutorDelivery(q.loop)
	}
	return q
}

// Start stops any running dispatchers and starts new ones: one cache
// dispatcher if the queue has a cache, and the configured number of
// network dispatchers.
func (q *Queue) Start() {
	q.Stop()

	q.lifecycleLock.Lock()
	defer q.lifecycleLock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	if q.cache != nil {
		d := &cacheDispatcher{
			cacheQueue:   q.cacheQueue,
			networkQueue: q.networkQueue,
			cache:        q.cache,
			delivery:     q.delivery,
			logger:       q.logger,
			now:          time.Now,
		}
		g.Go(func() error {
			d.run(ctx)
			return nil
		})
	}
	for i := 0; i < q.poolSize; i++ {
		d := &networkDispatcher{
			queue:    q.networkQueue,
			network:  q.network,
			cache:    q.cache,
			delivery: q.delivery,
			logger:   q.logger.With(zap.Int("dispatcher", i)),
		}
		g.Go(func() error {
			d.run(ctx)
			return nil
		})
	}
	q.cancel = cancel
	q.group = g
}

// Stop tells the dispatchers to quit. Each one stops the next time it
// waits for work. Requests still waiting in the queue are not
// processed until the queue is started again.
func (q *Queue) Stop() {
	q.lifecycleLock.Lock()
	defer q.lifecycleLock.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

// Wait blocks until the dispatchers of the last Start have quit.
func (q *Queue) Wait() error {
	q.lifecycleLock.Lock()
	g := q.group
	q.lifecycleLock.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Close stops the queue, waits for its dispatchers to quit, and stops
// the queue's own delivery loop if it has one. It must not be called
// from a delivered callback; use Stop there.
func (q *Queue) Close() error {
	q.Stop()
	err := q.Wait()
	if q.loop != nil {
		q.loop.Close()
	}
	return err
}

// Add assigns r the next sequence number and queues it for dispatch.
// Add never blocks. It returns r.
func (q *Queue) Add(r Request) Request {
	if r == nil {
		panic("httpq: nil request")
	}
	b := r.Core()
	b.attach(q, r, q.seq.Add(1))

	q.currentLock.Lock()
	q.current[r] = struct{}{}
	q.currentLock.Unlock()

	b.Mark(AddToQueue)
	if q.cache == nil || !b.ShouldCache() {
		q.networkQueue.Put(r)
	} else {
		q.cacheQueue.Put(r)
	}
	return r
}

// CancelAll cancels every unfinished request selected by filter.
func (q *Queue) CancelAll(filter RequestFilter) {
	q.currentLock.Lock()
	defer q.currentLock.Unlock()
	for r := range q.current {
		if filter(r) {
			r.Core().Cancel()
		}
	}
}

// CancelAllTag cancels every unfinished request with the given tag.
func (q *Queue) CancelAllTag(tag *Tag) {
	if tag == nil {
		panic("httpq: nil tag")
	}
	q.CancelAll(func(r Request) bool {
		return r.Core().Tag() == tag
	})
}

// Pending returns the number of requests added but not yet finished.
func (q *Queue) Pending() int {
	q.currentLock.Lock()
	defer q.currentLock.Unlock()
	return len(q.current)
}

// AddFinishedListener registers l to be told about every finished
// request. Call the returned function to unregister it.
func (q *Queue) AddFinishedListener(l FinishedListener) (remove func()) {
	if l == nil {
		panic("httpq: nil finished listener")
	}
	q.listenersLock.Lock()
	id := q.nextListener
	q.nextListener++
	q.listeners[id] = l
	q.listenersLock.Unlock()

	return func() {
		q.listenersLock.Lock()
		delete(q.listeners, id)
		q.listenersLock.Unlock()
	}
}

// Cache returns the queue's cache, or nil.
func (q *Queue) Cache() cache.Cache {
	return q.cache
}

func (q *Queue) finish(r Request) {
	q.currentLock.Lock()
	delete(q.current, r)
	q.currentLock.Unlock()

	q.listenersLock.Lock()
	listeners := make([]FinishedListener, 0, len(q.listeners))
	for _, l := range q.listeners {
		listeners = append(listeners, l)
	}
	q.listenersLock.Unlock()

	for _, l := range listeners {
		l.OnRequestFinished(r)
	}
}
