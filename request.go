// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/request"
	"github.com/gogama/httpq/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Request is a unit of work for a Queue.
//
// Concrete request types embed a Base, which carries the lifecycle
// state shared by all requests, and implement the parsing and delivery
// methods for their own result type. Base provides default
// implementations of ParseNetworkError and DeliverError.
type Request interface {
	// Core returns the request's lifecycle state.
	Core() *Base
	// ParseNetworkResponse parses a network response into a Response.
	// It runs on a dispatcher goroutine. Returning a failed Response
	// delivers its error to the request's error listener.
	ParseNetworkResponse(resp *NetworkResponse) *Response
	// ParseNetworkError may replace a network failure with a more
	// specific one before it is delivered.
	ParseNetworkError(err error) error
	// DeliverResponse hands a parsed result to the request's listener.
	// It runs on the delivery executor.
	DeliverResponse(result interface{})
	// DeliverError hands a failure to the request's error listener. It
	// runs on the delivery executor.
	DeliverError(err error)
}

// An ErrorListener receives the failure of a request.
type ErrorListener func(err error)

// A Tag identifies a group of requests for bulk cancellation. Tags are
// compared by identity: two tags with the same name are different tags.
type Tag struct {
	name string
}

// NewTag returns a new, unique tag.
func NewTag(name string) *Tag {
	return &Tag{name: name}
}

func (t *Tag) String() string {
	return t.name
}

// Base carries the lifecycle state of a Request. Embed it in concrete
// request types and initialize it with Init or InitPlan.
//
// Setters must be called before the request is added to a Queue. Once
// added, only the cancellation and delivery flags and the retry policy
// state change.
type Base struct {
	plan          *request.Plan
	id            string
	priority      Priority
	seq           atomic.Int64
	retryPolicy   retry.Policy
	errorListener ErrorListener

	canceled  atomic.Bool
	delivered atomic.Bool
	finished  atomic.Bool

	queue *Queue
	owner Request
	birth time.Time

	tag         *Tag
	useTLS      bool
	internalAPI bool
	noCache     bool
	cacheKey    string
	cacheEntry  atomic.Pointer[cache.Entry]
}

// Init initializes the request with a new plan for the given method and
// URL.
func (b *Base) Init(method, url string, onError ErrorListener) error {
	p, err := request.NewPlan(method, url, nil)
	if err != nil {
		return err
	}
	b.InitPlan(p, onError)
	return nil
}

// InitPlan initializes the request with an existing plan.
func (b *Base) InitPlan(p *request.Plan, onError ErrorListener) {
	if p == nil {
		panic("httpq: nil plan")
	}
	b.plan = p
	b.id = uuid.NewString()
	b.priority = Normal
	b.retryPolicy = retry.NewDefault()
	b.errorListener = onError
}

// Core returns b, which lets any type embedding a Base satisfy the
// first method of Request.
func (b *Base) Core() *Base {
	return b
}

// Plan returns the HTTP description of the request.
func (b *Base) Plan() *request.Plan {
	return b.plan
}

// ID returns the unique request identifier assigned by Init.
func (b *Base) ID() string {
	return b.id
}

// Method returns the HTTP method.
func (b *Base) Method() string {
	return b.plan.Method
}

// URL returns the request URL as a string.
func (b *Base) URL() string {
	return b.plan.URL.String()
}

// Header returns the request headers. Modify them before the request
// is added to a Queue.
func (b *Base) Header() http.Header {
	return b.plan.Header
}

// Priority returns the dispatch priority. The default is Normal.
func (b *Base) Priority() Priority {
	return b.priority
}

// SetPriority sets the dispatch priority.
func (b *Base) SetPriority(p Priority) {
	b.priority = p
}

// Sequence returns the sequence number assigned when the request was
// added to a Queue. It panics if the request has not been added.
func (b *Base) Sequence() int64 {
	n := b.seq.Load()
	if n == 0 {
		panic("httpq: sequence read before request was added to a queue")
	}
	return n
}

// RetryPolicy returns the policy consulted after each failed attempt.
func (b *Base) RetryPolicy() retry.Policy {
	return b.retryPolicy
}

// SetRetryPolicy replaces the retry policy. It panics if p is nil.
func (b *Base) SetRetryPolicy(p retry.Policy) {
	if p == nil {
		panic("httpq: nil retry policy")
	}
	b.retryPolicy = p
}

// Timeout returns the timeout for the next attempt.
func (b *Base) Timeout() time.Duration {
	return b.retryPolicy.CurrentTimeout()
}

// Cancel marks the request canceled. A canceled request is discarded
// when it is next dequeued, or at the latest when its response is
// about to be delivered. Its listeners are never invoked afterward.
func (b *Base) Cancel() {
	b.canceled.Store(true)
}

// Canceled reports whether Cancel has been called.
func (b *Base) Canceled() bool {
	return b.canceled.Load()
}

// MarkDelivered records that a response has been delivered for the
// request.
func (b *Base) MarkDelivered() {
	b.delivered.Store(true)
}

// HasHadResponseDelivered reports whether a response, intermediate or
// final, has been delivered for the request.
func (b *Base) HasHadResponseDelivered() bool {
	return b.delivered.Load()
}

// Finished reports whether the request has been finished.
func (b *Base) Finished() bool {
	return b.finished.Load()
}

// Tag returns the tag used to cancel groups of requests, or nil.
func (b *Base) Tag() *Tag {
	return b.tag
}

// SetTag sets the tag matched by Queue.CancelAllTag.
func (b *Base) SetTag(t *Tag) {
	b.tag = t
}

// UseTLS reports whether the request is sent with the TLS doer.
func (b *Base) UseTLS() bool {
	return b.useTLS
}

// SetUseTLS selects the TLS doer for the request.
func (b *Base) SetUseTLS(v bool) {
	b.useTLS = v
}

// InternalAPI reports whether the request targets an internal API.
func (b *Base) InternalAPI() bool {
	return b.internalAPI
}

// SetInternalAPI marks the request as targeting an internal API.
func (b *Base) SetInternalAPI(v bool) {
	b.internalAPI = v
}

// ShouldCache reports whether responses to the request are read from
// and written to the Queue's cache. The default is true.
func (b *Base) ShouldCache() bool {
	return !b.noCache
}

// SetShouldCache enables or disables caching for the request.
func (b *Base) SetShouldCache(v bool) {
	b.noCache = !v
}

// CacheKey returns the key under which the response is cached. Unless
// set explicitly it is the URL for GET requests and METHOD:URL for
// everything else.
func (b *Base) CacheKey() string {
	if b.cacheKey != "" {
		return b.cacheKey
	}
	if b.plan.Method == http.MethodGet {
		return b.URL()
	}
	return b.plan.Method + ":" + b.URL()
}

// SetCacheKey overrides the key returned by CacheKey.
func (b *Base) SetCacheKey(key string) {
	b.cacheKey = key
}

// CacheEntry returns the cached entry attached for conditional
// revalidation, or nil.
func (b *Base) CacheEntry() *cache.Entry {
	return b.cacheEntry.Load()
}

// SetCacheEntry attaches a cached entry for conditional revalidation.
func (b *Base) SetCacheEntry(e *cache.Entry) {
	b.cacheEntry.Store(e)
}

// Queue returns the queue the request was added to, or nil.
func (b *Base) Queue() *Queue {
	return b.queue
}

// Birth returns when the request was added to a queue, or the zero
// time if it has not been.
func (b *Base) Birth() time.Time {
	return b.birth
}

// ParseNetworkError returns err unchanged.
func (b *Base) ParseNetworkError(err error) error {
	return err
}

// DeliverError calls the error listener, if there is one.
func (b *Base) DeliverError(err error) {
	if b.errorListener != nil {
		b.errorListener(err)
	}
}

// Mark fires evt through the handlers of the request's queue.
func (b *Base) Mark(evt Event) {
	if b.queue != nil {
		b.queue.handlers.run(evt, b.owner)
	}
}

// Finish fires the terminal event evt and tells the queue the request
// is finished. Only the first call has any effect.
func (b *Base) Finish(evt Event) {
	if !b.finished.CompareAndSwap(false, true) {
		return
	}
	b.Mark(evt)
	q := b.queue
	if q == nil {
		return
	}
	q.finish(b.owner)
	if lifetime := time.Since(b.birth); lifetime >= q.slowThreshold {
		q.logger.Debug("Slow request",
			zap.String("id", b.id),
			zap.Duration("lifetime", lifetime),
			zap.Stringer("request", b),
			zap.Stringer("event", evt))
	}
}

func (b *Base) attach(q *Queue, owner Request, seq int64) {
	if !b.seq.CompareAndSwap(0, seq) {
		panic("httpq: request added to a queue twice")
	}
	b.queue = q
	b.owner = owner
	b.birth = time.Now()
}

// String describes the request for logs: cancellation mark, URL, host
// hash, priority and sequence number.
func (b *Base) String() string {
	mark := "[ ] "
	if b.Canceled() {
		mark = "[X] "
	}
	seq := "-"
	if n := b.seq.Load(); n != 0 {
		seq = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s%s 0x%x %s %s", mark, b.URL(), hostHash(b), b.priority, seq)
}

func hostHash(b *Base) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(b.plan.URL.Hostname()))
	return h.Sum32()
}
