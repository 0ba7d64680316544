// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"sync"
	"time"
)

// A Future waits for the result of a request. Pass its OnResponse and
// OnError methods as the request's listeners, then call Get.
//
//	f := httpq.NewFuture[string]()
//	r, _ := httpq.NewStringRequest("GET", url, f.OnResponse, f.OnError)
//	f.SetRequest(queue.Add(r))
//	s, err := f.Get(ctx)
type Future[T any] struct {
	lock    sync.Mutex
	done    chan struct{}
	result  T
	err     error
	request Request
}

// NewFuture returns a future with no result yet.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// SetRequest sets the request Cancel cancels.
func (f *Future[T]) SetRequest(r Request) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.request = r
}

// OnResponse completes the future with v. Only the first completion
// has any effect.
func (f *Future[T]) OnResponse(v T) {
	f.complete(v, nil)
}

// OnError completes the future with err. Only the first completion
// has any effect.
func (f *Future[T]) OnError(err error) {
	var zero T
	f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.result, f.err = v, err
	close(f.done)
}

// Get waits for the result. If ctx is done first, Get returns
// ctx.Err().
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.lock.Lock()
		defer f.lock.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// GetTimeout waits at most d for the result. On timeout it returns
// context.DeadlineExceeded.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Get(ctx)
}

// Cancel cancels the request. It returns false if there is no request
// or the future is already done.
func (f *Future[T]) Cancel() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.request == nil || f.isDone() {
		return false
	}
	f.request.Core().Cancel()
	return true
}

// Canceled reports whether the request was canceled.
func (f *Future[T]) Canceled() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.request != nil && f.request.Core().Canceled()
}

// Done reports whether the future has a result or was canceled.
func (f *Future[T]) Done() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.isDone() || (f.request != nil && f.request.Core().Canceled())
}

func (f *Future[T]) isDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
