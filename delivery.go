// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

// A Delivery posts parsed responses and errors back to the requests'
// listeners.
type Delivery interface {
	// PostResponse delivers resp to r's listeners, then runs after, if
	// it is non-nil and r was not canceled.
	PostResponse(r Request, resp *Response, after func())
	// PostError delivers err to r's error listener.
	PostError(r Request, err error)
}

// ExecutorDelivery is a Delivery which invokes listeners on an
// Executor. Use a serial executor such as Loop so listener callbacks
// never run concurrently.
//
// Before invoking any listener the request's cancellation flag is
// checked again. A request canceled while in flight finishes with
// CanceledAtDelivery and its listeners are never invoked. A listener
// panic is left to the executor to handle, but the request is finished
// first.
type ExecutorDelivery struct {
	executor Executor
}

// NewExecutorDelivery returns a delivery which invokes listeners on e.
func NewExecutorDelivery(e Executor) *ExecutorDelivery {
	if e == nil {
		panic("httpq: nil executor")
	}
	return &ExecutorDelivery{executor: e}
}

// PostResponse marks r delivered and queues its listener call.
func (d *ExecutorDelivery) PostResponse(r Request, resp *Response, after func()) {
	b := r.Core()
	b.MarkDelivered()
	b.Mark(PostResponse)
	d.executor.Execute(func() { deliver(r, resp, after) })
}

// PostError queues the call to r's error listener.
func (d *ExecutorDelivery) PostError(r Request, err error) {
	r.Core().Mark(PostError)
	resp := Failure(err)
	d.executor.Execute(func() { deliver(r, resp, nil) })
}

func deliver(r Request, resp *Response, after func()) {
	b := r.Core()
	if b.Canceled() {
		b.Finish(CanceledAtDelivery)
		return
	}

	// Runs even if a listener panics, so the request still finishes or
	// moves on to its refresh. The panic continues to the executor.
	defer func() {
		if resp.Intermediate {
			b.Mark(IntermediateResponse)
		} else {
			b.Finish(Done)
		}
		if after != nil {
			after()
		}
	}()

	if resp.OK() {
		r.DeliverResponse(resp.Result)
	} else {
		r.DeliverError(resp.Err)
	}
}
