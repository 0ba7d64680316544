// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"net/url"

	"github.com/gogama/httpq/request"
)

// An Adder accepts requests for dispatch. Queue is an Adder.
type Adder interface {
	// Add queues r for dispatch and returns it.
	Add(r Request) Request
}

// A Canceler cancels requests in bulk. Queue is a Canceler.
type Canceler interface {
	CancelAll(filter RequestFilter)
	CancelAllTag(tag *Tag)
}

// A Dispatcher combines Adder and Canceler.
type Dispatcher interface {
	Adder
	Canceler
}

// Get issues a GET to the specified URL through a and returns a future
// for the body decoded as a string.
func Get(a Adder, url string) (*Future[string], error) {
	p, err := request.NewPlan("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return do(a, p, true), nil
}

// Head issues a HEAD to the specified URL through a.
func Head(a Adder, url string) (*Future[string], error) {
	p, err := request.NewPlan("HEAD", url, nil)
	if err != nil {
		return nil, err
	}
	return do(a, p, false), nil
}

// Post issues a POST to the specified URL through a. The response is
// never cached.
//
// The body may be nil, a string, a []byte, an io.Reader, or an
// io.ReadCloser.
func Post(a Adder, url, contentType string, body interface{}) (*Future[string], error) {
	b, err := request.BodyBytes(body)
	if err != nil {
		return nil, err
	}
	p, err := request.NewPlan("POST", url, b)
	if err != nil {
		return nil, err
	}
	p.ContentType = contentType
	return do(a, p, false), nil
}

// PostForm issues a POST to the specified URL through a, with data's
// keys and values URL-encoded as the request body.
func PostForm(a Adder, url string, data url.Values) (*Future[string], error) {
	p, err := request.NewPlan("POST", url, nil)
	if err != nil {
		return nil, err
	}
	p.Params = data
	return do(a, p, false), nil
}

func do(a Adder, p *request.Plan, shouldCache bool) *Future[string] {
	if a == nil {
		panic("httpq: nil adder")
	}
	f := NewFuture[string]()
	r := NewPlanRequest[string](p, ParseString, f.OnResponse, f.OnError)
	r.SetShouldCache(shouldCache)
	f.SetRequest(a.Add(r))
	return f
}
