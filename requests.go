// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/request"
	"golang.org/x/text/encoding/htmlindex"
)

// JSONContentType is the body content type of JSON requests.
const JSONContentType = "application/json; charset=utf-8"

// A ParseFunc turns a network response into a result of type T.
type ParseFunc[T any] func(resp *NetworkResponse) (T, error)

// FuncRequest is a Request whose response is parsed by a ParseFunc and
// delivered to a typed listener. Successful responses are cached
// according to their cache headers.
type FuncRequest[T any] struct {
	Base
	parse    ParseFunc[T]
	listener func(T)
}

// NewRequest returns a request for method and url whose responses are
// parsed by parse. Either listener may be nil.
func NewRequest[T any](method, url string, parse ParseFunc[T], listener func(T), onError ErrorListener) (*FuncRequest[T], error) {
	p, err := request.NewPlan(method, url, nil)
	if err != nil {
		return nil, err
	}
	return NewPlanRequest(p, parse, listener, onError), nil
}

// NewPlanRequest returns a request for an existing plan.
func NewPlanRequest[T any](p *request.Plan, parse ParseFunc[T], listener func(T), onError ErrorListener) *FuncRequest[T] {
	if parse == nil {
		panic("httpq: nil parse function")
	}
	r := &FuncRequest[T]{parse: parse, listener: listener}
	r.InitPlan(p, onError)
	return r
}

// ParseNetworkResponse applies the request's parse function.
func (r *FuncRequest[T]) ParseNetworkResponse(resp *NetworkResponse) *Response {
	v, err := r.parse(resp)
	if err != nil {
		var failure *Error
		if errors.As(err, &failure) {
			return Failure(err)
		}
		return Failure(&Error{Kind: KindParse, Response: resp, Err: err})
	}
	return Success(v, cache.ParseCacheHeaders(resp.Header, resp.Data, time.Now()))
}

// DeliverResponse passes result to the response listener, if any.
func (r *FuncRequest[T]) DeliverResponse(result interface{}) {
	if r.listener == nil {
		return
	}
	v, _ := result.(T)
	r.listener(v)
}

// NewStringRequest returns a request whose response body is decoded to
// a string using the charset named in its Content-Type header, or
// ISO-8859-1 if none is named.
func NewStringRequest(method, url string, listener func(string), onError ErrorListener) (*FuncRequest[string], error) {
	return NewRequest[string](method, url, ParseString, listener, onError)
}

// ParseString decodes the response body to a string. A charset which is
// not recognized leaves the body bytes as they are.
func ParseString(resp *NetworkResponse) (string, error) {
	charset := cache.ParseCharset(resp.Header, cache.DefaultCharset)
	b, err := decodeText(resp.Data, charset)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewJSONRequest returns a request whose body, unless nil, is body
// marshalled as JSON, and whose response is unmarshalled into a T.
func NewJSONRequest[T any](method, url string, body interface{}, listener func(T), onError ErrorListener) (*FuncRequest[T], error) {
	p, err := request.NewPlan(method, url, nil)
	if err != nil {
		return nil, err
	}
	if body != nil {
		if p.Body, err = json.Marshal(body); err != nil {
			return nil, err
		}
		p.ContentType = JSONContentType
	}
	p.Header.Set("Accept", "application/json")
	return NewPlanRequest(p, ParseJSON[T], listener, onError), nil
}

// ParseJSON unmarshals the response body into a T. The body is decoded
// from the charset named in its Content-Type header, or UTF-8 if none
// is named.
func ParseJSON[T any](resp *NetworkResponse) (T, error) {
	var v T
	b, err := decodeText(resp.Data, cache.ParseCharset(resp.Header, "utf-8"))
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(b, &v)
	return v, err
}

func decodeText(data []byte, charset string) ([]byte, error) {
	if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return data, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return data, nil
	}
	return enc.NewDecoder().Bytes(data)
}
