// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	nilCtxMsg = "httpq/request: nil context"

	// DefaultParamsEncoding is the charset used to encode form
	// parameters.
	DefaultParamsEncoding = "UTF-8"
)

// FormContentType is the body content type used when a plan does not
// name one.
var FormContentType = "application/x-www-form-urlencoded; charset=" + DefaultParamsEncoding

// A Plan describes how to make a logical HTTP request, potentially
// involving repeated attempts if retry is necessary after a failure.
type Plan struct {
	// Method specifies the HTTP method (GET, POST, PUT, etc.).
	Method string

	// URL specifies the URL to access.
	URL *urlpkg.URL

	// Header contains the request header fields sent on every attempt.
	Header http.Header

	// Body is the pre-buffered request body. When Body is empty and
	// Params is not, the URL-encoded Params form the body.
	Body []byte

	// Params holds form parameters.
	Params urlpkg.Values

	// ContentType is the body content type. When empty,
	// FormContentType is used.
	ContentType string

	// Host optionally overrides the Host header to send.
	Host string

	ctx context.Context
}

// NewPlan wraps NewPlanWithContext using the background context.
func NewPlan(method, url string, body interface{}) (*Plan, error) {
	return NewPlanWithContext(context.Background(), method, url, body)
}

// NewPlanWithContext returns a new Plan given a method, URL, and
// optional body. An empty method means GET.
//
// The body may be nil, a string, a []byte, an io.Reader, or an
// io.ReadCloser. Readers are consumed in full, and closed if they
// implement io.Closer.
func NewPlanWithContext(ctx context.Context, method, url string, body interface{}) (*Plan, error) {
	if ctx == nil {
		return nil, errors.New(nilCtxMsg)
	}
	if method == "" {
		method = http.MethodGet
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("httpq/request: invalid method %q", method)
	}
	u, err := urlpkg.Parse(url)
	if err != nil {
		return nil, err
	}
	u.Host = strings.TrimSuffix(u.Host, ":")
	b, err := BodyBytes(body)
	if err != nil {
		return nil, err
	}
	return &Plan{
		ctx:    ctx,
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Body:   b,
		Params: make(urlpkg.Values),
		Host:   u.Host,
	}, nil
}

// Context returns the plan's context. The returned context is always
// non-nil; it defaults to the background context.
func (p *Plan) Context() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of p with its context changed to
// ctx. The provided ctx must be non-nil.
func (p *Plan) WithContext(ctx context.Context) *Plan {
	if ctx == nil {
		panic(nilCtxMsg)
	}
	p2 := new(Plan)
	*p2 = *p
	p2.ctx = ctx
	return p2
}

// SetBasicAuth sets the plan's Authorization header to use HTTP Basic
// Authentication with the provided username and password.
func (p *Plan) SetBasicAuth(username, password string) {
	auth := username + ":" + password
	p.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
}

// BodyBytes returns the raw body if set, otherwise the URL-encoded
// form parameters, otherwise nil.
func (p *Plan) BodyBytes() []byte {
	if len(p.Body) > 0 {
		return p.Body
	}
	if len(p.Params) > 0 {
		return []byte(p.Params.Encode())
	}
	return nil
}

// BodyContentType returns the content type sent with the body.
func (p *Plan) BodyContentType() string {
	if p.ContentType != "" {
		return p.ContentType
	}
	return FormContentType
}

// SendsBody reports whether the plan's method carries a body. Only
// POST, PUT and PATCH requests do.
func (p *Plan) SendsBody() bool {
	switch p.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// ToRequest converts the plan to an *http.Request for one attempt,
// using the given context and overriding the URL if u is non-nil. The
// plan headers are merged with additional, whose values win on
// conflict. Header names are validated.
func (p *Plan) ToRequest(ctx context.Context, u *urlpkg.URL, additional http.Header) (*http.Request, error) {
	if u == nil {
		u = p.URL
	}
	h := make(http.Header, len(p.Header)+len(additional))
	for k, vs := range p.Header {
		h[k] = append([]string(nil), vs...)
	}
	for k, vs := range additional {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for k := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, fmt.Errorf("httpq/request: invalid header name %q", k)
		}
	}

	r, err := http.NewRequestWithContext(ctx, p.Method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	r.Header = h
	if host := p.Host; host != "" && u == p.URL {
		r.Host = host
	}
	if !p.SendsBody() {
		return r, nil
	}
	if b := p.BodyBytes(); len(b) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(b))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
		r.ContentLength = int64(len(b))
		r.Header.Set("Content-Type", p.BodyContentType())
	}
	return r, nil
}

func validMethod(method string) bool {
	return strings.IndexFunc(method, isNotToken) == -1
}

func isNotToken(r rune) bool {
	return !httpguts.IsTokenRune(r)
}
