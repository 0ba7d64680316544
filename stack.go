// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gogama/httpq/request"
)

// An HTTPDoer implements a Do method in the same manner as the GoLang
// standard HTTP client from the net/http package.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	//
	// The Do method must follow the contract documented on the GoLang
	// standard library http.Client from the net/http package.
	Do(r *http.Request) (*http.Response, error)
}

// An IdleCloser can close idle connections.
type IdleCloser interface {
	CloseIdleConnections()
}

// An HTTPStack performs one HTTP exchange for a request.
//
// The context carries the attempt deadline. Additional headers are sent
// along with the request's own headers and win on conflict. The caller
// closes the response body.
type HTTPStack interface {
	PerformRequest(ctx context.Context, r Request, additional http.Header) (*http.Response, error)
}

// A URLRewriter rewrites a request URL before it is sent. Returning
// false blocks the request.
type URLRewriter func(url string) (string, bool)

// ClientStack is an HTTPStack built on HTTPDoers. The zero value is
// ready to use and sends every request with http.DefaultClient.
type ClientStack struct {
	// HTTPDoer sends requests. If nil, http.DefaultClient is used.
	HTTPDoer HTTPDoer

	// TLSDoer sends requests whose UseTLS flag is set. If nil,
	// HTTPDoer is used for them too.
	TLSDoer HTTPDoer

	// Rewriter optionally rewrites or blocks request URLs.
	Rewriter URLRewriter
}

// NewTLSDoer returns an HTTP client whose transport uses the given TLS
// configuration.
func NewTLSDoer(cfg *tls.Config) HTTPDoer {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = cfg
	return &http.Client{Transport: t}
}

// PerformRequest sends r once with additional headers merged in.
func (s *ClientStack) PerformRequest(ctx context.Context, r Request, additional http.Header) (*http.Response, error) {
	b := r.Core()
	p := b.Plan()

	var u *url.URL
	if s.Rewriter != nil {
		orig := p.URL.String()
		rewritten, ok := s.Rewriter(orig)
		if !ok {
			return nil, &Error{Kind: KindGeneric, Err: fmt.Errorf("URL blocked by rewriter: %s", orig)}
		}
		var err error
		if u, err = url.Parse(rewritten); err != nil {
			return nil, &Error{Kind: KindGeneric, Err: fmt.Errorf("bad URL %s: %w", rewritten, err)}
		}
	}

	req, err := p.ToRequest(ctx, u, additional)
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Err: urlErrorWrap(p, err)}
	}

	resp, err := s.doer(b.UseTLS()).Do(req)
	if err != nil {
		return nil, urlErrorWrap(p, err)
	}
	return resp, nil
}

// CloseIdleConnections closes idle connections on each HTTPDoer which
// has a CloseIdleConnections method.
func (s *ClientStack) CloseIdleConnections() {
	for _, doer := range []HTTPDoer{s.doer(false), s.TLSDoer} {
		if ic, ok := doer.(IdleCloser); ok {
			ic.CloseIdleConnections()
		}
	}
}

func (s *ClientStack) doer(useTLS bool) HTTPDoer {
	if useTLS && s.TLSDoer != nil {
		return s.TLSDoer
	}
	if s.HTTPDoer == nil {
		return http.DefaultClient
	}
	return s.HTTPDoer
}

func urlErrorWrap(p *request.Plan, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return err
	}

	return &url.Error{
		Op:  urlErrorOp(p.Method),
		URL: p.URL.String(),
		Err: err,
	}
}

// urlErrorOp is lifted verbatim from net/http/client.go
func urlErrorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}
