// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/retry"
	"github.com/gogama/httpq/transient"
	"go.uber.org/zap"
)

// DefaultSlowThreshold is the lifetime beyond which requests and
// responses are logged as slow.
const DefaultSlowThreshold = 3 * time.Second

// A Network performs a request, including any retries, and returns the
// normalized response or a failure. PerformRequest is called from many
// dispatcher goroutines at once.
type Network interface {
	PerformRequest(r Request) (*NetworkResponse, error)
}

// BasicNetwork is a Network which sends requests through an HTTPStack
// and retries failures according to each request's retry policy. The
// zero value is ready to use.
//
// Each attempt runs under a deadline equal to the current timeout of
// the request's retry policy. Failures selected by the Decider are
// handed to the policy, which either permits another attempt or gives
// up. All other failures are returned on their first occurrence.
type BasicNetwork struct {
	// Stack sends each attempt. If nil, a zero ClientStack is used.
	Stack HTTPStack

	// Decider selects the failures routed through the retry policy.
	// If nil, retry.DefaultDecider is used, which selects timeouts and
	// 401 and 403 responses.
	Decider retry.Decider

	// Waiter optionally pauses between attempts.
	Waiter retry.Waiter

	// Logger receives slow response and unexpected status logs. If
	// nil, nothing is logged.
	Logger *zap.Logger

	// SlowThreshold is the attempt duration beyond which a response
	// is logged as slow. If zero, DefaultSlowThreshold is used.
	SlowThreshold time.Duration
}

// PerformRequest runs attempts for r until one succeeds or r's retry
// policy gives up.
func (n *BasicNetwork) PerformRequest(r Request) (*NetworkResponse, error) {
	b := r.Core()
	start := time.Now()
	for {
		resp, err := n.attempt(r, start)
		if err == nil {
			return resp, nil
		}

		failure := asError(err)
		if !n.decider().Decide(failure) {
			return nil, failure
		}
		if err = n.retry(r, failure); err != nil {
			return nil, err
		}

		if n.Waiter == nil {
			continue
		}
		wait := n.Waiter.Wait(b.RetryPolicy().CurrentRetryCount())
		if err = sleep(b.Plan().Context(), wait); err != nil {
			return nil, &Error{Kind: KindGeneric, NetworkTime: time.Since(start), Err: err}
		}
	}
}

func (n *BasicNetwork) attempt(r Request, start time.Time) (*NetworkResponse, error) {
	b := r.Core()
	ctx, cancel := attemptContext(b.Plan().Context(), b.Timeout())
	defer cancel()

	entry := b.CacheEntry()
	resp, err := n.stack().PerformRequest(ctx, r, conditionalHeader(entry))
	if err != nil {
		return nil, transportFailure(err, time.Since(start))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		return notModified(resp.Header, entry, time.Since(start)), nil
	}

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	n.logSlowResponse(b, elapsed, data, resp.StatusCode)
	if err != nil {
		if transient.Categorize(err) == transient.Timeout {
			return nil, &Error{Kind: KindTimeout, NetworkTime: elapsed, Err: err}
		}
		return nil, &Error{Kind: KindNetwork, NetworkTime: elapsed, Err: urlErrorWrap(b.Plan(), err)}
	}

	nr := &NetworkResponse{
		StatusCode:  resp.StatusCode,
		Data:        data,
		Header:      resp.Header,
		NetworkTime: elapsed,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger().Error("Unexpected response code",
			zap.Int("status", resp.StatusCode),
			zap.String("url", b.URL()),
			zap.String("id", b.ID()))
		kind := KindServer
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindAuthFailure
		}
		return nil, &Error{Kind: kind, Response: nr, NetworkTime: elapsed}
	}
	return nr, nil
}

// retry advances the request's retry policy and fires Retry, or fires
// RetryGiveUp and returns the failure if the policy is exhausted.
func (n *BasicNetwork) retry(r Request, failure *Error) error {
	b := r.Core()
	policy := b.RetryPolicy()
	timeout := policy.CurrentTimeout()
	if err := policy.Retry(failure); err != nil {
		n.logger().Debug("Giving up",
			zap.String("reason", retryReason(failure)),
			zap.Duration("timeout", timeout),
			zap.String("id", b.ID()))
		b.Mark(RetryGiveUp)
		return err
	}
	n.logger().Debug("Retrying",
		zap.String("reason", retryReason(failure)),
		zap.Duration("timeout", timeout),
		zap.Int("retry", policy.CurrentRetryCount()),
		zap.String("id", b.ID()))
	b.Mark(Retry)
	return nil
}

func (n *BasicNetwork) logSlowResponse(b *Base, elapsed time.Duration, data []byte, status int) {
	threshold := n.SlowThreshold
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	if elapsed <= threshold {
		return
	}
	n.logger().Debug("Slow HTTP response",
		zap.String("url", b.URL()),
		zap.Duration("lifetime", elapsed),
		zap.Int("size", len(data)),
		zap.Int("status", status),
		zap.Int("retry", b.RetryPolicy().CurrentRetryCount()))
}

func (n *BasicNetwork) stack() HTTPStack {
	if n.Stack == nil {
		return &ClientStack{}
	}
	return n.Stack
}

func (n *BasicNetwork) decider() retry.Decider {
	if n.Decider == nil {
		return retry.DefaultDecider
	}
	return n.Decider
}

func (n *BasicNetwork) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

func attemptContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// conditionalHeader returns the revalidation headers for a cached
// entry.
func conditionalHeader(e *cache.Entry) http.Header {
	if e == nil {
		return nil
	}
	h := make(http.Header)
	if e.ETag != "" {
		h.Set("If-None-Match", e.ETag)
	}
	if !e.LastModified.IsZero() {
		h.Set("If-Modified-Since", cache.FormatDate(e.LastModified))
	}
	return h
}

// notModified builds the response for a 304. With a cached entry, the
// cached body is returned along with the cached headers updated by the
// fresh ones.
func notModified(header http.Header, entry *cache.Entry, elapsed time.Duration) *NetworkResponse {
	nr := &NetworkResponse{
		StatusCode:  http.StatusNotModified,
		Header:      header,
		NotModified: true,
		NetworkTime: elapsed,
	}
	if entry == nil {
		return nr
	}
	merged := entry.Header.Clone()
	if merged == nil {
		merged = make(http.Header, len(header))
	}
	for k, vs := range header {
		merged[k] = vs
	}
	nr.Data = entry.Data
	nr.Header = merged
	return nr
}

func transportFailure(err error, elapsed time.Duration) *Error {
	var failure *Error
	if errors.As(err, &failure) {
		return failure
	}
	kind := KindNetwork
	switch transient.Categorize(err) {
	case transient.Timeout:
		kind = KindTimeout
	case transient.Unreachable:
		kind = KindNoConnection
	}
	return &Error{Kind: kind, NetworkTime: elapsed, Err: err}
}

func retryReason(failure *Error) string {
	switch failure.Kind {
	case KindTimeout:
		return "socket"
	case KindAuthFailure:
		return "auth"
	default:
		return "http"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
