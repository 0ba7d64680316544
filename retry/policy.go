// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"sync"
	"time"
)

const (
	// DefaultTimeout is the initial attempt timeout of NewDefault.
	DefaultTimeout = 2500 * time.Millisecond
	// DefaultMaxRetries is the retry budget of NewDefault.
	DefaultMaxRetries = 1
	// DefaultBackoffMultiplier is the timeout growth factor of
	// NewDefault. A value of 1.0 keeps the timeout constant.
	DefaultBackoffMultiplier = 1.0
)

// A Policy is the retry state of one request. Implementations must be
// safe for concurrent use, although the network layer only advances a
// policy from one goroutine at a time.
type Policy interface {
	// CurrentTimeout returns the timeout to apply to the next attempt.
	CurrentTimeout() time.Duration
	// CurrentRetryCount returns the number of retries consumed so far.
	CurrentRetryCount() int
	// Retry prepares the policy for the next attempt. It returns nil
	// if another attempt is permitted, or err if the retry budget is
	// exhausted.
	Retry(err error) error
}

// Default is the standard Policy: a constant retry budget with a
// multiplicative timeout backoff.
type Default struct {
	lock       sync.Mutex
	timeout    time.Duration
	retryCount int
	maxRetries int
	multiplier float64
}

// NewDefault returns a Default policy using DefaultTimeout,
// DefaultMaxRetries and DefaultBackoffMultiplier.
func NewDefault() *Default {
	return New(DefaultTimeout, DefaultMaxRetries, DefaultBackoffMultiplier)
}

// New returns a Default policy with the given initial timeout, retry
// budget and backoff multiplier.
func New(timeout time.Duration, maxRetries int, multiplier float64) *Default {
	if timeout < 0 {
		panic("httpq/retry: negative timeout")
	}
	if maxRetries < 0 {
		panic("httpq/retry: negative max retries")
	}
	if multiplier < 0 {
		panic("httpq/retry: negative backoff multiplier")
	}
	return &Default{
		timeout:    timeout,
		maxRetries: maxRetries,
		multiplier: multiplier,
	}
}

// CurrentTimeout returns the current attempt timeout.
func (p *Default) CurrentTimeout() time.Duration {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.timeout
}

// CurrentRetryCount returns the number of retries attempted so far.
func (p *Default) CurrentRetryCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.retryCount
}

// MaxRetries returns the retry budget.
func (p *Default) MaxRetries() int {
	return p.maxRetries
}

// BackoffMultiplier returns the timeout growth factor.
func (p *Default) BackoffMultiplier() float64 {
	return p.multiplier
}

// Retry increments the retry count and grows the timeout, then returns
// err if the retry count now exceeds the retry budget.
func (p *Default) Retry(err error) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.retryCount++
	p.timeout += time.Duration(float64(p.timeout) * p.multiplier)
	if p.retryCount > p.maxRetries {
		return err
	}
	return nil
}

// Never is a policy template with no retry budget. Each call returns a
// fresh policy with the given timeout.
func Never(timeout time.Duration) *Default {
	return New(timeout, 0, DefaultBackoffMultiplier)
}
