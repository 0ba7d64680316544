// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"math/rand"
	"sync"
	"time"
)

// A Waiter computes how long to pause before the next attempt. The
// retry count passed to Wait is the number of retries already consumed,
// so the first retry sees zero.
//
// Implementations of Waiter must be safe for concurrent use by multiple
// goroutines.
type Waiter interface {
	Wait(retryCount int) time.Duration
}

// NewFixedWaiter constructs a Waiter which always pauses for d.
func NewFixedWaiter(d time.Duration) Waiter {
	return fixedWaiter(d)
}

type fixedWaiter time.Duration

func (w fixedWaiter) Wait(_ int) time.Duration {
	return time.Duration(w)
}

// NewExpWaiter constructs a Waiter implementing an exponential backoff
// with optional jitter. The ceiling of the pause before retry n is
// base*2^n, capped at max. With jitter, the pause is a uniformly
// random duration in [0, ceiling).
//
// Jitter may be nil, in which case there is no jitter, a time.Time or
// integer seed, a rand.Source, or a *rand.Rand.
func NewExpWaiter(base, max time.Duration, jitter interface{}) Waiter {
	if base < 1 {
		panic("httpq/retry: base must be positive")
	}
	if max < base {
		panic("httpq/retry: max must be at least base")
	}
	return &jitterExpWaiter{
		base: base,
		max:  max,
		rand: jitterToRand(jitter),
	}
}

type jitterExpWaiter struct {
	base time.Duration
	max  time.Duration
	rand *rand.Rand
	lock sync.Mutex
}

func (w *jitterExpWaiter) Wait(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	ceil := int64(w.max)
	if retryCount < 63 {
		exp := int64(1) << retryCount
		if c := int64(w.base) * exp; c/exp == int64(w.base) && c < ceil {
			ceil = c
		}
	}

	if w.rand == nil || ceil <= 0 {
		return time.Duration(ceil)
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	return time.Duration(w.rand.Int63n(ceil))
}

func jitterToRand(jitter interface{}) *rand.Rand {
	var s rand.Source
	switch j := jitter.(type) {
	case nil:
		return nil
	case time.Time:
		s = rand.NewSource(j.UnixNano())
	case int:
		s = rand.NewSource(int64(j))
	case int64:
		s = rand.NewSource(j)
	case *rand.Rand:
		if j == nil {
			panic("httpq/retry: jitter may not be a typed nil")
		}
		return j
	case rand.Source:
		s = j
	default:
		panic("httpq/retry: invalid jitter type")
	}
	return rand.New(s)
}
