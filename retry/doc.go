// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry provides the per-request retry state machine used by
// the httpq network layer, the decision of which failures are routed
// through it, and optional pauses between attempts.
//
// Every request owns one Policy. The network layer asks the policy for
// the timeout of the current attempt, and when an attempt fails with an
// error selected by a Decider, calls Retry. Retry always advances the
// policy, growing the attempt timeout by the backoff multiplier, and
// returns the triggering error once the retry budget is spent:
//
//	p := retry.New(1*time.Second, 2, 2.0)
//	p.Retry(err) // nil, timeout now 2s
//	p.Retry(err) // nil, timeout now 4s
//	p.Retry(err) // err, retries exhausted
//
// Deciders compose with And and Or:
//
//	d := retry.TimeoutErr.Or(retry.StatusCode(401, 403, 503))
//
// A Waiter computes how long to pause before the next attempt. The
// network layer retries immediately unless it is given a Waiter.
package retry
