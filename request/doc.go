// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains Plan, the reusable HTTP description carried by
every httpq request.

A Plan looks like a stripped-down http.Request with all server-side
fields removed and the body replaced by a pre-buffered []byte, so that
the same Plan can be sent again on every retry. Form parameters may be
given instead of a raw body, in which case they are URL-encoded when the
body is needed.

	p, err := request.NewPlan("POST", "https://example.com/login", nil)
	...
	p.Params.Set("user", "patsy")

A plan may be assigned a context, which bounds every attempt made for
the plan. Per-attempt deadlines come from the owning request's retry
policy and are applied on top of the plan context.

The network layer converts a plan into an *http.Request with ToRequest,
merging in additional headers such as cache revalidation headers.
*/
package request
