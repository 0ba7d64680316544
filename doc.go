// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package httpq provides a prioritized HTTP request queue with retry,
response caching, and serialized delivery of results.

Create a Queue over a Network and start it to begin dispatching
requests:

	q := httpq.NewQueue(&httpq.BasicNetwork{
		Stack: &httpq.ClientStack{HTTPDoer: &http.Client{}},
	})
	q.Start()
	defer q.Close()

	f, err := httpq.Get(q, "https://www.example.com")
	...
	body, err := f.GetTimeout(10 * time.Second)

Requests are taken in priority order (Immediate, High, Normal, Low),
and in order of addition within a priority. Typed requests are built
from a parse function and a listener:

	r, err := httpq.NewRequest("GET", "https://api.example.com/widgets",
		httpq.ParseJSON[[]Widget],
		func(ws []Widget) { ... },
		func(err error) { ... })
	r.SetPriority(httpq.High)
	q.Add(r)

Listeners are invoked on the queue's Delivery. By default this is a
single goroutine owned by the queue, so listeners never run
concurrently with one another. Use WithDelivery to supply a different
Executor.

For control over retry timing and limits, set a retry policy from
package retry on the request:

	r.SetRetryPolicy(retry.New(5*time.Second, 3, 1.5))

To serve responses from a cache, install one with WithCache. Packages
cache/memory, cache/dynamodb and cache/postgres provide
implementations. Fresh entries are delivered without a network call.
Entries needing refresh are delivered as an intermediate response and
then refreshed from the network.

	c, err := memory.New(1024)
	...
	q := httpq.NewQueue(network, httpq.WithCache(c))

To hook into the lifecycle of every request, install a handler for
the events of interest:

	handlers := &httpq.HandlerGroup{}
	handlers.PushBack(httpq.Retry, httpq.HandlerFunc(
		func(_ httpq.Event, r httpq.Request) {
			log.Printf("Retrying %s", r.Core().URL())
		}))
	q := httpq.NewQueue(network, httpq.WithHandlers(handlers))

Failures are reported as *Error values whose Kind classifies the
failure. Use errors.Is with the sentinels ErrTimeout, ErrServer and
the like to test for a kind.
*/
package httpq
