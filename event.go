// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

// An Event identifies a point in the lifecycle of a Request. Install
// event handlers in a Queue to observe requests as they move through
// the cache and network dispatchers and are finally delivered.
//
// Events fire on whichever goroutine is handling the request at that
// point: the caller of Queue.Add, a dispatcher goroutine, or the
// delivery executor.
type Event int

const (
	// AddToQueue fires when Queue.Add has assigned the request a
	// sequence number, just before it is placed in a dispatch queue.
	AddToQueue Event = iota
	// CacheQueueTake fires when the cache dispatcher takes the request.
	CacheQueueTake
	// CacheDiscardCanceled fires when the cache dispatcher finds the
	// request already canceled. The request is finished and nothing is
	// delivered.
	CacheDiscardCanceled
	// CacheMiss fires when the cache has no entry for the request's
	// cache key. The request moves on to the network queue.
	CacheMiss
	// CacheHitExpired fires when the cached entry is past its hard
	// TTL. The entry is attached to the request for conditional
	// revalidation and the request moves on to the network queue.
	CacheHitExpired
	// CacheHit fires when a usable cached entry has been found.
	CacheHit
	// CacheHitParsed fires after the cached bytes have been parsed by
	// the request.
	CacheHitParsed
	// CacheHitRefreshNeeded fires when the cached entry is past its
	// soft TTL. The parsed value is delivered as an intermediate
	// response and the request is then forwarded to the network.
	CacheHitRefreshNeeded
	// NetworkQueueTake fires when a network dispatcher takes the
	// request.
	NetworkQueueTake
	// NetworkDiscardCanceled fires when a network dispatcher finds the
	// request already canceled. The request is finished without a
	// network round trip and nothing is delivered.
	NetworkDiscardCanceled
	// NetworkHTTPComplete fires when the Network has produced a
	// response.
	NetworkHTTPComplete
	// NotModified fires when the server answered 304 Not Modified for
	// a request that already had a response delivered. The request is
	// finished without a second delivery.
	NotModified
	// NetworkParseComplete fires after the request parsed the network
	// response.
	NetworkParseComplete
	// NetworkCacheWritten fires after the parsed response's cache entry
	// was stored.
	NetworkCacheWritten
	// Retry fires each time BasicNetwork decides to make another
	// attempt. The request's retry policy has already been advanced.
	Retry
	// RetryGiveUp fires when the request's retry policy is exhausted
	// and the last failure will be delivered.
	RetryGiveUp
	// PostResponse fires when a response is handed to the Delivery.
	PostResponse
	// PostError fires when an error is handed to the Delivery.
	PostError
	// CanceledAtDelivery fires when the request turns out to be
	// canceled at the moment of delivery. Listeners are not invoked.
	CanceledAtDelivery
	// IntermediateResponse fires after an intermediate response was
	// delivered. The request stays open for its final delivery.
	IntermediateResponse
	// Done fires after the final response or error was delivered.
	Done
	// eventSentinel provides the total number of events typed as an
	// Event.
	eventSentinel

	// numEvents provides the total number of events types as an int.
	numEvents = int(eventSentinel)
)

var eventNames = []string{
	"add-to-queue",
	"cache-queue-take",
	"cache-discard-canceled",
	"cache-miss",
	"cache-hit-expired",
	"cache-hit",
	"cache-hit-parsed",
	"cache-hit-refresh-needed",
	"network-queue-take",
	"network-discard-cancelled",
	"network-http-complete",
	"not-modified",
	"network-parse-complete",
	"network-cache-written",
	"retry",
	"retry-giveup",
	"post-response",
	"post-error",
	"canceled-at-delivery",
	"intermediate-response",
	"done",
}

// Events returns a slice containing all events which can occur in the
// lifecycle of a request, roughly in the order in which they would
// occur.
func Events() []Event {
	evts := make([]Event, numEvents)
	for i := range evts {
		evts[i] = Event(i)
	}
	return evts
}

// Name returns the name of the event.
func (evt Event) Name() string {
	return eventNames[int(evt)]
}

// String returns the name of the event.
func (evt Event) String() string {
	return evt.Name()
}

// Terminal reports whether the event finishes the request. Exactly one
// terminal event fires per request added to a Queue.
func (evt Event) Terminal() bool {
	switch evt {
	case CacheDiscardCanceled, NetworkDiscardCanceled, NotModified, CanceledAtDelivery, Done:
		return true
	default:
		return false
	}
}
