// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/request"
	"github.com/gogama/httpq/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBasicNetwork(t *testing.T) {
	t.Run("happy path", testBasicNetworkHappyPath)
	t.Run("zero value", testBasicNetworkZeroValue)
	t.Run("attempt timeout", testBasicNetworkAttemptTimeout)
	t.Run("read body error", testBasicNetworkBodyError)
	t.Run("status codes", testBasicNetworkStatusCodes)
	t.Run("transport errors", testBasicNetworkTransportErrors)
	t.Run("not modified", testBasicNetworkNotModified)
	t.Run("conditional headers", testBasicNetworkConditionalHeaders)
	t.Run("waiter", testBasicNetworkWaiter)
}

func testBasicNetworkHappyPath(t *testing.T) {
	for _, server := range servers {
		server := server
		t.Run(serverName(server), func(t *testing.T) {
			t.Parallel()
			n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: server.Client()}}
			inst := &serverInstruction{
				StatusCode: 200,
				Header:     http.Header{"Cache-Control": {"max-age=60"}},
				Body:       []bodyChunk{{Data: []byte("hello")}},
			}
			r := newTestRequest(inst.toPlan(context.Background(), "GET", server))
			resp, err := n.PerformRequest(r)
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
			assert.Equal(t, []byte("hello"), resp.Data)
			assert.Equal(t, "max-age=60", resp.Header.Get("Cache-Control"))
			assert.False(t, resp.NotModified)
			assert.Greater(t, resp.NetworkTime, time.Duration(0))
			assert.Equal(t, 0, r.RetryPolicy().CurrentRetryCount())
		})
	}
}

func testBasicNetworkZeroValue(t *testing.T) {
	n := &BasicNetwork{}
	inst := &serverInstruction{StatusCode: 204}
	r := newTestRequest(inst.toPlan(context.Background(), "GET", httpServer))
	resp, err := n.PerformRequest(r)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
	assert.Empty(t, resp.Data)
}

func testBasicNetworkAttemptTimeout(t *testing.T) {
	t.Run("header", func(t *testing.T) {
		n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: httpServer.Client()}}
		inst := &serverInstruction{StatusCode: 200, HeaderPause: 500 * time.Millisecond}
		r := newTestRequest(inst.toPlan(context.Background(), "GET", httpServer))
		r.SetRetryPolicy(retry.New(50*time.Millisecond, 1, 1.0))
		tr := trackEvents(t, r)

		resp, err := n.PerformRequest(r)
		assert.Nil(t, resp)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 2, r.RetryPolicy().CurrentRetryCount())
		assert.Equal(t, 200*time.Millisecond, r.RetryPolicy().CurrentTimeout())
		assert.Equal(t, []string{"retry", "retry-giveup"}, tr.names(Retry, RetryGiveUp))
	})
	t.Run("body", func(t *testing.T) {
		n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: httpServer.Client()}}
		inst := &serverInstruction{
			StatusCode: 200,
			Body:       []bodyChunk{{Data: []byte("slow"), Pause: 800 * time.Millisecond}},
		}
		r := newTestRequest(inst.toPlan(context.Background(), "GET", httpServer))
		r.SetRetryPolicy(retry.Never(200 * time.Millisecond))

		resp, err := n.PerformRequest(r)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func testBasicNetworkBodyError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"reset", syscall.ECONNRESET, KindNetwork},
		{"timeout", context.DeadlineExceeded, KindTimeout},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mockDoer := newMockHTTPDoer(t)
			mockBody := newMockReadCloser(t)
			mockBody.On("Read", mock.Anything).Return(0, testCase.err).Once()
			mockBody.On("Close").Return(nil).Once()
			mockDoer.On("Do", mock.Anything).Return(&http.Response{
				StatusCode: 200,
				Header:     http.Header{},
				Body:       mockBody,
			}, nil).Once()
			n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: mockDoer}, Decider: retry.DeciderFunc(func(error) bool { return false })}
			r := newTestRequest(newPlan(t, "GET", "http://example.com/body"))

			resp, err := n.PerformRequest(r)
			assert.Nil(t, resp)
			var failure *Error
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, testCase.kind, failure.Kind)
			assert.ErrorIs(t, err, testCase.err)
			mockDoer.AssertExpectations(t)
			mockBody.AssertExpectations(t)
		})
	}
}

func testBasicNetworkStatusCodes(t *testing.T) {
	testCases := []struct {
		status   int
		kind     Kind
		attempts int64
	}{
		{401, KindAuthFailure, 2},
		{403, KindAuthFailure, 2},
		{404, KindServer, 1},
		{500, KindServer, 1},
		{503, KindServer, 1},
	}
	for _, testCase := range testCases {
		t.Run(http.StatusText(testCase.status), func(t *testing.T) {
			var hits atomic.Int64
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(testCase.status)
				_, _ = io.WriteString(w, "nope")
			}))
			defer server.Close()
			n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: server.Client()}}
			r := newTestRequest(newPlan(t, "GET", server.URL))

			resp, err := n.PerformRequest(r)
			assert.Nil(t, resp)
			var failure *Error
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, testCase.kind, failure.Kind)
			require.NotNil(t, failure.Response)
			assert.Equal(t, testCase.status, failure.StatusCode())
			assert.Equal(t, []byte("nope"), failure.Response.Data)
			assert.Equal(t, testCase.attempts, hits.Load())
		})
	}
}

func testBasicNetworkTransportErrors(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		kind     Kind
		attempts int
	}{
		{"refused", syscall.ECONNREFUSED, KindNetwork, 1},
		{"unreachable", syscall.ENETUNREACH, KindNoConnection, 1},
		{"other", errors.New("boom"), KindNetwork, 1},
		{"timeout", context.DeadlineExceeded, KindTimeout, 2},
		{"blocked", &Error{Kind: KindGeneric, Err: errors.New("blocked")}, KindGeneric, 1},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mockDoer := newMockHTTPDoer(t)
			mockDoer.On("Do", mock.Anything).Return(nil, testCase.err).Times(testCase.attempts)
			n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: mockDoer}}
			r := newTestRequest(newPlan(t, "GET", "http://example.com/transport"))

			resp, err := n.PerformRequest(r)
			assert.Nil(t, resp)
			var failure *Error
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, testCase.kind, failure.Kind)
			mockDoer.AssertExpectations(t)
		})
	}
}

func testBasicNetworkNotModified(t *testing.T) {
	inst := &serverInstruction{
		StatusCode:      200,
		Header:          http.Header{"Etag": {`"v1"`}, "X-Fresh": {"yes"}},
		NotModifiedETag: `"v1"`,
	}
	n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: httpServer.Client()}}

	t.Run("without entry", func(t *testing.T) {
		p := inst.toPlan(context.Background(), "GET", httpServer)
		p.Header.Set("If-None-Match", `"v1"`)
		resp, err := n.PerformRequest(newTestRequest(p))
		require.NoError(t, err)
		assert.True(t, resp.NotModified)
		assert.Equal(t, 304, resp.StatusCode)
		assert.Empty(t, resp.Data)
	})
	t.Run("with entry", func(t *testing.T) {
		r := newTestRequest(inst.toPlan(context.Background(), "GET", httpServer))
		r.SetCacheEntry(&cache.Entry{
			Data:   []byte("cached"),
			ETag:   `"v1"`,
			Header: http.Header{"X-Fresh": {"no"}, "X-Cached": {"yes"}},
		})
		resp, err := n.PerformRequest(r)
		require.NoError(t, err)
		assert.True(t, resp.NotModified)
		assert.Equal(t, []byte("cached"), resp.Data)
		assert.Equal(t, "yes", resp.Header.Get("X-Fresh"))
		assert.Equal(t, "yes", resp.Header.Get("X-Cached"))
	})
}

func testBasicNetworkConditionalHeaders(t *testing.T) {
	var lock sync.Mutex
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		lock.Lock()
		got = req.Header.Clone()
		lock.Unlock()
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	lastModified := time.Date(2021, 4, 30, 12, 0, 0, 0, time.UTC)
	r := newTestRequest(newPlan(t, "GET", server.URL))
	r.Header().Set("X-Custom", "kept")
	r.SetCacheEntry(&cache.Entry{ETag: `"abc"`, LastModified: lastModified})
	n := &BasicNetwork{Stack: &ClientStack{HTTPDoer: server.Client()}}
	_, err := n.PerformRequest(r)
	require.NoError(t, err)

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, `"abc"`, got.Get("If-None-Match"))
	assert.Equal(t, "Fri, 30 Apr 2021 12:00:00 GMT", got.Get("If-Modified-Since"))
	assert.Equal(t, "kept", got.Get("X-Custom"))
}

func testBasicNetworkWaiter(t *testing.T) {
	t.Run("waits between attempts", func(t *testing.T) {
		mockDoer := newMockHTTPDoer(t)
		mockDoer.On("Do", mock.Anything).Return(nil, context.DeadlineExceeded).Twice()
		n := &BasicNetwork{
			Stack:  &ClientStack{HTTPDoer: mockDoer},
			Waiter: retry.NewFixedWaiter(100 * time.Millisecond),
		}
		r := newTestRequest(newPlan(t, "GET", "http://example.com/wait"))
		start := time.Now()
		_, err := n.PerformRequest(r)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
		mockDoer.AssertExpectations(t)
	})
	t.Run("plan canceled during wait", func(t *testing.T) {
		mockDoer := newMockHTTPDoer(t)
		mockDoer.On("Do", mock.Anything).Return(nil, context.DeadlineExceeded).Once()
		n := &BasicNetwork{
			Stack:  &ClientStack{HTTPDoer: mockDoer},
			Waiter: retry.NewFixedWaiter(time.Hour),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		p, err := request.NewPlanWithContext(ctx, "GET", "http://example.com/wait", nil)
		require.NoError(t, err)
		_, err = n.PerformRequest(newTestRequest(p))
		assert.ErrorIs(t, err, ErrGeneric)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		mockDoer.AssertExpectations(t)
	})
}

func TestRetryReason(t *testing.T) {
	assert.Equal(t, "socket", retryReason(&Error{Kind: KindTimeout}))
	assert.Equal(t, "auth", retryReason(&Error{Kind: KindAuthFailure}))
	assert.Equal(t, "http", retryReason(&Error{Kind: KindServer}))
}

func newPlan(t *testing.T, method, url string) *request.Plan {
	p, err := request.NewPlan(method, url, nil)
	require.NoError(t, err)
	return p
}

func newTestRequest(p *request.Plan) *FuncRequest[string] {
	return NewPlanRequest[string](p, ParseString, nil, nil)
}

// eventTrace records the events fired for requests.
type eventTrace struct {
	lock  sync.Mutex
	calls []tracedEvent
}

type tracedEvent struct {
	evt Event
	r   Request
}

func (tr *eventTrace) Handle(evt Event, r Request) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.calls = append(tr.calls, tracedEvent{evt, r})
}

func (tr *eventTrace) events() []Event {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	evts := make([]Event, len(tr.calls))
	for i, c := range tr.calls {
		evts[i] = c.evt
	}
	return evts
}

// of returns the events recorded for r.
func (tr *eventTrace) of(r Request) []Event {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	var evts []Event
	for _, c := range tr.calls {
		if c.r.Core() == r.Core() {
			evts = append(evts, c.evt)
		}
	}
	return evts
}

// names returns the names of the recorded events, keeping only the
// events listed in filter if it is non-empty.
func (tr *eventTrace) names(filter ...Event) []string {
	var names []string
	for _, evt := range tr.events() {
		if len(filter) > 0 && !containsEvent(filter, evt) {
			continue
		}
		names = append(names, evt.Name())
	}
	return names
}

func containsEvent(evts []Event, evt Event) bool {
	for _, e := range evts {
		if e == evt {
			return true
		}
	}
	return false
}

// trackEvents attaches r to an idle queue so its events are recorded.
func trackEvents(t *testing.T, r Request) *eventTrace {
	tr := &eventTrace{}
	g := &HandlerGroup{}
	g.PushBackAll(tr)
	q := NewQueue(&BasicNetwork{}, WithHandlers(g))
	t.Cleanup(func() { _ = q.Close() })
	q.Add(r)
	return tr
}

type mockHTTPDoer struct {
	mock.Mock
}

func newMockHTTPDoer(t *testing.T) *mockHTTPDoer {
	m := &mockHTTPDoer{}
	m.Test(t)
	return m
}

func (m *mockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	err := args.Error(1)
	if resp, ok := args.Get(0).(*http.Response); ok {
		return resp, err
	}
	return nil, err
}

type mockHTTPDoerWithCloseIdleConnections struct {
	mockHTTPDoer
}

func newMockHTTPDoerWithCloseIdleConnections(t *testing.T) *mockHTTPDoerWithCloseIdleConnections {
	m := &mockHTTPDoerWithCloseIdleConnections{}
	m.Test(t)
	return m
}

func (m *mockHTTPDoerWithCloseIdleConnections) CloseIdleConnections() {
	m.Called()
}

type mockReadCloser struct {
	mock.Mock
}

func newMockReadCloser(t *testing.T) *mockReadCloser {
	m := &mockReadCloser{}
	m.Test(t)
	return m
}

func (m *mockReadCloser) Read(p []byte) (n int, err error) {
	args := m.Called(p)
	n = args.Int(0)
	err = args.Error(1)
	return
}

func (m *mockReadCloser) Close() error {
	args := m.Called()
	return args.Error(0)
}

func stringBody(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}
