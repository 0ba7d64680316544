// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package imageloader

import (
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gogama/httpq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "#W10#H20#S2http://x/y.png", CacheKey("http://x/y.png", 10, 20, CenterCrop))
	assert.Equal(t, "#W0#H0#S0u", CacheKey("u", 0, 0, CenterInside))
}

func TestNewLoader(t *testing.T) {
	a, c, e := &fakeAdder{}, newMapCache(), &manualExecutor{}
	assert.PanicsWithValue(t, "httpq/imageloader: nil adder", func() { NewLoader(nil, c, e) })
	assert.PanicsWithValue(t, "httpq/imageloader: nil cache", func() { NewLoader(a, nil, e) })
	assert.PanicsWithValue(t, "httpq/imageloader: nil executor", func() { NewLoader(a, c, nil) })
	assert.PanicsWithValue(t, "httpq/imageloader: negative batch delay", func() { WithBatchDelay(-1) })
	l := NewLoader(a, c, e, WithBatchDelay(0), WithLogger(zap.NewNop()))
	assert.Equal(t, time.Duration(0), l.batchDelay)
	assert.PanicsWithValue(t, "httpq/imageloader: nil listener", func() {
		_, _ = l.Get("http://x", 0, 0, CenterInside, nil)
	})
}

func TestLoader_Get(t *testing.T) {
	t.Run("cache hit", func(t *testing.T) {
		f := newFixture()
		img := testImage(2, 2)
		f.cache.PutImage(CacheKey("http://x/a.png", 5, 5, CenterInside), img)
		var rec listenerRecorder
		c, err := f.loader.Get("http://x/a.png", 5, 5, CenterInside, &rec)
		require.NoError(t, err)
		assert.Same(t, img, c.Image())
		assert.Equal(t, "http://x/a.png", c.URL())
		assert.Equal(t, []bool{true}, rec.immediates())
		assert.Empty(t, f.adder.all())
		assert.True(t, f.loader.IsCached("http://x/a.png", 5, 5, CenterInside))
		assert.False(t, f.loader.IsCached("http://x/a.png", 6, 5, CenterInside))
		c.Cancel()
	})
	t.Run("invalid URL", func(t *testing.T) {
		f := newFixture()
		var rec listenerRecorder
		c, err := f.loader.Get(":::", 0, 0, CenterInside, &rec)
		assert.Nil(t, c)
		assert.Error(t, err)
		assert.Empty(t, rec.immediates())
		assert.Empty(t, f.adder.all())
	})
	t.Run("miss then batched delivery", func(t *testing.T) {
		f := newFixture()
		var rec listenerRecorder
		c, err := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec)
		require.NoError(t, err)
		assert.Nil(t, c.Image())
		assert.Equal(t, []bool{true}, rec.immediates())
		require.Len(t, f.adder.all(), 1)
		assert.Equal(t, httpq.Low, f.adder.all()[0].Core().Priority())
		assert.Equal(t, 1, f.loader.Pending())

		img := testImage(3, 3)
		f.adder.all()[0].DeliverResponse(img)
		assert.Equal(t, []time.Duration{DefaultBatchDelay}, f.executor.delays())
		assert.Equal(t, []bool{true}, rec.immediates())
		assert.Same(t, img, f.cache.Image(CacheKey("http://x/a.png", 0, 0, CenterInside)))

		f.executor.runAll()
		assert.Equal(t, []bool{true, false}, rec.immediates())
		assert.Same(t, img, c.Image())
		assert.Equal(t, 0, f.loader.Pending())
	})
	t.Run("coalesces identical requests", func(t *testing.T) {
		f := newFixture()
		var rec1, rec2, rec3 listenerRecorder
		c1, _ := f.loader.Get("http://x/a.png", 10, 10, CenterInside, &rec1)
		c2, _ := f.loader.Get("http://x/a.png", 10, 10, CenterInside, &rec2)
		_, _ = f.loader.Get("http://x/a.png", 10, 10, FitXY, &rec3)
		require.Len(t, f.adder.all(), 2)

		img := testImage(4, 4)
		f.adder.all()[0].DeliverResponse(img)
		f.executor.runAll()
		assert.Same(t, img, c1.Image())
		assert.Same(t, img, c2.Image())
		assert.Equal(t, []bool{true, false}, rec1.immediates())
		assert.Equal(t, []bool{true, false}, rec2.immediates())
		assert.Equal(t, []bool{true}, rec3.immediates())
		assert.Equal(t, 1, f.loader.Pending())
	})
	t.Run("one delivery pass per window", func(t *testing.T) {
		f := newFixture()
		var rec1, rec2 listenerRecorder
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec1)
		_, _ = f.loader.Get("http://x/b.png", 0, 0, CenterInside, &rec2)
		reqs := f.adder.all()
		require.Len(t, reqs, 2)
		reqs[0].DeliverResponse(testImage(1, 1))
		reqs[1].DeliverError(errors.New("boom"))
		assert.Len(t, f.executor.delays(), 1)

		f.executor.runAll()
		assert.Equal(t, []bool{true, false}, rec1.immediates())
		assert.Equal(t, []bool{true}, rec2.immediates())
		assert.EqualError(t, rec2.lastError(), "boom")

		// A later completion schedules a new pass.
		_, _ = f.loader.Get("http://x/c.png", 0, 0, CenterInside, &listenerRecorder{})
		f.adder.all()[2].DeliverResponse(testImage(1, 1))
		assert.Len(t, f.executor.delays(), 2)
	})
	t.Run("error fans out", func(t *testing.T) {
		f := newFixture()
		var rec1, rec2 listenerRecorder
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec1)
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec2)
		f.adder.all()[0].DeliverError(httpq.ErrServer)
		f.executor.runAll()
		assert.ErrorIs(t, rec1.lastError(), httpq.ErrServer)
		assert.ErrorIs(t, rec2.lastError(), httpq.ErrServer)
		assert.Nil(t, f.cache.Image(CacheKey("http://x/a.png", 0, 0, CenterInside)))
	})
}

func TestContainer_Cancel(t *testing.T) {
	t.Run("one of two in flight", func(t *testing.T) {
		f := newFixture()
		var rec1, rec2 listenerRecorder
		c1, _ := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec1)
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec2)
		c1.Cancel()
		r := f.adder.all()[0]
		assert.False(t, r.Core().Canceled())

		r.DeliverResponse(testImage(1, 1))
		f.executor.runAll()
		assert.Equal(t, []bool{true}, rec1.immediates())
		assert.Equal(t, []bool{true, false}, rec2.immediates())
	})
	t.Run("last in flight cancels request", func(t *testing.T) {
		f := newFixture()
		var rec listenerRecorder
		c, _ := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec)
		c.Cancel()
		r := f.adder.all()[0]
		assert.True(t, r.Core().Canceled())
		assert.Equal(t, 0, f.loader.Pending())

		// The next Get issues a fresh request, and a late result of the
		// canceled one is not delivered to it.
		var rec2 listenerRecorder
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec2)
		require.Len(t, f.adder.all(), 2)
		r.DeliverResponse(testImage(1, 1))
		assert.Empty(t, f.executor.delays())
		assert.Equal(t, []bool{true}, rec.immediates())
		assert.Equal(t, 1, f.loader.Pending())
	})
	t.Run("while batched", func(t *testing.T) {
		f := newFixture()
		var rec1, rec2 listenerRecorder
		c1, _ := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec1)
		c2, _ := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec2)
		f.adder.all()[0].DeliverResponse(testImage(1, 1))
		c1.Cancel()
		assert.Equal(t, 1, f.loader.Pending())
		c2.Cancel()
		assert.Equal(t, 0, f.loader.Pending())
		f.executor.runAll()
		assert.Equal(t, []bool{true}, rec1.immediates())
		assert.Equal(t, []bool{true}, rec2.immediates())
	})
	t.Run("batched while key is in flight again", func(t *testing.T) {
		f := newFixture()
		var rec1, rec2 listenerRecorder
		c1, _ := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec1)
		f.adder.all()[0].DeliverError(httpq.ErrServer)
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec2)
		require.Len(t, f.adder.all(), 2)
		assert.Equal(t, 2, f.loader.Pending())

		c1.Cancel()
		assert.Equal(t, 1, f.loader.Pending())
		assert.False(t, f.adder.all()[1].Core().Canceled())
		f.executor.runAll()
		assert.Nil(t, rec1.lastError())
		assert.Equal(t, []bool{true}, rec1.immediates())

		f.adder.all()[1].DeliverResponse(testImage(1, 1))
		f.executor.runAll()
		assert.Equal(t, []bool{true, false}, rec2.immediates())
		assert.Equal(t, 0, f.loader.Pending())
	})
	t.Run("by earlier listener in same pass", func(t *testing.T) {
		f := newFixture()
		var rec2 listenerRecorder
		var c2 *Container
		delivered := 0
		listener := ListenerFuncs{Response: func(_ *Container, immediate bool) {
			if !immediate {
				delivered++
				c2.Cancel()
			}
		}}
		_, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, listener)
		c2, _ = f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec2)
		f.adder.all()[0].DeliverResponse(testImage(1, 1))
		f.executor.runAll()
		assert.Equal(t, 1, delivered)
		assert.Equal(t, []bool{true}, rec2.immediates())
		assert.Nil(t, c2.Image())
	})
	t.Run("after delivery", func(t *testing.T) {
		f := newFixture()
		var rec listenerRecorder
		c, _ := f.loader.Get("http://x/a.png", 0, 0, CenterInside, &rec)
		f.adder.all()[0].DeliverResponse(testImage(1, 1))
		f.executor.runAll()
		c.Cancel()
		assert.Equal(t, []bool{true, false}, rec.immediates())
	})
}

func TestLoader_EndToEnd(t *testing.T) {
	var hits int
	var lock sync.Mutex
	data := encodePNG(t, 64, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		lock.Lock()
		hits++
		lock.Unlock()
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	q := httpq.NewQueue(&httpq.BasicNetwork{Stack: &httpq.ClientStack{HTTPDoer: server.Client()}})
	defer func() { _ = q.Close() }()
	q.Start()
	loop := httpq.NewLoop(nil)
	defer loop.Close()
	cache, err := NewRistrettoCache(1 << 20)
	require.NoError(t, err)
	defer cache.Close()

	l := NewLoader(q, cache, loop, WithBatchDelay(10*time.Millisecond))
	done := make(chan image.Image, 3)
	listener := ListenerFuncs{
		Response: func(c *Container, immediate bool) {
			if !immediate {
				done <- c.Image()
			}
		},
		Error: func(err error) { t.Errorf("unexpected error: %v", err) },
	}
	for i := 0; i < 3; i++ {
		_, err = l.Get(server.URL+"/img.png", 16, 16, CenterInside, listener)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		select {
		case img := <-done:
			require.NotNil(t, img)
			assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())
		case <-time.After(5 * time.Second):
			t.Fatal("image never delivered")
		}
	}
	lock.Lock()
	assert.Equal(t, 1, hits)
	lock.Unlock()
}

type fixture struct {
	adder    *fakeAdder
	cache    *mapCache
	executor *manualExecutor
	loader   *Loader
}

func newFixture() *fixture {
	f := &fixture{adder: &fakeAdder{}, cache: newMapCache(), executor: &manualExecutor{}}
	f.loader = NewLoader(f.adder, f.cache, f.executor)
	return f
}

type fakeAdder struct {
	lock     sync.Mutex
	requests []httpq.Request
}

func (a *fakeAdder) Add(r httpq.Request) httpq.Request {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.requests = append(a.requests, r)
	return r
}

func (a *fakeAdder) all() []httpq.Request {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]httpq.Request(nil), a.requests...)
}

type mapCache struct {
	lock   sync.Mutex
	images map[string]image.Image
}

func newMapCache() *mapCache {
	return &mapCache{images: make(map[string]image.Image)}
}

func (c *mapCache) Image(key string) image.Image {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.images[key]
}

func (c *mapCache) PutImage(key string, img image.Image) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.images[key] = img
}

// manualExecutor queues functions until runAll is called.
type manualExecutor struct {
	lock  sync.Mutex
	tasks []func()
	delay []time.Duration
}

func (e *manualExecutor) Execute(f func()) {
	e.ExecuteAfter(0, f)
}

func (e *manualExecutor) ExecuteAfter(d time.Duration, f func()) func() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.tasks = append(e.tasks, f)
	e.delay = append(e.delay, d)
	return func() bool { return false }
}

func (e *manualExecutor) delays() []time.Duration {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]time.Duration(nil), e.delay...)
}

func (e *manualExecutor) runAll() {
	e.lock.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.lock.Unlock()
	for _, f := range tasks {
		f()
	}
}

type listenerRecorder struct {
	lock sync.Mutex
	imm  []bool
	errs []error
}

func (r *listenerRecorder) OnResponse(_ *Container, immediate bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.imm = append(r.imm, immediate)
}

func (r *listenerRecorder) OnError(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.errs = append(r.errs, err)
}

func (r *listenerRecorder) immediates() []bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]bool(nil), r.imm...)
}

func (r *listenerRecorder) lastError() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}
