// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// An Executor runs functions on some execution context.
type Executor interface {
	Execute(f func())
}

// A DelayedExecutor can also run a function after a delay. The
// returned function cancels the delayed run if it has not started, and
// reports whether it did so.
type DelayedExecutor interface {
	Executor
	ExecuteAfter(d time.Duration, f func()) (cancel func() bool)
}

// The ExecutorFunc type is an adapter to allow the use of ordinary
// functions as executors.
type ExecutorFunc func(f func())

// Execute calls e(f).
func (e ExecutorFunc) Execute(f func()) {
	e(f)
}

// Inline is an Executor which runs functions immediately on the calling
// goroutine.
var Inline Executor = ExecutorFunc(func(f func()) { f() })

// A Loop is a DelayedExecutor which runs functions one at a time, in
// submission order, on its own goroutine. Execute never blocks. A
// panicking function is logged and does not stop the loop.
type Loop struct {
	logger *zap.Logger

	lock   sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// NewLoop starts a new Loop. A nil logger discards log output.
func NewLoop(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		logger: logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Execute queues f to run on the loop goroutine. Functions submitted
// after Close are dropped.
func (l *Loop) Execute(f func()) {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		l.logger.Debug("Dropping task submitted to closed loop")
		return
	}
	l.tasks = append(l.tasks, f)
	l.lock.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// ExecuteAfter queues f to run on the loop goroutine once d has
// elapsed.
func (l *Loop) ExecuteAfter(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, func() { l.Execute(f) })
	return t.Stop
}

// Close stops accepting functions, waits for the already queued ones to
// run, and stops the loop goroutine. Close waits for the loop goroutine,
// so calling it from a function running on the loop deadlocks; such
// functions call Shutdown instead.
func (l *Loop) Close() {
	l.Shutdown()
	<-l.done
}

// Shutdown is Close without the wait. The loop goroutine exits once the
// already queued functions have run, and Done is closed.
func (l *Loop) Shutdown() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Done returns a channel which is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.signal {
		for {
			l.lock.Lock()
			tasks := l.tasks
			l.tasks = nil
			closed := l.closed
			l.lock.Unlock()

			if len(tasks) == 0 {
				if closed {
					return
				}
				break
			}
			for _, f := range tasks {
				l.runTask(f)
			}
		}
	}
}

func (l *Loop) runTask(f func()) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("Recovered panic in delivered callback",
				zap.Any("panic", p),
				zap.Stack("stack"))
		}
	}()
	f()
}
