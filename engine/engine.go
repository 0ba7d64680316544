// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package engine assembles a ready-to-use request queue, response
// cache, delivery loop and image loader from a config.Config.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gogama/httpq"
	"github.com/gogama/httpq/cache"
	"github.com/gogama/httpq/cache/dynamodb"
	"github.com/gogama/httpq/cache/memory"
	"github.com/gogama/httpq/cache/postgres"
	"github.com/gogama/httpq/config"
	"github.com/gogama/httpq/imageloader"
	"github.com/gogama/httpq/metrics"
	"github.com/gogama/httpq/request"
	"github.com/gogama/httpq/retry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTagName names the tag given to requests added without one.
const DefaultTagName = "httpq-engine"

// An Option customizes how New builds an Engine.
type Option func(*options)

type options struct {
	doer       httpq.HTTPDoer
	registerer prometheus.Registerer
	dynamo     dynamodb.API
}

// WithHTTPDoer sets the HTTP client used for requests. The default is
// http.DefaultClient.
func WithHTTPDoer(d httpq.HTTPDoer) Option {
	return func(o *options) {
		o.doer = d
	}
}

// WithRegisterer enables Prometheus metrics, registered with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithDynamoDBClient sets the client used by the DynamoDB cache backend
// instead of one built from the default AWS configuration.
func WithDynamoDBClient(client dynamodb.API) Option {
	return func(o *options) {
		o.dynamo = client
	}
}

// Engine owns a started queue and everything it depends on.
type Engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	tag        *httpq.Tag
	stack      *httpq.ClientStack
	loop       *httpq.Loop
	cache      cache.Cache
	queue      *httpq.Queue
	imageCache *imageloader.RistrettoCache
	images     *imageloader.Loader
	closers    []func() error
}

// New builds and starts an engine. A nil cfg means the default
// configuration and a nil logger disables logging. The context is used
// while connecting to cache backends.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadFrom(map[string]string{}); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{doer: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		tag:    httpq.NewTag(DefaultTagName),
		stack:  &httpq.ClientStack{HTTPDoer: o.doer},
		loop:   httpq.NewLoop(logger.Named("delivery")),
	}

	c, err := e.newCache(ctx, &o)
	if err != nil {
		e.loop.Close()
		return nil, err
	}
	e.cache = c

	handlers := &httpq.HandlerGroup{}
	if o.registerer != nil {
		metrics.New(o.registerer).Install(handlers)
	}

	network := &httpq.BasicNetwork{
		Stack:         e.stack,
		Logger:        logger.Named("network"),
		SlowThreshold: cfg.SlowThreshold,
	}
	queueOpts := []httpq.Option{
		httpq.WithPoolSize(cfg.PoolSize),
		httpq.WithDelivery(httpq.NewExecutorDelivery(e.loop)),
		httpq.WithHandlers(handlers),
		httpq.WithLogger(logger.Named("queue")),
		httpq.WithSlowThreshold(cfg.SlowThreshold),
	}
	if c != nil {
		queueOpts = append(queueOpts, httpq.WithCache(c))
	}
	e.queue = httpq.NewQueue(network, queueOpts...)

	if e.imageCache, err = imageloader.NewRistrettoCache(cfg.Image.CacheBytes); err != nil {
		_ = e.release()
		return nil, fmt.Errorf("httpq/engine: image cache: %w", err)
	}
	e.images = imageloader.NewLoader(e, e.imageCache, e.loop,
		imageloader.WithBatchDelay(cfg.Image.BatchDelay),
		imageloader.WithLogger(logger.Named("images")))

	e.queue.Start()
	logger.Info("Engine started",
		zap.Int("poolSize", cfg.PoolSize),
		zap.String("cacheBackend", cfg.Cache.Backend))
	return e, nil
}

func (e *Engine) newCache(ctx context.Context, o *options) (cache.Cache, error) {
	cfg := e.cfg.Cache
	logger := e.logger.Named("cache")
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(cfg.MemoryEntries)
	case config.BackendDynamoDB:
		client := o.dynamo
		if client == nil {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("httpq/engine: load AWS config: %w", err)
			}
			client = awsdynamodb.NewFromConfig(awsCfg)
		}
		return dynamodb.New(client, dynamodb.Config{
			Table:     cfg.DynamoDBTable,
			Retention: cfg.Retention,
			Logger:    logger,
		})
	case config.BackendPostgres:
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("httpq/engine: open postgres: %w", err)
		}
		c, err := postgres.New(db, postgres.Config{
			PurgeInterval: cfg.PurgeInterval,
			Logger:        logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		e.closers = append(e.closers, db.Close)
		return c, nil
	default:
		return nil, nil
	}
}

// Add adds r to the queue, tagging it with the engine's default tag if
// it has no tag. It implements httpq.Adder.
func (e *Engine) Add(r httpq.Request) httpq.Request {
	if r.Core().Tag() == nil {
		r.Core().SetTag(e.tag)
	}
	return e.queue.Add(r)
}

// AddWithTag adds r to the queue with the given tag, or the default tag
// if tag is nil.
func (e *Engine) AddWithTag(r httpq.Request, tag *httpq.Tag) httpq.Request {
	if tag == nil {
		tag = e.tag
	}
	r.Core().SetTag(tag)
	return e.queue.Add(r)
}

// CancelAll cancels every request carrying tag. A nil tag is ignored.
func (e *Engine) CancelAll(tag *httpq.Tag) {
	if tag == nil {
		return
	}
	e.queue.CancelAllTag(tag)
}

// RetryPolicy returns a new retry policy built from the configured
// timeout, retry budget and backoff multiplier.
func (e *Engine) RetryPolicy() retry.Policy {
	return retry.New(e.cfg.DefaultTimeout, e.cfg.MaxRetries, e.cfg.BackoffMultiplier)
}

// GetString issues a GET for url with the configured retry policy and
// returns a future for the body decoded as a string.
func (e *Engine) GetString(ctx context.Context, url string) (*httpq.Future[string], error) {
	p, err := request.NewPlanWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	f := httpq.NewFuture[string]()
	r := httpq.NewPlanRequest[string](p, httpq.ParseString, f.OnResponse, f.OnError)
	r.SetRetryPolicy(e.RetryPolicy())
	f.SetRequest(e.Add(r))
	return f, nil
}

// Tag returns the default tag.
func (e *Engine) Tag() *httpq.Tag {
	return e.tag
}

// Queue returns the engine's queue.
func (e *Engine) Queue() *httpq.Queue {
	return e.queue
}

// Images returns the engine's image loader.
func (e *Engine) Images() *imageloader.Loader {
	return e.images
}

// Cache returns the response cache, or nil if caching is disabled.
func (e *Engine) Cache() cache.Cache {
	return e.cache
}

// Close stops the queue, waits for its workers, and releases the
// delivery loop, caches and connections. Listeners run on the delivery
// loop, so Close must not be called from one.
func (e *Engine) Close() error {
	err := e.queue.Close()
	return errors.Join(err, e.release())
}

func (e *Engine) release() error {
	e.loop.Close()
	if e.imageCache != nil {
		e.imageCache.Close()
	}
	e.stack.CloseIdleConnections()
	var errs []error
	for _, closer := range e.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}
