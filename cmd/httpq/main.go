// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command httpq fetches URLs concurrently through an httpq engine and
// prints each response body.
//
// Usage:
//
//	httpq [-timeout d] url...
//
// The engine is configured from HTTPQ_ environment variables. Setting
// HTTPQ_METRICS_ADDR serves Prometheus metrics at /metrics while the
// command runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gogama/httpq"
	"github.com/gogama/httpq/config"
	"github.com/gogama/httpq/engine"
	"github.com/gogama/httpq/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], nil, os.Stdout, os.Stderr))
}

// run executes the command. A nil environ means the process
// environment.
func run(ctx context.Context, args []string, environ map[string]string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("httpq", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 30*time.Second, "overall time limit for all fetches")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: httpq [-timeout d] url...")
		return 2
	}

	cfg, err := config.LoadFrom(environ)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	log := logger.NewWithWriter(stderr, cfg.LogLevel, logger.Format(cfg.LogFormat))
	defer func() { _ = log.Sync() }()

	var opts []engine.Option
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, engine.WithRegisterer(reg))
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Error serving metrics", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	e, err := engine.New(ctx, cfg, log, opts...)
	if err != nil {
		log.Error("Failed to start engine", zap.Error(err))
		return 1
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Warn("Failed to close engine", zap.Error(err))
		}
	}()

	futures := make([]*httpq.Future[string], fs.NArg())
	for i, url := range fs.Args() {
		if futures[i], err = e.GetString(ctx, url); err != nil {
			log.Error("Invalid URL", zap.String("url", url), zap.Error(err))
			return 1
		}
	}

	status := 0
	for i, f := range futures {
		body, err := f.Get(ctx)
		if err != nil {
			log.Error("Fetch failed", zap.String("url", fs.Arg(i)), zap.Error(err))
			f.Cancel()
			status = 1
			continue
		}
		_, _ = fmt.Fprintf(stdout, "==> %s <==\n%s\n", fs.Arg(i), body)
	}
	return status
}
