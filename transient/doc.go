// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient classifies errors from an HTTP exchange that ended
// without a response. The network layer uses the classification to
// choose between a timeout failure (retried through the request's retry
// policy), a no-connection failure, and a plain network failure.
//
// Package transient depends only on the standard library packages
// "errors", "net" and "syscall", so it brings no dependencies when
// imported on its own.
package transient
