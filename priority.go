// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpq

import "fmt"

// Priority orders requests waiting in a Queue. Higher priorities are
// always dispatched first; equal priorities are dispatched in the order
// they were added.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Immediate
)

var priorityNames = []string{"LOW", "NORMAL", "HIGH", "IMMEDIATE"}

func (p Priority) String() string {
	if p < Low || p > Immediate {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// less orders a before b when a has the higher priority or, at equal
// priority, the lower sequence number.
func less(a, b Request) bool {
	pa, pb := a.Core().Priority(), b.Core().Priority()
	if pa != pb {
		return pa > pb
	}
	return a.Core().Sequence() < b.Core().Sequence()
}
