// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package world carries the host's per-tick input through the runtime.
//
// Nothing in Tempo reads global state: every score, run, monitor and step body
// receives the Frame for the current tick as an explicit argument.
package world

import "github.com/jllopis/tempo/pkg/control"

// Snapshot is the immutable input delivered by the host once per tick.
type Snapshot struct {
	// Tick is the host's monotonic frame counter.
	Tick uint64
	// Time is the monotonic game clock in seconds.
	Time float64
	// KickoffPause is true while the host holds play for a restart.
	KickoffPause bool
	// Data is the host-specific world state (positions, predictions, resources).
	// It is opaque to the runtime and passed through untouched.
	Data any
}

// Frame is the snapshot plus the command being accumulated this tick.
type Frame struct {
	Snapshot
	Controls *control.Controls
}

// NewFrame builds a frame writing into controls. A nil controls pointer gets a
// private zero value so step bodies can always write.
func NewFrame(snap Snapshot, controls *control.Controls) *Frame {
	if controls == nil {
		controls = &control.Controls{}
	}
	return &Frame{Snapshot: snap, Controls: controls}
}

// DataAs returns the frame's host data as T.
func DataAs[T any](f *Frame) (T, bool) {
	var zero T
	if f == nil {
		return zero, false
	}
	v, ok := f.Data.(T)
	return v, ok
}
