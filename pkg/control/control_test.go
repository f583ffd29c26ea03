// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{3, 1},
		{-7, -1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSettersClamp(t *testing.T) {
	var c Controls
	c.SetThrottle(2)
	c.SetSteer(-2)
	c.SetPitch(0.25)
	if c.Throttle != 1 || c.Steer != -1 || c.Pitch != 0.25 {
		t.Fatalf("unexpected controls: %+v", c)
	}
}

func TestApplyPatch(t *testing.T) {
	c := Controls{Throttle: 1, Boost: true}
	c.Apply(Patch{Pitch: Axis(-1), Jump: Button(true), Boost: Button(false)})

	if c.Throttle != 1 {
		t.Errorf("throttle should be untouched, got %v", c.Throttle)
	}
	if c.Pitch != -1 || !c.Jump || c.Boost {
		t.Errorf("patch not applied: %+v", c)
	}
}

func TestReset(t *testing.T) {
	c := Controls{Throttle: 1, Jump: true, Roll: -0.5}
	c.Reset()
	if !c.IsNeutral() {
		t.Fatalf("expected neutral controls after reset, got %+v", c)
	}
}
