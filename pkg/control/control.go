// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package control defines the per-tick command an agent hands back to its host.
package control

import (
	"fmt"
	"math"
)

// Controls is the command accumulated during one tick. Analog axes are kept in
// [-1, 1]; use the setters rather than assigning fields directly.
type Controls struct {
	Throttle  float64 `json:"throttle" yaml:"throttle"`
	Steer     float64 `json:"steer" yaml:"steer"`
	Pitch     float64 `json:"pitch" yaml:"pitch"`
	Yaw       float64 `json:"yaw" yaml:"yaw"`
	Roll      float64 `json:"roll" yaml:"roll"`
	Jump      bool    `json:"jump" yaml:"jump"`
	Boost     bool    `json:"boost" yaml:"boost"`
	Handbrake bool    `json:"handbrake" yaml:"handbrake"`
	UseItem   bool    `json:"use_item" yaml:"use_item"`
}

// Reset clears every control back to neutral.
func (c *Controls) Reset() {
	*c = Controls{}
}

// SetThrottle sets the throttle axis, clamped to [-1, 1].
func (c *Controls) SetThrottle(v float64) { c.Throttle = Clamp(v) }

// SetSteer sets the steer axis, clamped to [-1, 1].
func (c *Controls) SetSteer(v float64) { c.Steer = Clamp(v) }

// SetPitch sets the pitch axis, clamped to [-1, 1].
func (c *Controls) SetPitch(v float64) { c.Pitch = Clamp(v) }

// SetYaw sets the yaw axis, clamped to [-1, 1].
func (c *Controls) SetYaw(v float64) { c.Yaw = Clamp(v) }

// SetRoll sets the roll axis, clamped to [-1, 1].
func (c *Controls) SetRoll(v float64) { c.Roll = Clamp(v) }

// Apply overwrites the fields set in p and leaves the rest untouched.
func (c *Controls) Apply(p Patch) {
	if p.Throttle != nil {
		c.SetThrottle(*p.Throttle)
	}
	if p.Steer != nil {
		c.SetSteer(*p.Steer)
	}
	if p.Pitch != nil {
		c.SetPitch(*p.Pitch)
	}
	if p.Yaw != nil {
		c.SetYaw(*p.Yaw)
	}
	if p.Roll != nil {
		c.SetRoll(*p.Roll)
	}
	if p.Jump != nil {
		c.Jump = *p.Jump
	}
	if p.Boost != nil {
		c.Boost = *p.Boost
	}
	if p.Handbrake != nil {
		c.Handbrake = *p.Handbrake
	}
	if p.UseItem != nil {
		c.UseItem = *p.UseItem
	}
}

// IsNeutral reports whether no control is engaged.
func (c Controls) IsNeutral() bool {
	return c == Controls{}
}

func (c Controls) String() string {
	return fmt.Sprintf("thr=%.2f str=%.2f p=%.2f y=%.2f r=%.2f jump=%t boost=%t hb=%t",
		c.Throttle, c.Steer, c.Pitch, c.Yaw, c.Roll, c.Jump, c.Boost, c.Handbrake)
}

// Patch is a partial Controls update. Nil fields are left unchanged.
type Patch struct {
	Throttle  *float64 `json:"throttle,omitempty" yaml:"throttle,omitempty"`
	Steer     *float64 `json:"steer,omitempty" yaml:"steer,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty" yaml:"pitch,omitempty"`
	Yaw       *float64 `json:"yaw,omitempty" yaml:"yaw,omitempty"`
	Roll      *float64 `json:"roll,omitempty" yaml:"roll,omitempty"`
	Jump      *bool    `json:"jump,omitempty" yaml:"jump,omitempty"`
	Boost     *bool    `json:"boost,omitempty" yaml:"boost,omitempty"`
	Handbrake *bool    `json:"handbrake,omitempty" yaml:"handbrake,omitempty"`
	UseItem   *bool    `json:"use_item,omitempty" yaml:"use_item,omitempty"`
}

// Axis returns a pointer to v, for building patches.
func Axis(v float64) *float64 { return &v }

// Button returns a pointer to v, for building patches.
func Button(v bool) *bool { return &v }

// Clamp limits v to [-1, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
