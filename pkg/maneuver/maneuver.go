// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package maneuver provides ready-made action machines: an idle filler, timed
// control sequences, a front flip and a chain combinator.
//
// Maneuvers only write controls. They hold no physics and no steering law;
// callers decide when a maneuver applies.
package maneuver

import (
	"fmt"
	"time"

	"github.com/jllopis/tempo/pkg/action"
	"github.com/jllopis/tempo/pkg/control"
	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/world"
)

// Front flip timings.
const (
	FlipReleaseDelay = 200 * time.Millisecond
	FlipPitchDelay   = 24 * time.Millisecond
	FlipJumpHold     = 24 * time.Millisecond
)

// Idle returns an interruptible machine that keeps the controls neutral and
// never finishes.
func Idle() *action.Machine {
	return action.New("idle", action.Steps{
		0: func(f *world.Frame) { f.Controls.Reset() },
	}, action.WithInterruptible())
}

// Phase is one segment of a Sequence. The patch is applied when the phase
// starts and held for Ticks ticks, or for Ms milliseconds of game time when
// Ms is set. A phase always lasts at least one tick.
type Phase struct {
	Patch control.Patch
	Ticks int
	Ms    int
}

func (p Phase) String() string {
	switch {
	case p.Ms > 0:
		return fmt.Sprintf("%dms", p.Ms)
	case p.Ticks > 1:
		return fmt.Sprintf("%d ticks", p.Ticks)
	default:
		return "1 tick"
	}
}

// Sequence returns a machine that plays phases in order and finishes on the
// tick after the last one ends.
func Sequence(name string, phases []Phase, interruptible bool) (*action.Machine, error) {
	if len(phases) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "sequence has no phases", nil).
			WithContext("maneuver", name)
	}
	for i, p := range phases {
		if p.Ticks < 0 || p.Ms < 0 {
			return nil, errors.New(errors.CodeInvalidInput, "phase duration must not be negative", nil).
				WithContext("maneuver", name).
				WithContext("phase", i)
		}
	}

	var (
		m    *action.Machine
		held *control.Patch
	)
	steps := make(action.Steps, len(phases)+1)
	for i, p := range phases {
		steps[action.StepID(i)] = func(f *world.Frame) {
			f.Controls.Apply(p.Patch)
			held = &phases[i].Patch
			m.SetStatus(fmt.Sprintf("phase %d/%d (%s)", i+1, len(phases), p))

			next := action.StepID(i + 1)
			var err error
			switch {
			case p.Ms > 0:
				err = m.TransitionAfter(next, time.Duration(p.Ms)*time.Millisecond)
			case p.Ticks > 1:
				err = m.TransitionTicks(next, p.Ticks-1)
			default:
				err = m.Transition(next)
			}
			recordFailure(m, err)
		}
	}
	steps[action.StepID(len(phases))] = func(*world.Frame) {
		held = nil
		m.Finish()
	}

	opts := []action.Option{action.WithHooks(action.Hooks{
		WhenPaused: func(f *world.Frame) {
			if held != nil {
				f.Controls.Apply(*held)
			}
		},
	})}
	if interruptible {
		opts = append(opts, action.WithInterruptible())
	}
	m = action.New(name, steps, opts...)
	return m, nil
}

// Front flip steps.
const (
	flipWaitGround action.StepID = iota
	flipJump
	flipPitch
	flipSecondJump
	flipDone
)

// FrontFlip returns a non-interruptible front flip. It waits until grounded
// reports wheel contact, holds jump until airborne, releases for
// FlipReleaseDelay, pitches forward and then jumps again with the nose down.
func FrontFlip(grounded func(*world.Frame) bool) *action.Machine {
	var (
		m    *action.Machine
		held control.Patch
	)
	forward := control.Patch{Pitch: control.Axis(-1)}
	forwardJump := control.Patch{Pitch: control.Axis(-1), Jump: control.Button(true)}

	m = action.New("front_flip", action.Steps{
		flipWaitGround: func(f *world.Frame) {
			m.SetStatus("waiting for ground")
			if grounded(f) {
				recordFailure(m, m.Transition(flipJump))
			}
		},
		flipJump: func(f *world.Frame) {
			if grounded(f) {
				m.SetStatus("jumping")
				f.Controls.Jump = true
				return
			}
			m.SetStatus("released")
			held = control.Patch{}
			recordFailure(m, m.TransitionAfter(flipPitch, FlipReleaseDelay))
		},
		flipPitch: func(f *world.Frame) {
			m.SetStatus("pitching")
			held = forward
			f.Controls.Apply(held)
			recordFailure(m, m.TransitionAfter(flipSecondJump, FlipPitchDelay))
		},
		flipSecondJump: func(f *world.Frame) {
			m.SetStatus("flipping")
			held = forwardJump
			f.Controls.Apply(held)
			recordFailure(m, m.TransitionAfter(flipDone, FlipJumpHold))
		},
		flipDone: func(*world.Frame) {
			held = control.Patch{}
			m.Finish()
		},
	}, action.WithHooks(action.Hooks{
		WhenPaused: func(f *world.Frame) { f.Controls.Apply(held) },
	}))
	return m
}

// Chain returns an interruptible machine that delegates to each member in
// turn and finishes together with the last one. Busy follows the active
// member, so the chain may be preempted between members.
func Chain(name string, members ...*action.Machine) (*action.Machine, error) {
	if len(members) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "chain has no members", nil).
			WithContext("maneuver", name)
	}
	for i, sub := range members {
		if sub == nil {
			return nil, errors.New(errors.CodeInvalidInput, "chain member is nil", nil).
				WithContext("maneuver", name).
				WithContext("member", i)
		}
	}

	var m *action.Machine
	steps := make(action.Steps, len(members))
	for i, sub := range members {
		steps[action.StepID(i)] = func(*world.Frame) {
			m.SetStatus(fmt.Sprintf("%d/%d %s", i+1, len(members), sub.Name()))
			if i == len(members)-1 {
				recordFailure(m, m.Delegate(sub, action.FinishWithSub()))
				return
			}
			recordFailure(m, m.Delegate(sub, action.ResumeAt(action.StepID(i+1))))
		}
	}
	m = action.New(name, steps, action.WithInterruptible())
	return m, nil
}

// recordFailure notes a failed transition or delegation in m's status. The
// machine has already stopped and Advance returns err.
func recordFailure(m *action.Machine, err error) {
	if err != nil {
		m.SetStatus("halted: " + string(errors.CodeOf(err)))
	}
}
