// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package intention defines high-level goals that compete for control.
//
// An Intention pairs a Behavior (how desirable the goal is and what to do when
// idle) with at most one owned action.Machine. The arbiter decides which
// intention is active; only the active one is ticked.
package intention

import (
	"fmt"
	"math"
	"strings"

	"github.com/jllopis/tempo/pkg/action"
	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/world"
)

// Behavior is implemented by every concrete intention.
type Behavior interface {
	// Score rates how desirable the intention is right now. Scores from all
	// intentions are compared directly, so they share one scale. Score must
	// not change any state.
	Score(f *world.Frame) (float64, error)
	// Run is called on every tick in which the intention has no action.
	// It typically starts one with DoAction.
	Run(f *world.Frame, in *Intention)
}

// Enterer is implemented by behaviors that react to activation.
type Enterer interface {
	Enter(f *world.Frame, in *Intention)
}

// Leaver is implemented by behaviors that react to deactivation.
type Leaver interface {
	Leave(f *world.Frame, in *Intention)
}

// Monitor is implemented by behaviors that supervise their running action.
// It runs every tick after the action advanced and may cancel it.
type Monitor interface {
	Monitor(f *world.Frame, in *Intention, m *action.Machine)
}

// Funcs adapts plain functions to Behavior, Enterer, Leaver and Monitor.
// Nil fields are skipped; a nil ScoreFunc scores 0.
type Funcs struct {
	ScoreFunc   func(f *world.Frame) (float64, error)
	RunFunc     func(f *world.Frame, in *Intention)
	EnterFunc   func(f *world.Frame, in *Intention)
	LeaveFunc   func(f *world.Frame, in *Intention)
	MonitorFunc func(f *world.Frame, in *Intention, m *action.Machine)
}

// Score calls ScoreFunc.
func (fs Funcs) Score(f *world.Frame) (float64, error) {
	if fs.ScoreFunc == nil {
		return 0, nil
	}
	return fs.ScoreFunc(f)
}

// Run calls RunFunc.
func (fs Funcs) Run(f *world.Frame, in *Intention) {
	if fs.RunFunc != nil {
		fs.RunFunc(f, in)
	}
}

// Enter calls EnterFunc.
func (fs Funcs) Enter(f *world.Frame, in *Intention) {
	if fs.EnterFunc != nil {
		fs.EnterFunc(f, in)
	}
}

// Leave calls LeaveFunc.
func (fs Funcs) Leave(f *world.Frame, in *Intention) {
	if fs.LeaveFunc != nil {
		fs.LeaveFunc(f, in)
	}
}

// Monitor calls MonitorFunc.
func (fs Funcs) Monitor(f *world.Frame, in *Intention, m *action.Machine) {
	if fs.MonitorFunc != nil {
		fs.MonitorFunc(f, in, m)
	}
}

// Intention is a named goal with its currently owned action.
type Intention struct {
	name     string
	behavior Behavior
	action   *action.Machine
	status   string
}

// New creates an intention.
func New(name string, b Behavior) *Intention {
	return &Intention{name: name, behavior: b}
}

// Name returns the intention's unique name.
func (in *Intention) Name() string { return in.name }

// Behavior returns the wrapped behavior.
func (in *Intention) Behavior() Behavior { return in.behavior }

// Action returns the owned action, or nil.
func (in *Intention) Action() *action.Machine { return in.action }

// Status returns the intention's diagnostic text.
func (in *Intention) Status() string { return in.status }

// SetStatus sets the intention's diagnostic text.
func (in *Intention) SetStatus(s string) { in.status = s }

// Busy reports whether the owned action chain must not be preempted.
func (in *Intention) Busy() bool {
	return in.action != nil && in.action.Busy()
}

// DoAction starts m as the owned action. An unfinished action already in
// progress is a programming error and is left untouched.
func (in *Intention) DoAction(m *action.Machine) error {
	if m == nil {
		return errors.New(errors.CodeInvalidInput, "action is nil", nil).
			WithContext("intention", in.name)
	}
	if in.action != nil && !in.action.Done() {
		return errors.New(errors.CodeDuplicateDelegation, "an action is already in progress", nil).
			WithContext("intention", in.name).
			WithContext("active", in.action.Name()).
			WithContext("requested", m.Name())
	}
	in.action = m
	return nil
}

// CancelAction discards the owned action whether or not it is interruptible.
// It reports the discarded action, or nil when there was none.
func (in *Intention) CancelAction() *action.Machine {
	m := in.action
	in.action = nil
	return m
}

// Tick runs one tick of the intention: a finished action is released after a
// last Advance that drains any unreported failure, otherwise it advances and the behavior's Monitor sees it. Run is called
// whenever no action remains. The returned error is the fatal failure of the
// action, or a panic raised by the behavior.
func (in *Intention) Tick(f *world.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeStepPanic, fmt.Sprintf("intention %s panicked: %v", in.name, r), err).
				WithContext("intention", in.name).
				WithRecoverable(false)
		}
	}()

	if m := in.action; m != nil {
		if m.Done() {
			// A machine that failed before it ever ran still owes its error
			// and WhenDone.
			_, err = m.Advance(f)
			in.action = nil
		} else {
			_, err = m.Advance(f)
			if mon, ok := in.behavior.(Monitor); ok {
				mon.Monitor(f, in, m)
			}
		}
	}
	if in.action == nil {
		in.behavior.Run(f, in)
	}
	return err
}

// Score evaluates the behavior. Errors, panics and non-finite results are
// returned as SCORE_FAULT errors together with a score of 0.
func (in *Intention) Score(f *world.Frame) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			score = 0
			err = errors.New(errors.CodeScoreFault, fmt.Sprintf("score of %s panicked: %v", in.name, r), nil).
				WithContext("intention", in.name)
		}
	}()

	score, err = in.behavior.Score(f)
	if err != nil {
		return 0, errors.New(errors.CodeScoreFault, fmt.Sprintf("score of %s failed", in.name), err).
			WithContext("intention", in.name)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, errors.New(errors.CodeScoreFault, fmt.Sprintf("score of %s is not finite", in.name), nil).
			WithContext("intention", in.name).
			WithAttribute("score", fmt.Sprint(score))
	}
	return score, nil
}

// Enter fires the behavior's activation hook.
func (in *Intention) Enter(f *world.Frame) error {
	e, ok := in.behavior.(Enterer)
	if !ok {
		return nil
	}
	return in.guard("enter", func() { e.Enter(f, in) })
}

// Leave fires the behavior's deactivation hook.
func (in *Intention) Leave(f *world.Frame) error {
	l, ok := in.behavior.(Leaver)
	if !ok {
		return nil
	}
	return in.guard("leave", func() { l.Leave(f, in) })
}

func (in *Intention) guard(phase string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeStepPanic, fmt.Sprintf("intention %s panicked in %s: %v", in.name, phase, r), nil).
				WithContext("intention", in.name).
				WithAttribute("phase", phase)
		}
	}()
	fn()
	return nil
}

func (in *Intention) String() string {
	var b strings.Builder
	b.WriteString(in.name)
	if in.status != "" {
		fmt.Fprintf(&b, " [%s]", in.status)
	}
	if in.action != nil {
		fmt.Fprintf(&b, " %s", in.action)
	}
	return b.String()
}
