// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package action implements resumable, tick-driven step machines.
//
// A Machine represents one maneuver. Each tick its owner calls Advance, which
// runs exactly one logical step: the body of the current step, a paused tick,
// or one tick of an attached sub-machine. Steps move the machine along with
// Transition; the new step runs from the next Advance on, so statements after
// a Transition call still execute in the current tick.
//
// Suspension never blocks. A machine paused by tick count or by clock simply
// calls its WhenPaused hook on each Advance until the pause has elapsed.
package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/world"
)

// StepID identifies one step of a machine.
type StepID int

// StepFunc is the body of a step, run once per tick while the step is active
// and the machine is neither paused nor delegating.
type StepFunc func(f *world.Frame)

// Steps is the fixed step table of a machine, built once when the machine is
// constructed.
type Steps map[StepID]StepFunc

// Validate checks that the table is non-empty and that every listed id, when
// given, has a body.
func (s Steps) Validate(ids ...StepID) error {
	if len(s) == 0 {
		return errors.New(errors.CodeInvalidInput, "step table is empty", nil)
	}
	for id, body := range s {
		if body == nil {
			return undefinedStep("", id)
		}
	}
	for _, id := range ids {
		if s[id] == nil {
			return undefinedStep("", id)
		}
	}
	return nil
}

// HookFunc observes or steers a machine around its steps.
type HookFunc func(f *world.Frame)

// Hooks are optional callbacks fired by Advance.
type Hooks struct {
	// Before runs every tick before the current step or sub-machine.
	Before HookFunc
	// After runs every tick after the current step or sub-machine.
	After HookFunc
	// WhenPaused runs instead of the current step while a pause is pending.
	WhenPaused HookFunc
	// WhenDone runs once, at the end of the tick in which the machine finished.
	WhenDone HookFunc
}

// State is the outcome of an Advance call.
type State int

const (
	// StateRunning means the current step body ran.
	StateRunning State = iota
	// StatePaused means the machine is waiting on a tick count or the clock.
	StatePaused
	// StateDelegated means a sub-machine is attached.
	StateDelegated
	// StateDone means the machine has finished and will not run again.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDelegated:
		return "delegated"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Option configures a Machine at construction.
type Option func(*Machine)

// WithInterruptible marks the machine as safe to preempt. Machines are not
// interruptible unless this option is given.
func WithInterruptible() Option {
	return func(m *Machine) {
		m.interruptible = true
	}
}

// WithFirstStep sets the step the machine starts at. The default is 0.
func WithFirstStep(id StepID) Option {
	return func(m *Machine) {
		m.current = id
	}
}

// WithHooks installs the machine's hooks.
func WithHooks(h Hooks) Option {
	return func(m *Machine) {
		m.hooks = h
	}
}

// Machine is a resumable step machine. It owns at most one sub-machine.
type Machine struct {
	name          string
	steps         Steps
	hooks         Hooks
	interruptible bool

	current StepID
	body    StepFunc

	done      bool
	doneFired bool

	countdown int
	wakeTime  float64
	now       float64

	// clocked is set by the first Advance. Until then a timed pause is kept
	// in sleepFor and anchored to that first frame's clock.
	clocked  bool
	sleepFor float64

	sub          *Machine
	doneAfterSub bool

	status  string
	failure error
	pending error
}

// New builds a machine over steps. If the first step has no body the machine
// is returned already failed, exactly as if it had transitioned there.
func New(name string, steps Steps, opts ...Option) *Machine {
	m := &Machine{name: name, steps: steps}
	for _, opt := range opts {
		opt(m)
	}
	if body := m.steps[m.current]; body != nil {
		m.body = body
	} else {
		m.fail(undefinedStep(m.name, m.current))
	}
	return m
}

// Name returns the machine's name.
func (m *Machine) Name() string { return m.name }

// Current returns the step about to run.
func (m *Machine) Current() StepID { return m.current }

// Done reports whether the machine has finished.
func (m *Machine) Done() bool { return m.done }

// Interruptible reports the machine's own static flag. See Busy for the
// property that accounts for sub-machines.
func (m *Machine) Interruptible() bool { return m.interruptible }

// Sub returns the attached sub-machine, if any.
func (m *Machine) Sub() *Machine { return m.sub }

// Status returns the machine's diagnostic text.
func (m *Machine) Status() string { return m.status }

// SetStatus sets the machine's diagnostic text.
func (m *Machine) SetStatus(s string) { m.status = s }

// Err returns the fatal error that stopped the machine, if any.
func (m *Machine) Err() error { return m.failure }

// Countdown returns the number of paused ticks still pending.
func (m *Machine) Countdown() int { return m.countdown }

// WakeTime returns the clock value before which the machine stays paused. A
// timed pause requested before the first Advance has no wake time until then.
func (m *Machine) WakeTime() float64 { return m.wakeTime }

// Finish marks the machine done. WhenDone fires at the end of the current
// Advance, or on the next one when called from outside a tick.
func (m *Machine) Finish() { m.done = true }

// Busy reports whether the active chain must not be preempted: the machine
// itself is unfinished and not interruptible, or any sub-machine below it is
// busy.
func (m *Machine) Busy() bool {
	if m == nil {
		return false
	}
	return (!m.interruptible && !m.done) || (m.sub != nil && m.sub.Busy())
}

// Advance runs one tick of the machine. The returned error is non-nil only on
// the tick in which the machine, or a sub-machine below it, failed fatally.
func (m *Machine) Advance(f *world.Frame) (State, error) {
	if f == nil {
		f = world.NewFrame(world.Snapshot{Time: m.now}, nil)
	}
	m.now = f.Time
	if !m.clocked {
		m.clocked = true
		if m.sleepFor > 0 {
			m.wakeTime = m.now + m.sleepFor
			m.sleepFor = 0
		}
	}

	if m.done {
		m.fireDone(f)
		return StateDone, m.takePending()
	}

	switch {
	case m.sub != nil:
		sub := m.sub
		if m.invoke(m.hooks.Before, f, "before") {
			if _, err := sub.Advance(f); err != nil {
				m.report(errors.New(errors.CodeOf(err), fmt.Sprintf("sub-machine of %s failed", m.name), err).
					WithRecoverable(false))
			}
			m.invoke(m.hooks.After, f, "after")
		}
		if sub.done && m.sub == sub {
			m.sub = nil
			if m.doneAfterSub {
				m.done = true
			}
		}
	case m.now < m.wakeTime:
		m.invoke(m.hooks.WhenPaused, f, "when_paused")
	case m.countdown > 0:
		m.invoke(m.hooks.WhenPaused, f, "when_paused")
		m.countdown--
	default:
		if m.invoke(m.hooks.Before, f, "before") && m.invoke(m.body, f, fmt.Sprintf("step %d", m.current)) {
			m.invoke(m.hooks.After, f, "after")
		}
	}

	if m.done {
		m.fireDone(f)
	}
	return m.State(), m.takePending()
}

// State reports what the next Advance will do.
func (m *Machine) State() State {
	switch {
	case m.done:
		return StateDone
	case m.sub != nil:
		return StateDelegated
	case m.now < m.wakeTime || m.countdown > 0 || m.sleepFor > 0:
		return StatePaused
	default:
		return StateRunning
	}
}

// Transition moves execution to step id starting next tick.
func (m *Machine) Transition(id StepID) error {
	return m.transition(id, 0, 0)
}

// TransitionTicks moves to step id after pausing for the given number of
// ticks.
func (m *Machine) TransitionTicks(id StepID, ticks int) error {
	return m.transition(id, ticks, 0)
}

// TransitionAfter moves to step id once the clock has advanced by d. Pauses
// shorter than one frame have no effect. The pause is measured from the clock
// of the frame being advanced; on a machine that has not been advanced yet it
// starts at its first Advance.
func (m *Machine) TransitionAfter(id StepID, d time.Duration) error {
	return m.transition(id, 0, d)
}

func (m *Machine) transition(id StepID, ticks int, d time.Duration) error {
	m.current = id
	m.Sleep(ticks, d)
	body := m.steps[id]
	if body == nil {
		m.body = nil
		err := undefinedStep(m.name, id)
		m.fail(err)
		return err
	}
	m.body = body
	return nil
}

// Sleep pauses the machine. A positive duration sets the wake time and
// cancels any tick countdown; otherwise the countdown is raised to ticks if
// that is longer than what remains.
func (m *Machine) Sleep(ticks int, d time.Duration) {
	if ticks > m.countdown {
		m.countdown = ticks
	}
	if d > 0 {
		m.countdown = 0
		if !m.clocked {
			m.sleepFor = d.Seconds()
			return
		}
		m.wakeTime = m.now + d.Seconds()
	}
}

// Wake cancels any pause in progress.
func (m *Machine) Wake() {
	m.countdown = 0
	m.wakeTime = 0
	m.sleepFor = 0
}

// DelegateOption configures Delegate.
type DelegateOption func(*delegation)

type delegation struct {
	resume    *StepID
	finishing bool
}

// ResumeAt transitions the delegating machine to id, so execution picks up
// there once the sub-machine is done.
func ResumeAt(id StepID) DelegateOption {
	return func(d *delegation) {
		d.resume = &id
	}
}

// FinishWithSub marks the delegating machine done as soon as the sub-machine
// finishes.
func FinishWithSub() DelegateOption {
	return func(d *delegation) {
		d.finishing = true
	}
}

// Delegate attaches sub as the machine's exclusive sub-machine. Before and
// After keep running around it every tick. Only one sub-machine may be
// attached at a time; a second call while one is active is a programming
// error that stops this machine.
func (m *Machine) Delegate(sub *Machine, opts ...DelegateOption) error {
	if sub == nil {
		return errors.New(errors.CodeInvalidInput, "sub-machine is nil", nil).
			WithContext("machine", m.name)
	}
	if m.sub != nil {
		err := errors.New(errors.CodeDuplicateDelegation, "a sub-machine is already in progress", nil).
			WithContext("machine", m.name).
			WithContext("active", m.sub.name).
			WithContext("requested", sub.name)
		m.fail(err)
		return err
	}
	var d delegation
	for _, opt := range opts {
		opt(&d)
	}
	m.sub = sub
	m.doneAfterSub = d.finishing
	if d.resume != nil {
		return m.Transition(*d.resume)
	}
	return nil
}

// Chain returns the names of this machine and every sub-machine below it.
func (m *Machine) Chain() []string {
	var names []string
	for cur := m; cur != nil; cur = cur.sub {
		names = append(names, cur.name)
	}
	return names
}

func (m *Machine) String() string {
	if m == nil {
		return "<nil>"
	}
	if m.done {
		return m.name + ": DONE"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d", m.name, m.current)
	if m.status != "" {
		fmt.Fprintf(&b, " [%s]", m.status)
	}
	if m.sub != nil {
		fmt.Fprintf(&b, " -> %s", m.sub)
	}
	return b.String()
}

// invoke runs fn, converting a panic into a fatal error. It reports whether
// the caller may continue with the rest of the tick.
func (m *Machine) invoke(fn func(*world.Frame), f *world.Frame, phase string) (ok bool) {
	if fn == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			m.fail(errors.New(errors.CodeStepPanic, fmt.Sprintf("%s panicked in %s", m.name, phase), fmt.Errorf("%v", r)).
				WithContext("machine", m.name).
				WithContext("step", int(m.current)).
				WithAttribute("phase", phase))
			ok = false
		}
	}()
	fn(f)
	return !m.done || m.failure == nil
}

func (m *Machine) fireDone(f *world.Frame) {
	if m.doneFired {
		return
	}
	m.doneFired = true
	m.invoke(m.hooks.WhenDone, f, "when_done")
}

// fail stops the machine with a fatal error. The first failure wins.
func (m *Machine) fail(err error) {
	m.done = true
	if m.failure == nil {
		m.failure = err
	}
	m.report(err)
}

func (m *Machine) report(err error) {
	if m.pending == nil {
		m.pending = err
	}
}

func (m *Machine) takePending() error {
	err := m.pending
	m.pending = nil
	return err
}

func undefinedStep(machine string, id StepID) *errors.Error {
	return errors.New(errors.CodeUndefinedStep, fmt.Sprintf("step %d is not defined", id), nil).
		WithContext("machine", machine).
		WithContext("step", int(id))
}
