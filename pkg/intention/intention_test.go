// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package intention

import (
	stderrors "errors"
	"math"
	"reflect"
	"testing"

	"github.com/jllopis/tempo/pkg/action"
	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/world"
)

func frame(tick uint64) *world.Frame {
	return world.NewFrame(world.Snapshot{Tick: tick, Time: float64(tick) / 60}, nil)
}

func noop(*world.Frame) {}

func TestTickRunsWhenIdle(t *testing.T) {
	runs := 0
	in := New("idle", Funcs{RunFunc: func(*world.Frame, *Intention) { runs++ }})

	for i := uint64(0); i < 3; i++ {
		if err := in.Tick(frame(i)); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}
	if runs != 3 {
		t.Errorf("runs = %d, want 3", runs)
	}
}

func TestRunSkippedWhileActionActive(t *testing.T) {
	var events []string
	m := action.New("hold", action.Steps{0: func(*world.Frame) { events = append(events, "step") }})
	in := New("goal", Funcs{RunFunc: func(_ *world.Frame, in *Intention) {
		events = append(events, "run")
		if in.Action() == nil {
			_ = in.DoAction(m)
		}
	}})

	in.Tick(frame(0))
	in.Tick(frame(1))
	in.Tick(frame(2))

	want := []string{"run", "step", "step"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestFinishedActionReleasedNextTick(t *testing.T) {
	var events []string
	var m *action.Machine
	m = action.New("once", action.Steps{0: func(*world.Frame) {
		events = append(events, "step")
		m.Finish()
	}})
	started := false
	in := New("goal", Funcs{RunFunc: func(_ *world.Frame, in *Intention) {
		events = append(events, "run")
		if !started {
			started = true
			_ = in.DoAction(m)
		}
	}})

	in.Tick(frame(0))
	in.Tick(frame(1))
	if in.Action() == nil {
		t.Fatal("action released in the tick it finished")
	}
	in.Tick(frame(2))
	if in.Action() != nil {
		t.Fatal("finished action not released")
	}

	want := []string{"run", "step", "run"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestCancelFreesRunNextTick(t *testing.T) {
	runs := 0
	in := New("goal", Funcs{RunFunc: func(_ *world.Frame, in *Intention) {
		runs++
		if runs == 1 {
			_ = in.DoAction(action.New("long", action.Steps{0: noop}))
		}
	}})

	in.Tick(frame(0))
	if !in.Busy() {
		t.Fatal("uninterruptible action should make the intention busy")
	}
	cancelled := in.CancelAction()
	if cancelled == nil || cancelled.Name() != "long" {
		t.Fatalf("CancelAction() = %v, want long", cancelled)
	}
	if in.Busy() {
		t.Error("intention still busy after cancel")
	}

	in.Tick(frame(1))
	if runs != 2 {
		t.Errorf("runs = %d, want 2 after cancel", runs)
	}
	if in.CancelAction() != nil {
		t.Error("second cancel should find nothing")
	}
}

func TestMonitorCanCancel(t *testing.T) {
	var events []string
	in := New("goal", Funcs{
		RunFunc: func(_ *world.Frame, in *Intention) {
			events = append(events, "run")
			if in.Action() == nil && len(events) == 1 {
				_ = in.DoAction(action.New("a", action.Steps{0: func(*world.Frame) { events = append(events, "step") }}))
			}
		},
		MonitorFunc: func(_ *world.Frame, in *Intention, m *action.Machine) {
			events = append(events, "monitor:"+m.Name())
			in.CancelAction()
		},
	})

	in.Tick(frame(0))
	in.Tick(frame(1))

	want := []string{"run", "step", "monitor:a", "run"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestBusyFollowsChain(t *testing.T) {
	in := New("goal", Funcs{})
	if in.Busy() {
		t.Fatal("no action should not be busy")
	}

	outer := action.New("outer", action.Steps{0: noop}, action.WithInterruptible())
	if err := in.DoAction(outer); err != nil {
		t.Fatalf("DoAction() error = %v", err)
	}
	if in.Busy() {
		t.Fatal("interruptible action should not be busy")
	}

	_ = outer.Delegate(action.New("inner", action.Steps{0: noop}))
	if !in.Busy() {
		t.Error("busy sub-machine should make the intention busy")
	}
}

func TestDoActionWhileActive(t *testing.T) {
	in := New("goal", Funcs{})
	first := action.New("first", action.Steps{0: noop})
	if err := in.DoAction(first); err != nil {
		t.Fatalf("DoAction() error = %v", err)
	}

	err := in.DoAction(action.New("second", action.Steps{0: noop}))
	if !errors.HasCode(err, errors.CodeDuplicateDelegation) {
		t.Fatalf("DoAction() error = %v, want DUPLICATE_DELEGATION", err)
	}
	if in.Action() != first {
		t.Error("active action replaced")
	}

	first.Finish()
	if err := in.DoAction(action.New("third", action.Steps{0: noop})); err != nil {
		t.Errorf("DoAction() over a finished action error = %v", err)
	}
	if err := in.DoAction(nil); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("DoAction(nil) error = %v", err)
	}
}

func TestTickSurfacesActionFailure(t *testing.T) {
	var m *action.Machine
	m = action.New("bad", action.Steps{0: func(*world.Frame) { _ = m.Transition(3) }})
	in := New("goal", Funcs{})
	_ = in.DoAction(m)

	if err := in.Tick(frame(0)); !errors.HasCode(err, errors.CodeUndefinedStep) {
		t.Fatalf("Tick() error = %v, want UNDEFINED_STEP", err)
	}
	if err := in.Tick(frame(1)); err != nil {
		t.Fatalf("Tick() error = %v after release", err)
	}
	if in.Action() != nil {
		t.Error("failed action should be released")
	}
}

func TestTickSurfacesFailureBeforeFirstAdvance(t *testing.T) {
	doneFired := 0
	m := action.New("broken", action.Steps{0: noop}, action.WithFirstStep(7),
		action.WithHooks(action.Hooks{WhenDone: func(*world.Frame) { doneFired++ }}))
	runs := 0
	in := New("goal", Funcs{RunFunc: func(*world.Frame, *Intention) { runs++ }})
	if err := in.DoAction(m); err != nil {
		t.Fatalf("DoAction() error = %v", err)
	}

	if err := in.Tick(frame(0)); !errors.HasCode(err, errors.CodeUndefinedStep) {
		t.Fatalf("Tick() error = %v, want UNDEFINED_STEP", err)
	}
	for i := uint64(1); i < 3; i++ {
		if err := in.Tick(frame(i)); err != nil {
			t.Fatalf("Tick(%d) error = %v after release", i, err)
		}
	}
	if doneFired != 1 {
		t.Errorf("WhenDone fired %d times, want 1", doneFired)
	}
	if in.Action() != nil || runs != 3 {
		t.Errorf("action = %v, runs = %d; want released and Run every tick", in.Action(), runs)
	}
}

func TestTickRecoversRunPanic(t *testing.T) {
	in := New("goal", Funcs{RunFunc: func(*world.Frame, *Intention) { panic("nope") }})
	if err := in.Tick(frame(0)); !errors.HasCode(err, errors.CodeStepPanic) {
		t.Fatalf("Tick() error = %v, want STEP_PANIC", err)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(*world.Frame) (float64, error)
		want  float64
		fault bool
	}{
		{name: "value", fn: func(*world.Frame) (float64, error) { return 0.75, nil }, want: 0.75},
		{name: "error", fn: func(*world.Frame) (float64, error) { return 0.9, stderrors.New("no ball") }, fault: true},
		{name: "panic", fn: func(*world.Frame) (float64, error) { panic("index out of range") }, fault: true},
		{name: "nan", fn: func(*world.Frame) (float64, error) { return math.NaN(), nil }, fault: true},
		{name: "inf", fn: func(*world.Frame) (float64, error) { return math.Inf(-1), nil }, fault: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := New(tt.name, Funcs{ScoreFunc: tt.fn})
			got, err := in.Score(frame(0))
			if tt.fault {
				if !errors.HasCode(err, errors.CodeScoreFault) {
					t.Fatalf("Score() error = %v, want SCORE_FAULT", err)
				}
				if !errors.As(err).Recoverable {
					t.Error("score faults should be recoverable")
				}
				if got != 0 {
					t.Errorf("Score() = %v, want 0 on fault", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

type plainBehavior struct{}

func (plainBehavior) Score(*world.Frame) (float64, error) { return 1, nil }
func (plainBehavior) Run(*world.Frame, *Intention)        {}

func TestEnterLeaveOptional(t *testing.T) {
	in := New("plain", plainBehavior{})
	if err := in.Enter(frame(0)); err != nil {
		t.Errorf("Enter() error = %v", err)
	}
	if err := in.Leave(frame(0)); err != nil {
		t.Errorf("Leave() error = %v", err)
	}

	var events []string
	hooked := New("hooked", Funcs{
		EnterFunc: func(*world.Frame, *Intention) { events = append(events, "enter") },
		LeaveFunc: func(*world.Frame, *Intention) { panic("leave failed") },
	})
	if err := hooked.Enter(frame(0)); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	if err := hooked.Leave(frame(0)); !errors.HasCode(err, errors.CodeStepPanic) {
		t.Errorf("Leave() error = %v, want STEP_PANIC", err)
	}
	if !reflect.DeepEqual(events, []string{"enter"}) {
		t.Errorf("events = %v", events)
	}
}

func TestString(t *testing.T) {
	in := New("shoot", Funcs{})
	in.SetStatus("lining up")
	_ = in.DoAction(action.New("drive", action.Steps{0: noop}))
	if got, want := in.String(), "shoot [lining up] drive:0"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
