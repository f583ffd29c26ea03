// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/tempo/pkg/action"
	"github.com/jllopis/tempo/pkg/control"
	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/maneuver"
	"github.com/jllopis/tempo/pkg/world"
)

// DefaultTickRate is the simulated tick rate when a fixture sets none.
const DefaultTickRate = 120

// NoSelection is the expectation value for "no intention in control".
const NoSelection = "none"

// Maneuver kinds accepted in fixtures.
const (
	KindSequence  = "sequence"
	KindFrontFlip = "front_flip"
	KindIdle      = "idle"
	KindChain     = "chain"
)

// Fixture is a scripted match: intentions with scripted scores, a timeline of
// frames and the selections expected along the way.
type Fixture struct {
	Description     string        `yaml:"description" json:"description"`
	TickRate        float64       `yaml:"tick_rate,omitempty" json:"tick_rate,omitempty"`
	SwitchThreshold *float64      `yaml:"switch_threshold,omitempty" json:"switch_threshold,omitempty"`
	Intentions      []Intention   `yaml:"intentions" json:"intentions"`
	Frames          []Frame       `yaml:"frames" json:"frames"`
	Expect          []Expectation `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Intention scripts one competing intention.
type Intention struct {
	Name string `yaml:"name" json:"name"`
	// Weight defaults to 1.
	Weight *float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
	// Score is a constant score. Exactly one of Score and Fact is set.
	Score *float64 `yaml:"score,omitempty" json:"score,omitempty"`
	// Fact names the frame fact read as score, multiplied by Scale.
	Fact  string   `yaml:"fact,omitempty" json:"fact,omitempty"`
	Scale *float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	// Fault names a fact that makes scoring fail while it is non-zero.
	Fault string `yaml:"fault,omitempty" json:"fault,omitempty"`
	// OnEnter is played once per activation. The intention idles afterwards.
	OnEnter *Maneuver `yaml:"on_enter,omitempty" json:"on_enter,omitempty"`
}

// Maneuver describes a maneuver to build from the maneuver package.
type Maneuver struct {
	Kind          string     `yaml:"kind,omitempty" json:"kind,omitempty"`
	Name          string     `yaml:"name,omitempty" json:"name,omitempty"`
	Phases        []Phase    `yaml:"phases,omitempty" json:"phases,omitempty"`
	Interruptible bool       `yaml:"interruptible,omitempty" json:"interruptible,omitempty"`
	Steps         []Maneuver `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Phase is a fixture form of maneuver.Phase.
type Phase struct {
	control.Patch `yaml:",inline"`
	Ticks         int `yaml:"ticks,omitempty" json:"ticks,omitempty"`
	Ms            int `yaml:"ms,omitempty" json:"ms,omitempty"`
}

// Frame is one or more consecutive snapshots.
type Frame struct {
	// Tick defaults to the previous tick plus one.
	Tick uint64 `yaml:"tick,omitempty" json:"tick,omitempty"`
	// Time defaults to Tick / TickRate.
	Time    *float64 `yaml:"time,omitempty" json:"time,omitempty"`
	Kickoff bool     `yaml:"kickoff,omitempty" json:"kickoff,omitempty"`
	// Facts are merged over the facts of earlier frames.
	Facts Facts `yaml:"facts,omitempty" json:"facts,omitempty"`
	// Repeat emits the frame this many times on consecutive ticks.
	Repeat int `yaml:"repeat,omitempty" json:"repeat,omitempty"`
}

// Expectation names the intention that must be in control after a tick.
type Expectation struct {
	Tick    uint64 `yaml:"tick" json:"tick"`
	Current string `yaml:"current" json:"current"`
}

// Facts is the snapshot data seen by scripted intentions.
type Facts map[string]float64

// LoadFixture reads and parses a YAML fixture file. Unknown fields are
// rejected.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeInvalidInput
		if os.IsNotExist(err) {
			code = errors.CodeNotFound
		}
		return nil, errors.New(code, fmt.Sprintf("read fixture %s", path), err).
			WithContext("path", path)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, errors.New(errors.CodeOf(err), fmt.Sprintf("parse fixture %s", path), err).
			WithContext("path", path)
	}
	return f, nil
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.New(errors.CodeInvalidInput, "decode fixture", err)
	}
	return &f, nil
}

func (f *Fixture) tickRate() float64 {
	if f.TickRate > 0 {
		return f.TickRate
	}
	return DefaultTickRate
}

// Validate checks the fixture for mistakes that would make a replay
// meaningless.
func (f *Fixture) Validate() error {
	if f.TickRate < 0 {
		return invalid("tick_rate must not be negative")
	}
	if f.SwitchThreshold != nil && *f.SwitchThreshold < 0 {
		return invalid("switch_threshold must not be negative")
	}
	if len(f.Intentions) == 0 {
		return invalid("fixture has no intentions")
	}
	names := make(map[string]bool, len(f.Intentions))
	for i, in := range f.Intentions {
		if err := in.validate(); err != nil {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("intention %d", i), err).
				WithContext("intention", in.Name)
		}
		if names[in.Name] {
			return invalid(fmt.Sprintf("duplicate intention %q", in.Name))
		}
		names[in.Name] = true
	}

	snaps, err := f.Snapshots()
	if err != nil {
		return err
	}
	ticks := make(map[uint64]bool, len(snaps))
	for _, s := range snaps {
		ticks[s.Tick] = true
	}
	for _, e := range f.Expect {
		if !ticks[e.Tick] {
			return invalid(fmt.Sprintf("expectation for tick %d has no frame", e.Tick))
		}
		if c := e.current(); c != "" && !names[c] {
			return invalid(fmt.Sprintf("expectation for tick %d names unknown intention %q", e.Tick, e.Current))
		}
	}
	return nil
}

func (in Intention) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name is required")
	}
	if in.Name == NoSelection {
		return invalid(fmt.Sprintf("%q is reserved", NoSelection))
	}
	if (in.Score == nil) == (in.Fact == "") {
		return invalid("exactly one of score and fact is required")
	}
	if in.Weight != nil && *in.Weight < 0 {
		return invalid("weight must not be negative")
	}
	if in.OnEnter != nil {
		if _, err := in.OnEnter.Build(); err != nil {
			return err
		}
	}
	return nil
}

func (in Intention) weight() float64 {
	if in.Weight == nil {
		return 1
	}
	return *in.Weight
}

func (in Intention) scale() float64 {
	if in.Scale == nil {
		return 1
	}
	return *in.Scale
}

func (e Expectation) current() string {
	if e.Current == NoSelection {
		return ""
	}
	return e.Current
}

// Snapshots expands the frame timeline into one snapshot per tick.
func (f *Fixture) Snapshots() ([]world.Snapshot, error) {
	if len(f.Frames) == 0 {
		return nil, invalid("fixture has no frames")
	}
	rate := f.tickRate()
	facts := Facts{}
	var (
		out  []world.Snapshot
		last uint64
	)
	for i, fr := range f.Frames {
		if fr.Repeat < 0 {
			return nil, invalid(fmt.Sprintf("frame %d: repeat must not be negative", i))
		}
		tick := fr.Tick
		if tick == 0 {
			tick = last + 1
		}
		if tick <= last {
			return nil, invalid(fmt.Sprintf("frame %d: tick %d does not advance past %d", i, tick, last))
		}
		for k, v := range fr.Facts {
			facts[k] = v
		}

		n := max(fr.Repeat, 1)
		for r := range n {
			t := float64(tick) / rate
			if fr.Time != nil {
				t = *fr.Time + float64(r)/rate
			}
			out = append(out, world.Snapshot{
				Tick:         tick,
				Time:         t,
				KickoffPause: fr.Kickoff,
				Data:         cloneFacts(facts),
			})
			last = tick
			tick++
		}
	}
	return out, nil
}

// Build creates the described machine.
func (m Maneuver) Build() (*action.Machine, error) {
	switch m.Kind {
	case "", KindSequence:
		phases := make([]maneuver.Phase, len(m.Phases))
		for i, p := range m.Phases {
			phases[i] = maneuver.Phase{Patch: p.Patch, Ticks: p.Ticks, Ms: p.Ms}
		}
		return maneuver.Sequence(m.name(KindSequence), phases, m.Interruptible)
	case KindFrontFlip:
		return maneuver.FrontFlip(grounded), nil
	case KindIdle:
		return maneuver.Idle(), nil
	case KindChain:
		members := make([]*action.Machine, 0, len(m.Steps))
		for _, step := range m.Steps {
			sub, err := step.Build()
			if err != nil {
				return nil, err
			}
			members = append(members, sub)
		}
		return maneuver.Chain(m.name(KindChain), members...)
	default:
		return nil, invalid(fmt.Sprintf("unknown maneuver kind %q", m.Kind))
	}
}

func (m Maneuver) name(fallback string) string {
	if m.Name != "" {
		return m.Name
	}
	return fallback
}

// grounded reads the "grounded" fact. A missing fact counts as grounded.
func grounded(f *world.Frame) bool {
	facts, _ := world.DataAs[Facts](f)
	v, ok := facts["grounded"]
	return !ok || v != 0
}

func cloneFacts(src Facts) Facts {
	out := make(Facts, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func invalid(msg string) error {
	return errors.New(errors.CodeInvalidInput, msg, nil)
}
