// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay drives the arbiter through a scripted fixture, without a
// game process, and compares the selections against expectations.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/tempo/pkg/arbiter"
	"github.com/jllopis/tempo/pkg/audit"
	"github.com/jllopis/tempo/pkg/control"
	"github.com/jllopis/tempo/pkg/errors"
	"github.com/jllopis/tempo/pkg/intention"
	"github.com/jllopis/tempo/pkg/telemetry"
	"github.com/jllopis/tempo/pkg/world"
)

// TracerName is the instrumentation scope of replay spans.
const TracerName = "tempo/replay"

// Options configure a replay run.
type Options struct {
	// RunID identifies the run in logs, spans and audit events. Defaults to a
	// random UUID.
	RunID string
	// Settings seed the arbiter. A fixture switch_threshold replaces the
	// threshold given here.
	Settings *arbiter.Settings
	Logger   *slog.Logger
	Metrics  *telemetry.ArbiterMetrics
	// Store additionally receives every audit event of the run.
	Store audit.Store
	Stats *telemetry.TickStats
	// Pace waits this long between ticks. Zero replays as fast as possible.
	Pace time.Duration
}

// Result is the outcome of one tick.
type Result struct {
	Tick     uint64           `json:"tick"`
	Time     float64          `json:"time"`
	Kickoff  bool             `json:"kickoff,omitempty"`
	Current  string           `json:"current"`
	Score    float64          `json:"score"`
	Busy     bool             `json:"busy"`
	Action   string           `json:"action,omitempty"`
	Controls control.Controls `json:"controls"`
	Switched bool             `json:"switched,omitempty"`
	Faults   int              `json:"faults,omitempty"`
	Expected *string          `json:"expected,omitempty"`
	Match    *bool            `json:"match,omitempty"`
}

// Mismatch is an expectation the replay did not meet.
type Mismatch struct {
	Tick uint64 `json:"tick"`
	Want string `json:"want"`
	Got  string `json:"got"`
}

// Summary aggregates a replay run.
type Summary struct {
	RunID        string     `json:"run_id"`
	Description  string     `json:"description,omitempty"`
	Frames       int        `json:"frames"`
	Switches     int        `json:"switches"`
	Resets       int        `json:"resets"`
	ScoreFaults  int        `json:"score_faults"`
	ActionFaults int        `json:"action_faults"`
	Expectations int        `json:"expectations"`
	Mismatches   []Mismatch `json:"mismatches,omitempty"`
	Final        string     `json:"final"`
}

// Passed reports whether every expectation was met.
func (s Summary) Passed() bool { return len(s.Mismatches) == 0 }

// Report is the full outcome of a replay.
type Report struct {
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

// Runner replays one fixture.
type Runner struct {
	fixture *Fixture
	opts    Options
	arb     *arbiter.Arbiter
	events  *audit.MemoryStore
	snaps   []world.Snapshot
}

// NewRunner validates f and prepares an arbiter with its intentions.
func NewRunner(f *Fixture, opts Options) (*Runner, error) {
	if f == nil {
		return nil, invalid("fixture is nil")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	snaps, err := f.Snapshots()
	if err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	settings := arbiter.SettingsFromConfig(nil)
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	if f.SwitchThreshold != nil {
		settings.SwitchThreshold = *f.SwitchThreshold
	}

	events := audit.NewMemoryStore()
	var store audit.Store = events
	if opts.Store != nil {
		store = teeStore{events, opts.Store}
	}

	arb, err := arbiter.New(
		arbiter.WithSettings(settings),
		arbiter.WithSessionID(opts.RunID),
		arbiter.WithLogger(opts.Logger),
		arbiter.WithMetrics(opts.Metrics),
		arbiter.WithAuditStore(store),
		arbiter.WithTickStats(opts.Stats),
	)
	if err != nil {
		return nil, err
	}
	for _, def := range f.Intentions {
		in := intention.New(def.Name, &scripted{def: def})
		if err := arb.Register(in, def.weight()); err != nil {
			return nil, err
		}
	}

	return &Runner{fixture: f, opts: opts, arb: arb, events: events, snaps: snaps}, nil
}

// Arbiter returns the arbiter driven by the runner, for live reconfiguration.
func (r *Runner) Arbiter() *arbiter.Arbiter { return r.arb }

// RunID returns the run identifier.
func (r *Runner) RunID() string { return r.opts.RunID }

// Run replays every frame. It stops early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "Replay.Run")
	defer span.End()
	span.SetAttributes(telemetry.ReplayAttributes(r.opts.RunID, r.fixture.Description, len(r.snaps))...)

	log := r.opts.Logger
	log.InfoContext(ctx, "replay.start",
		slog.String("run_id", r.opts.RunID),
		slog.String("description", r.fixture.Description),
		slog.Int("frames", len(r.snaps)),
		slog.Int("intentions", len(r.fixture.Intentions)),
	)

	results := make([]Result, 0, len(r.snaps))
	prev := ""
	for i, snap := range r.snaps {
		if i > 0 && r.opts.Pace > 0 {
			if err := wait(ctx, r.opts.Pace); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "replay canceled")
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.CodeCanceled, "replay canceled", err)
		}

		controls := r.arb.Tick(ctx, snap)
		res := Result{
			Tick:     snap.Tick,
			Time:     snap.Time,
			Kickoff:  snap.KickoffPause,
			Score:    r.arb.CurrentScore(),
			Controls: controls,
		}
		if in := r.arb.Current(); in != nil {
			res.Current = in.Name()
			res.Busy = in.Busy()
			if m := in.Action(); m != nil {
				res.Action = m.String()
			}
		}
		res.Switched = res.Current != prev
		prev = res.Current
		results = append(results, res)
	}

	report, err := r.summarize(ctx, results)
	if err != nil {
		return nil, err
	}
	s := report.Summary
	log.InfoContext(ctx, "replay.done",
		slog.String("run_id", s.RunID),
		slog.Int("frames", s.Frames),
		slog.Int("switches", s.Switches),
		slog.Int("score_faults", s.ScoreFaults),
		slog.Int("action_faults", s.ActionFaults),
		slog.Int("mismatches", len(s.Mismatches)),
	)
	if !s.Passed() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d expectation(s) not met", len(s.Mismatches)))
	}
	return report, nil
}

func (r *Runner) summarize(ctx context.Context, results []Result) (*Report, error) {
	events, err := r.events.List(ctx, audit.Filter{SessionID: r.opts.RunID})
	if err != nil {
		return nil, err
	}

	s := Summary{
		RunID:        r.opts.RunID,
		Description:  r.fixture.Description,
		Frames:       len(results),
		Expectations: len(r.fixture.Expect),
	}
	faults := make(map[uint64]int)
	for _, ev := range events {
		switch ev.Kind {
		case audit.KindSwitch:
			s.Switches++
		case audit.KindReset:
			s.Resets++
		case audit.KindScoreFault:
			s.ScoreFaults++
			faults[ev.Tick]++
		case audit.KindActionFault:
			s.ActionFaults++
			faults[ev.Tick]++
		}
	}

	byTick := make(map[uint64]int, len(results))
	for i := range results {
		results[i].Faults = faults[results[i].Tick]
		byTick[results[i].Tick] = i
	}
	for _, e := range r.fixture.Expect {
		i, ok := byTick[e.Tick]
		if !ok {
			continue
		}
		want := e.current()
		got := results[i].Current
		match := want == got
		results[i].Expected = &want
		results[i].Match = &match
		if !match {
			s.Mismatches = append(s.Mismatches, Mismatch{Tick: e.Tick, Want: display(want), Got: display(got)})
		}
	}
	if n := len(results); n > 0 {
		s.Final = display(results[n-1].Current)
	}
	return &Report{Summary: s, Results: results}, nil
}

// Run replays f with opts.
func Run(ctx context.Context, f *Fixture, opts Options) (*Report, error) {
	r, err := NewRunner(f, opts)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

func display(name string) string {
	if name == "" {
		return NoSelection
	}
	return name
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.New(errors.CodeCanceled, "replay canceled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// teeStore records into a primary store and best-effort into a secondary one.
type teeStore struct {
	primary   audit.Store
	secondary audit.Store
}

func (t teeStore) Record(ctx context.Context, ev audit.Event) error {
	if err := t.primary.Record(ctx, ev); err != nil {
		return err
	}
	return t.secondary.Record(ctx, ev)
}

func (t teeStore) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	return t.primary.List(ctx, filter)
}
