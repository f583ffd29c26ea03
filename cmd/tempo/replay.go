// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/tempo/pkg/arbiter"
	"github.com/jllopis/tempo/pkg/config"
	"github.com/jllopis/tempo/pkg/control"
	"github.com/jllopis/tempo/pkg/replay"
)

type replayFlags struct {
	Fixture string
	Audit   string
	RunID   string
	Pace    string
	Watch   bool
	JSON    bool
}

func parseReplayFlags(args []string) (replayFlags, error) {
	var rf replayFlags
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&rf.Fixture, "fixture", "", "Fixture YAML file")
	fs.StringVar(&rf.Audit, "audit", "", "Audit target (memory, sqlite:<path>)")
	fs.StringVar(&rf.RunID, "run-id", "", "Run identifier (default: random UUID)")
	fs.StringVar(&rf.Pace, "pace", "", "Wait between ticks, e.g. 16ms")
	fs.BoolVar(&rf.Watch, "watch", false, "Reload arbiter settings when the config file changes")
	fs.BoolVar(&rf.JSON, "json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return rf, err
	}
	if rf.Fixture == "" && fs.NArg() > 0 {
		rf.Fixture = fs.Arg(0)
	}
	if rf.Fixture == "" {
		return rf, fmt.Errorf("--fixture is required")
	}
	return rf, nil
}

func parsePace(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("pace must not be negative, got %s", value)
	}
	return d, nil
}

func runReplay(ctx context.Context, global globalFlags, args []string) int {
	rf, err := parseReplayFlags(args)
	asJSON := global.JSON || rf.JSON
	if err != nil {
		return reportError(os.Stderr, NewInvalidArgumentError("replay", err.Error()), asJSON)
	}
	pace, err := parsePace(rf.Pace)
	if err != nil {
		return reportError(os.Stderr, NewInvalidArgumentError("--pace", err.Error()), asJSON)
	}

	rt, err := setupRuntime(ctx, global)
	if err != nil {
		return reportError(os.Stderr, err, asJSON)
	}
	defer rt.Close(context.WithoutCancel(ctx))

	fixture, err := replay.LoadFixture(rf.Fixture)
	if err != nil {
		return reportError(os.Stderr, NewFixtureError(err, rf.Fixture), asJSON)
	}
	store, closeStore, err := rt.openAudit(ctx, rf.Audit)
	if err != nil {
		return reportError(os.Stderr, err, asJSON)
	}
	defer func() {
		if err := closeStore(); err != nil {
			rt.logger.WarnContext(ctx, "audit.close.failed", slog.String("error", err.Error()))
		}
	}()

	settings := arbiter.SettingsFromConfig(rt.cfg)
	runner, err := replay.NewRunner(fixture, replay.Options{
		RunID:    rf.RunID,
		Settings: &settings,
		Logger:   rt.logger,
		Metrics:  rt.metrics,
		Store:    store,
		Stats:    rt.stats,
		Pace:     pace,
	})
	if err != nil {
		return reportError(os.Stderr, NewFixtureError(err, rf.Fixture), asJSON)
	}

	if rf.Watch {
		stopWatch := watchSettings(ctx, rt, runner.Arbiter())
		defer stopWatch()
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return reportError(os.Stderr, err, asJSON)
	}
	if asJSON {
		writeJSON(os.Stdout, report)
	} else {
		printReport(os.Stdout, report)
	}
	if !report.Summary.Passed() {
		return 1
	}
	return 0
}

// watchSettings reconfigures arb whenever the configuration files change.
// Reloaded settings replace those of the fixture.
func watchSettings(ctx context.Context, rt *runtime, arb *arbiter.Arbiter) func() {
	if rt.opts.Path == "" {
		rt.logger.WarnContext(ctx, "config.watch.skipped", slog.String("reason", "no --config file"))
		return func() {}
	}
	watcher, err := config.NewWatcher(rt.opts, config.WithWatchLogger(rt.logger))
	if err != nil {
		rt.logger.WarnContext(ctx, "config.watch.failed", slog.String("error", err.Error()))
		return func() {}
	}
	watcher.OnChange(func(cfg *config.Config) {
		if err := arb.Reconfigure(arbiter.SettingsFromConfig(cfg)); err != nil {
			rt.logger.ErrorContext(ctx, "arbiter.reconfigure.failed", slog.String("error", err.Error()))
		}
	})
	watcher.Start(ctx)
	return watcher.Stop
}

func printReport(w io.Writer, report *replay.Report) {
	tw := newTabWriter(w)
	writeRow(tw, "TICK", "TIME", "CURRENT", "SCORE", "BUSY", "ACTION", "CONTROLS", "EXPECT")
	for _, r := range report.Results {
		current := r.Current
		if current == "" {
			current = replay.NoSelection
		}
		if r.Switched {
			current += " *"
		}
		if r.Faults > 0 {
			current += fmt.Sprintf(" !%d", r.Faults)
		}
		busy := ""
		if r.Busy {
			busy = "yes"
		}
		writeRow(tw,
			strconv.FormatUint(r.Tick, 10),
			fmt.Sprintf("%.3f", r.Time),
			current,
			fmt.Sprintf("%.3f", r.Score),
			busy,
			r.Action,
			controlsCell(r.Controls),
			expectCell(r),
		)
	}
	_ = tw.Flush()

	s := report.Summary
	met := s.Expectations - len(s.Mismatches)
	fmt.Fprintf(w, "\nSummary: %d frames, %d switches, %d resets, %d score faults, %d action faults, final %s\n",
		s.Frames, s.Switches, s.Resets, s.ScoreFaults, s.ActionFaults, s.Final)
	fmt.Fprintf(w, "Expectations: %d total, %d match, %d diverge (run %s)\n",
		s.Expectations, met, len(s.Mismatches), s.RunID)
}

func expectCell(r replay.Result) string {
	if r.Expected == nil {
		return ""
	}
	if r.Match != nil && *r.Match {
		return "ok"
	}
	want := *r.Expected
	if want == "" {
		want = replay.NoSelection
	}
	return "want " + want
}

// controlsCell lists the non-neutral outputs only.
func controlsCell(c control.Controls) string {
	if c.IsNeutral() {
		return "neutral"
	}
	var parts []string
	axis := func(name string, v float64) {
		if v != 0 {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, v))
		}
	}
	button := func(name string, v bool) {
		if v {
			parts = append(parts, name)
		}
	}
	axis("thr", c.Throttle)
	axis("str", c.Steer)
	axis("p", c.Pitch)
	axis("y", c.Yaw)
	axis("r", c.Roll)
	button("jump", c.Jump)
	button("boost", c.Boost)
	button("hb", c.Handbrake)
	button("item", c.UseItem)
	return strings.Join(parts, " ")
}
