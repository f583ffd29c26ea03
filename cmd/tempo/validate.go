// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jllopis/tempo/pkg/arbiter"
	"github.com/jllopis/tempo/pkg/audit"
	"github.com/jllopis/tempo/pkg/config"
	"github.com/jllopis/tempo/pkg/replay"
)

type validateResult struct {
	Config  checkResult `json:"config"`
	Arbiter checkResult `json:"arbiter"`
	Fixture checkResult `json:"fixture"`
	Weights checkResult `json:"weights"`
	Audit   checkResult `json:"audit"`
	Overall string      `json:"overall"`
}

type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warn", "error", "skip"
	Message string `json:"message,omitempty"`
}

func (r validateResult) checks() []checkResult {
	return []checkResult{r.Config, r.Arbiter, r.Fixture, r.Weights, r.Audit}
}

func runValidate(ctx context.Context, global globalFlags, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fixturePath := fs.String("fixture", "", "Fixture YAML file")
	auditFlag := fs.String("audit", "", "Audit target to check")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return reportError(os.Stderr, NewInvalidArgumentError("validate", err.Error()), global.JSON)
	}
	if *fixturePath == "" && fs.NArg() > 0 {
		*fixturePath = fs.Arg(0)
	}

	result := buildValidateResult(ctx, global, *fixturePath, *auditFlag)
	if global.JSON || *asJSON {
		writeJSON(os.Stdout, result)
	} else {
		printValidateResult(os.Stdout, result)
	}
	if result.Overall == "error" {
		return 1
	}
	return 0
}

func buildValidateResult(ctx context.Context, global globalFlags, fixturePath, auditFlag string) validateResult {
	var result validateResult

	_, cfg, err := loadConfig(global)
	if err != nil {
		result.Config = checkResult{Name: "config", Status: "error", Message: fmt.Sprintf("failed to load: %v", err)}
	} else {
		result.Config = checkResult{Name: "config", Status: "ok"}
	}

	if cfg != nil {
		result.Arbiter = validateArbiter(cfg)
	} else {
		result.Arbiter = checkResult{Name: "arbiter", Status: "skip", Message: "config not loaded"}
	}

	var fixture *replay.Fixture
	result.Fixture, fixture = validateFixture(fixturePath)

	switch {
	case cfg == nil:
		result.Weights = checkResult{Name: "weights", Status: "skip", Message: "config not loaded"}
	case fixture == nil:
		result.Weights = checkResult{Name: "weights", Status: "skip", Message: "no fixture"}
	default:
		result.Weights = validateWeights(cfg, fixture)
	}

	result.Audit = validateAudit(ctx, cfg, auditFlag)
	result.Overall = overallStatus(result.checks())
	return result
}

func validateArbiter(cfg *config.Config) checkResult {
	settings := arbiter.SettingsFromConfig(cfg)
	if err := settings.Validate(); err != nil {
		return checkResult{Name: "arbiter", Status: "error", Message: err.Error()}
	}
	return checkResult{
		Name:   "arbiter",
		Status: "ok",
		Message: fmt.Sprintf("switch threshold %.3f, reset on kickoff %t, %d weight override(s)",
			settings.SwitchThreshold, settings.ResetOnKickoff, len(settings.Weights)),
	}
}

func validateFixture(path string) (checkResult, *replay.Fixture) {
	if path == "" {
		return checkResult{Name: "fixture", Status: "skip", Message: "no --fixture given"}, nil
	}
	f, err := replay.LoadFixture(path)
	if err != nil {
		return checkResult{Name: "fixture", Status: "error", Message: err.Error()}, nil
	}
	if err := f.Validate(); err != nil {
		return checkResult{Name: "fixture", Status: "error", Message: err.Error()}, nil
	}
	snaps, err := f.Snapshots()
	if err != nil {
		return checkResult{Name: "fixture", Status: "error", Message: err.Error()}, nil
	}
	msg := fmt.Sprintf("%d intention(s), %d tick(s), %d expectation(s)", len(f.Intentions), len(snaps), len(f.Expect))
	if len(f.Expect) == 0 {
		return checkResult{Name: "fixture", Status: "warn", Message: msg + "; nothing to compare"}, f
	}
	return checkResult{Name: "fixture", Status: "ok", Message: msg}, f
}

// validateWeights warns about configured weights that name no intention of
// the fixture.
func validateWeights(cfg *config.Config, f *replay.Fixture) checkResult {
	known := make(map[string]bool, len(f.Intentions))
	for _, in := range f.Intentions {
		known[in.Name] = true
	}
	var unknown []string
	for name := range cfg.Weights {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return checkResult{
			Name:    "weights",
			Status:  "warn",
			Message: "no intention named " + strings.Join(unknown, ", "),
		}
	}
	return checkResult{Name: "weights", Status: "ok", Message: fmt.Sprintf("%d override(s)", len(cfg.Weights))}
}

func validateAudit(ctx context.Context, cfg *config.Config, flagValue string) checkResult {
	driver, dsn, ok := auditTarget(flagValue, cfg)
	if !ok {
		return checkResult{Name: "audit", Status: "skip", Message: "auditing disabled"}
	}
	store, closeFn, err := audit.Open(ctx, driver, dsn)
	if err != nil {
		return checkResult{Name: "audit", Status: "error", Message: err.Error()}
	}
	defer closeFn()
	if _, err := store.List(ctx, audit.Filter{Limit: 1}); err != nil {
		return checkResult{Name: "audit", Status: "error", Message: err.Error()}
	}
	msg := driver
	if dsn != "" {
		msg += " (" + dsn + ")"
	}
	return checkResult{Name: "audit", Status: "ok", Message: msg}
}

func overallStatus(checks []checkResult) string {
	overall := "ok"
	for _, c := range checks {
		switch c.Status {
		case "error":
			return "error"
		case "warn":
			overall = "warn"
		}
	}
	return overall
}

func printValidateResult(w io.Writer, result validateResult) {
	fmt.Fprintln(w, "Tempo Validation Report")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w)
	for _, c := range result.checks() {
		printCheck(w, c)
	}
	fmt.Fprintln(w)
	switch result.Overall {
	case "ok":
		fmt.Fprintln(w, "✓ All checks passed")
	case "warn":
		fmt.Fprintln(w, "⚠ Passed with warnings")
	default:
		fmt.Fprintln(w, "✗ Validation failed")
	}
}

func printCheck(w io.Writer, c checkResult) {
	icon := statusIcon(c.Status)
	if c.Message != "" {
		fmt.Fprintf(w, "  %s %-10s %s\n", icon, c.Name, c.Message)
		return
	}
	fmt.Fprintf(w, "  %s %s\n", icon, c.Name)
}

func statusIcon(status string) string {
	switch status {
	case "ok":
		return "✓"
	case "warn":
		return "⚠"
	case "error":
		return "✗"
	case "skip":
		return "○"
	default:
		return "?"
	}
}
