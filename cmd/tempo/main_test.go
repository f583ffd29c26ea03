// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/tempo/pkg/audit"
	"github.com/jllopis/tempo/pkg/config"
	"github.com/jllopis/tempo/pkg/control"
	"github.com/jllopis/tempo/pkg/replay"
	"github.com/jllopis/tempo/pkg/telemetry"
)

var kickoffFixture = filepath.Join("..", "..", "pkg", "replay", "testdata", "kickoff.yaml")

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantConfig []string
		wantJSON   bool
		wantRest   []string
		wantErr    bool
	}{
		{name: "command only", args: []string{"replay", "--fixture", "x"}, wantRest: []string{"replay", "--fixture", "x"}},
		{name: "json", args: []string{"--json", "version"}, wantJSON: true, wantRest: []string{"version"}},
		{
			name:       "config flags",
			args:       []string{"--config", "tempo.yaml", "--set=arbiter.switch_threshold=0.1", "validate"},
			wantConfig: []string{"--config", "tempo.yaml", "--set=arbiter.switch_threshold=0.1"},
			wantRest:   []string{"validate"},
		},
		{name: "double dash", args: []string{"--", "--json"}, wantRest: []string{"--json"}},
		{name: "missing value", args: []string{"--profile"}, wantErr: true},
		{name: "unknown", args: []string{"--verbose", "replay"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, rest, err := parseGlobalFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(flags.ConfigArgs, tt.wantConfig) {
				t.Errorf("config args: got %v, want %v", flags.ConfigArgs, tt.wantConfig)
			}
			if flags.JSON != tt.wantJSON {
				t.Errorf("json: got %v, want %v", flags.JSON, tt.wantJSON)
			}
			if !reflect.DeepEqual(rest, tt.wantRest) {
				t.Errorf("rest: got %v, want %v", rest, tt.wantRest)
			}
		})
	}

	flags, _, err := parseGlobalFlags([]string{"-h", "replay"})
	if err != nil || !flags.Help {
		t.Fatalf("expected help, got %+v, %v", flags, err)
	}
}

func TestParseReplayFlags(t *testing.T) {
	rf, err := parseReplayFlags([]string{"--fixture", "a.yaml", "--pace", "16ms", "--watch", "--run-id", "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rf.Fixture != "a.yaml" || rf.Pace != "16ms" || !rf.Watch || rf.RunID != "r1" {
		t.Errorf("unexpected flags: %+v", rf)
	}

	rf, err = parseReplayFlags([]string{"b.yaml"})
	if err != nil || rf.Fixture != "b.yaml" {
		t.Errorf("positional fixture: got %+v, %v", rf, err)
	}
	if _, err := parseReplayFlags(nil); err == nil {
		t.Error("expected an error without a fixture")
	}
}

func TestParsePace(t *testing.T) {
	if d, err := parsePace(""); err != nil || d != 0 {
		t.Errorf("empty pace: got %v, %v", d, err)
	}
	if d, err := parsePace("16ms"); err != nil || d != 16*time.Millisecond {
		t.Errorf("16ms: got %v, %v", d, err)
	}
	if _, err := parsePace("-1s"); err == nil {
		t.Error("negative pace should fail")
	}
	if _, err := parsePace("fast"); err == nil {
		t.Error("invalid pace should fail")
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf, false)
	if got := buf.String(); got != "tempo "+version+"\n" {
		t.Errorf("unexpected version line %q", got)
	}

	buf.Reset()
	printVersion(&buf, true)
	var payload map[string]string
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["version"] != version {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestPrintReport(t *testing.T) {
	f, err := replay.LoadFixture(kickoffFixture)
	if err != nil {
		t.Fatalf("LoadFixture failed: %v", err)
	}
	report, err := replay.Run(context.Background(), f, replay.Options{RunID: "run-1", Logger: telemetry.DiscardLogger()})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()
	for _, want := range []string{
		"TICK",
		"EXPECT",
		"shoot *",
		"thr=1.00",
		"Summary: 12 frames, 4 switches, 1 resets, 1 score faults, 0 action faults, final recover",
		"Expectations: 8 total, 8 match, 0 diverge (run run-1)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report is missing %q:\n%s", want, out)
		}
	}
}

func TestExpectCell(t *testing.T) {
	want, yes, no := "", true, false
	if got := expectCell(replay.Result{}); got != "" {
		t.Errorf("no expectation: got %q", got)
	}
	if got := expectCell(replay.Result{Expected: &want, Match: &yes}); got != "ok" {
		t.Errorf("met: got %q", got)
	}
	if got := expectCell(replay.Result{Expected: &want, Match: &no}); got != "want "+replay.NoSelection {
		t.Errorf("unmet: got %q", got)
	}
}

func TestControlsCell(t *testing.T) {
	if got := controlsCell(control.Controls{}); got != "neutral" {
		t.Errorf("neutral: got %q", got)
	}
	c := control.Controls{Throttle: 1, Pitch: -1, Jump: true}
	if got := controlsCell(c); got != "thr=1.00 p=-1.00 jump" {
		t.Errorf("unexpected cell %q", got)
	}
}

func TestValidateFixture(t *testing.T) {
	check, f := validateFixture(kickoffFixture)
	if check.Status != "ok" || f == nil {
		t.Fatalf("expected ok, got %+v", check)
	}
	if !strings.Contains(check.Message, "3 intention(s), 12 tick(s), 8 expectation(s)") {
		t.Errorf("unexpected message %q", check.Message)
	}

	if check, _ := validateFixture(""); check.Status != "skip" {
		t.Errorf("expected skip, got %+v", check)
	}
	if check, _ := validateFixture(filepath.Join(t.TempDir(), "missing.yaml")); check.Status != "error" {
		t.Errorf("expected error, got %+v", check)
	}
}

func TestValidateWeights(t *testing.T) {
	f := &replay.Fixture{Intentions: []replay.Intention{{Name: "defend"}, {Name: "shoot"}}}

	cfg := &config.Config{Weights: map[string]float64{"shoot": 1.2}}
	if check := validateWeights(cfg, f); check.Status != "ok" {
		t.Errorf("expected ok, got %+v", check)
	}

	cfg.Weights["save"] = 0.5
	cfg.Weights["demo"] = 0.5
	check := validateWeights(cfg, f)
	if check.Status != "warn" || check.Message != "no intention named demo, save" {
		t.Errorf("expected warning for unknown names, got %+v", check)
	}
}

func TestValidateArbiter(t *testing.T) {
	cfg := &config.Config{Arbiter: config.ArbiterConfig{SwitchThreshold: 0.1}}
	if check := validateArbiter(cfg); check.Status != "ok" {
		t.Errorf("expected ok, got %+v", check)
	}
	cfg.Weights = map[string]float64{"shoot": -1}
	if check := validateArbiter(cfg); check.Status != "error" {
		t.Errorf("expected error for a negative weight, got %+v", check)
	}
}

func TestValidateAudit(t *testing.T) {
	ctx := context.Background()
	if check := validateAudit(ctx, &config.Config{}, ""); check.Status != "skip" {
		t.Errorf("expected skip, got %+v", check)
	}
	if check := validateAudit(ctx, nil, "memory"); check.Status != "ok" {
		t.Errorf("expected ok for memory, got %+v", check)
	}
	path := filepath.Join(t.TempDir(), "audit.db")
	if check := validateAudit(ctx, nil, "sqlite:"+path); check.Status != "ok" {
		t.Errorf("expected ok for sqlite, got %+v", check)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		statuses []string
		want     string
	}{
		{statuses: []string{"ok", "skip"}, want: "ok"},
		{statuses: []string{"ok", "warn", "skip"}, want: "warn"},
		{statuses: []string{"warn", "error", "ok"}, want: "error"},
	}
	for _, tt := range tests {
		checks := make([]checkResult, len(tt.statuses))
		for i, s := range tt.statuses {
			checks[i] = checkResult{Status: s}
		}
		if got := overallStatus(checks); got != tt.want {
			t.Errorf("%v: got %s, want %s", tt.statuses, got, tt.want)
		}
	}
}

func TestPrintValidateResult(t *testing.T) {
	result := validateResult{
		Config:  checkResult{Name: "config", Status: "ok"},
		Arbiter: checkResult{Name: "arbiter", Status: "ok", Message: "switch threshold 0.050"},
		Fixture: checkResult{Name: "fixture", Status: "error", Message: "boom"},
		Weights: checkResult{Name: "weights", Status: "skip"},
		Audit:   checkResult{Name: "audit", Status: "warn"},
		Overall: "error",
	}
	var buf bytes.Buffer
	printValidateResult(&buf, result)
	out := buf.String()
	for _, want := range []string{"✓ config", "✗ fixture", "○ weights", "⚠ audit", "✗ Validation failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestAuditTarget(t *testing.T) {
	if _, _, ok := auditTarget("", &config.Config{}); ok {
		t.Error("auditing should be off by default")
	}
	driver, dsn, ok := auditTarget("sqlite:/tmp/a.db", nil)
	if !ok || driver != audit.DriverSQLite || dsn != "/tmp/a.db" {
		t.Errorf("flag target: got %s %s %v", driver, dsn, ok)
	}
	cfg := &config.Config{Audit: config.AuditConfig{Enabled: true, Driver: "sqlite", DSN: "b.db"}}
	driver, dsn, ok = auditTarget("", cfg)
	if !ok || driver != "sqlite" || dsn != "b.db" {
		t.Errorf("config target: got %s %s %v", driver, dsn, ok)
	}
}

func TestAuditFilter(t *testing.T) {
	f, err := auditFilter("run-1", "Switch", "shoot", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := audit.Filter{SessionID: "run-1", Kind: audit.KindSwitch, Intention: "shoot", Limit: 10}
	if f != want {
		t.Errorf("got %+v, want %+v", f, want)
	}
	if _, err := auditFilter("", "teleport", "", 0); err == nil {
		t.Error("unknown kind should fail")
	}
	if _, err := auditFilter("", "", "", -1); err == nil {
		t.Error("negative limit should fail")
	}
}

func TestPrintEvents(t *testing.T) {
	events := []audit.Event{
		{SessionID: "run-1", Tick: 4, Time: 0.0625, Kind: audit.KindSwitch, From: "defend", To: "shoot", Score: 0.56,
			Detail: map[string]any{"threshold": 0.05, "previous_score": 0.5}},
		{SessionID: "run-1", Tick: 10, Kind: audit.KindReset, From: "shoot"},
	}
	var buf bytes.Buffer
	printEvents(&buf, events)
	out := buf.String()
	for _, want := range []string{"SESSION", "switch", "previous_score=0.5 threshold=0.05", "reset", "2 event(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestCLIErrorPrint(t *testing.T) {
	ce := NewInvalidArgumentError("--pace", "bad duration")

	var buf bytes.Buffer
	ce.PrintError(&buf, false)
	out := buf.String()
	if !strings.Contains(out, "Error [Invalid Input]") || !strings.Contains(out, "Hint: run 'tempo help'") {
		t.Errorf("unexpected text error:\n%s", out)
	}

	buf.Reset()
	if code := reportError(&buf, ce, true); code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
	var payload map[string]map[string]string
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload["error"]["code"] != "INVALID_INPUT" || payload["error"]["hint"] == "" {
		t.Errorf("unexpected payload %v", payload)
	}
}
