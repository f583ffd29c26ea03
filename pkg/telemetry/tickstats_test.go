// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestTickStatsSkipsStartup(t *testing.T) {
	stats := NewTickStats("tick", "ms", 2, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, ok := stats.Update(ctx, 1000); ok {
			t.Fatal("startup sample produced a report")
		}
	}
	if stats.Samples() != 0 {
		t.Fatalf("Samples() = %d, want 0 after startup", stats.Samples())
	}

	if _, ok := stats.Update(ctx, 2); ok {
		t.Fatal("report before interval completed")
	}
	report, ok := stats.Update(ctx, 4)
	if !ok {
		t.Fatal("expected a report after two samples")
	}
	if report.Average != 3 || report.IntervalAverage != 3 || report.Samples != 2 {
		t.Errorf("report = %+v, want averages of 3 over 2 samples", report)
	}
}

func TestTickStatsIntervalAverageResets(t *testing.T) {
	stats := NewTickStats("tick", "ms", 2, 0, nil)
	ctx := context.Background()

	stats.Update(ctx, 1)
	stats.Update(ctx, 3)
	stats.Update(ctx, 10)
	report, ok := stats.Update(ctx, 10)
	if !ok {
		t.Fatal("expected a report")
	}
	if report.IntervalAverage != 10 {
		t.Errorf("IntervalAverage = %v, want 10", report.IntervalAverage)
	}
	if report.Average != 6 {
		t.Errorf("Average = %v, want 6", report.Average)
	}
}

func TestTickStatsDefaultsAndLogging(t *testing.T) {
	var buf bytes.Buffer
	stats := NewTickStats("tick", "ms", 0, -1, NewLogger(&buf, "info", "text"))
	ctx := context.Background()

	for i := 0; i < DefaultStatsInterval; i++ {
		stats.Update(ctx, 1)
	}
	out := buf.String()
	if !strings.Contains(out, "telemetry.tick_stats") {
		t.Fatalf("missing report log line: %q", out)
	}
	if strings.Count(out, "telemetry.tick_stats") != 1 {
		t.Errorf("expected exactly one report: %q", out)
	}
}
