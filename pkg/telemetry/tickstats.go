// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"log/slog"
)

// DefaultStatsInterval is the number of samples between two tick reports.
const DefaultStatsInterval = 100

// TickReport is a periodic summary produced by TickStats.
type TickReport struct {
	Name string
	Unit string
	// Samples counted so far, excluding startup samples.
	Samples int
	// Average over all counted samples.
	Average float64
	// IntervalAverage over the last Interval samples.
	IntervalAverage float64
	Interval        int
}

// TickStats keeps a running average of a per-tick measurement and logs a
// report every interval samples. The first startup samples are ignored so
// warm-up ticks do not skew the averages.
type TickStats struct {
	name     string
	unit     string
	interval int
	startup  int
	logger   *slog.Logger

	samples       int
	totalAll      float64
	totalInterval float64
}

// NewTickStats creates a TickStats. A non-positive interval falls back to
// DefaultStatsInterval; a nil logger disables the log line.
func NewTickStats(name, unit string, interval, startup int, logger *slog.Logger) *TickStats {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if startup < 0 {
		startup = 0
	}
	return &TickStats{
		name:     name,
		unit:     unit,
		interval: interval,
		startup:  startup,
		logger:   logger,
	}
}

// Update adds one sample. It returns a report when the sample completes an
// interval.
func (s *TickStats) Update(ctx context.Context, sample float64) (TickReport, bool) {
	if s.startup > 0 {
		s.startup--
		return TickReport{}, false
	}
	s.samples++
	s.totalAll += sample
	s.totalInterval += sample
	if s.samples%s.interval != 0 {
		return TickReport{}, false
	}

	report := TickReport{
		Name:            s.name,
		Unit:            s.unit,
		Samples:         s.samples,
		Average:         s.totalAll / float64(s.samples),
		IntervalAverage: s.totalInterval / float64(s.interval),
		Interval:        s.interval,
	}
	s.totalInterval = 0
	if s.logger != nil {
		s.logger.InfoContext(ctx, "telemetry.tick_stats",
			slog.String("name", report.Name),
			slog.String("unit", report.Unit),
			slog.Int("samples", report.Samples),
			slog.Float64("avg", report.Average),
			slog.Int("interval", report.Interval),
			slog.Float64("interval_avg", report.IntervalAverage),
		)
	}
	return report, true
}

// Samples returns the number of counted samples.
func (s *TickStats) Samples() int { return s.samples }
