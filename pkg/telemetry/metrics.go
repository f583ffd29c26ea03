// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/tempo/pkg/errors"
)

// MeterName is the instrumentation scope of Tempo metrics.
const MeterName = "tempo/arbiter"

// ArbiterMetrics records per-tick selection metrics. A nil *ArbiterMetrics is
// valid and records nothing.
type ArbiterMetrics struct {
	// tickDuration tracks wall time spent in one arbiter tick
	tickDuration metric.Float64Histogram

	// switchCounter tracks changes of the intention in control
	switchCounter metric.Int64Counter

	// scoreFaultCounter tracks score evaluations replaced by 0
	scoreFaultCounter metric.Int64Counter

	// actionFaultCounter tracks fatal action and hook failures
	actionFaultCounter metric.Int64Counter

	// currentScoreGauge tracks the weighted score of the intention in control
	currentScoreGauge metric.Float64Gauge

	// breakerStateGauge tracks audit circuit breaker state (0=open, 1=half-open, 2=closed)
	breakerStateGauge metric.Int64Gauge
}

// NewArbiterMetrics creates arbiter metrics on the global meter provider.
func NewArbiterMetrics(ctx context.Context) (*ArbiterMetrics, error) {
	return NewArbiterMetricsFromMeter(otel.Meter(MeterName))
}

// NewArbiterMetricsFromMeter creates arbiter metrics on meter.
func NewArbiterMetricsFromMeter(meter metric.Meter) (*ArbiterMetrics, error) {
	tickDuration, err := meter.Float64Histogram(
		"tempo.tick.duration",
		metric.WithDescription("Wall time spent in one arbiter tick"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	switchCounter, err := meter.Int64Counter(
		"tempo.arbiter.switches",
		metric.WithDescription("Changes of the intention in control"),
	)
	if err != nil {
		return nil, err
	}

	scoreFaultCounter, err := meter.Int64Counter(
		"tempo.arbiter.score_faults",
		metric.WithDescription("Score evaluations that failed and were replaced by 0"),
	)
	if err != nil {
		return nil, err
	}

	actionFaultCounter, err := meter.Int64Counter(
		"tempo.action.faults",
		metric.WithDescription("Fatal action failures by intention and code"),
	)
	if err != nil {
		return nil, err
	}

	currentScoreGauge, err := meter.Float64Gauge(
		"tempo.arbiter.current_score",
		metric.WithDescription("Weighted score of the intention in control"),
	)
	if err != nil {
		return nil, err
	}

	breakerStateGauge, err := meter.Int64Gauge(
		"tempo.audit.breaker.state",
		metric.WithDescription("Audit circuit breaker state (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &ArbiterMetrics{
		tickDuration:       tickDuration,
		switchCounter:      switchCounter,
		scoreFaultCounter:  scoreFaultCounter,
		actionFaultCounter: actionFaultCounter,
		currentScoreGauge:  currentScoreGauge,
		breakerStateGauge:  breakerStateGauge,
	}, nil
}

// RecordTick records the duration of one tick.
func (am *ArbiterMetrics) RecordTick(ctx context.Context, d time.Duration) {
	if am == nil {
		return
	}
	am.tickDuration.Record(ctx, float64(d)/float64(time.Millisecond))
}

// RecordSwitch counts a change of the intention in control.
func (am *ArbiterMetrics) RecordSwitch(ctx context.Context, from, to string) {
	if am == nil {
		return
	}
	am.switchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrSwitchFrom, from),
			attribute.String(AttrSwitchTo, to),
		),
	)
}

// RecordScoreFault counts a failed score evaluation.
func (am *ArbiterMetrics) RecordScoreFault(ctx context.Context, intention string, err error) {
	if am == nil {
		return
	}
	am.scoreFaultCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrIntentionName, intention),
			attribute.String(AttrErrorCode, codeOf(err)),
		),
	)
}

// RecordActionFault counts a fatal action failure.
func (am *ArbiterMetrics) RecordActionFault(ctx context.Context, intention string, err error) {
	if am == nil || err == nil {
		return
	}
	am.actionFaultCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrIntentionName, intention),
			attribute.String(AttrErrorCode, codeOf(err)),
		),
	)
}

// RecordCurrentScore records the weighted score of the intention in control.
func (am *ArbiterMetrics) RecordCurrentScore(ctx context.Context, intention string, score float64) {
	if am == nil {
		return
	}
	am.currentScoreGauge.Record(ctx, score,
		metric.WithAttributes(
			attribute.String(AttrIntentionName, intention),
		),
	)
}

// RecordBreakerState records the audit circuit breaker state (0=open, 1=half-open, 2=closed).
func (am *ArbiterMetrics) RecordBreakerState(ctx context.Context, component string, state int64) {
	if am == nil {
		return
	}
	am.breakerStateGauge.Record(ctx, state,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}

func codeOf(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "UNKNOWN"
}
