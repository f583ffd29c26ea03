// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration, structured logging
// and tick timing for the Tempo runtime.
package telemetry

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/tempo/pkg/errors"
)

// Semantic conventions for Tempo telemetry.
const (
	// Session attributes
	AttrSessionID = "tempo.session.id"
	AttrTick      = "tempo.tick"
	AttrGameTime  = "tempo.time"
	AttrKickoff   = "tempo.kickoff"

	// Intention attributes
	AttrIntentionName   = "tempo.intention.name"
	AttrIntentionScore  = "tempo.intention.score"
	AttrIntentionWeight = "tempo.intention.weight"
	AttrIntentionBusy   = "tempo.intention.busy"
	AttrCandidates      = "tempo.intention.candidates"

	// Selection attributes
	AttrSwitchFrom      = "tempo.switch.from"
	AttrSwitchTo        = "tempo.switch.to"
	AttrSwitched        = "tempo.switch.happened"
	AttrSwitchThreshold = "tempo.switch.threshold"

	// Action attributes
	AttrActionName  = "tempo.action.name"
	AttrActionChain = "tempo.action.chain"
	AttrActionDepth = "tempo.action.depth"

	// Error attributes
	AttrErrorCode        = "error.code"
	AttrErrorRecoverable = "error.recoverable"

	// Replay attributes
	AttrReplayRunID   = "tempo.replay.run_id"
	AttrReplayFixture = "tempo.replay.fixture"
	AttrReplayFrames  = "tempo.replay.frames"
)

// TickAttributes returns common attributes for a tick span.
func TickAttributes(sessionID string, tick uint64, gameTime float64, kickoff bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(AttrTick, int64(tick)),
		attribute.Float64(AttrGameTime, gameTime),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	if kickoff {
		attrs = append(attrs, attribute.Bool(AttrKickoff, true))
	}
	return attrs
}

// IntentionAttributes returns attributes describing the intention in control.
func IntentionAttributes(name string, score, weight float64, busy bool) []attribute.KeyValue {
	if name == "" {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrIntentionName, name),
		attribute.Float64(AttrIntentionScore, score),
		attribute.Float64(AttrIntentionWeight, weight),
		attribute.Bool(AttrIntentionBusy, busy),
	}
}

// SwitchAttributes returns attributes for a selection decision.
func SwitchAttributes(from, to string, threshold float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrSwitched, from != to),
		attribute.Float64(AttrSwitchThreshold, threshold),
	}
	if from != "" {
		attrs = append(attrs, attribute.String(AttrSwitchFrom, from))
	}
	if to != "" {
		attrs = append(attrs, attribute.String(AttrSwitchTo, to))
	}
	return attrs
}

// ActionAttributes returns attributes for the active delegation chain.
func ActionAttributes(chain []string) []attribute.KeyValue {
	if len(chain) == 0 {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrActionName, chain[0]),
		attribute.String(AttrActionChain, strings.Join(chain, " > ")),
		attribute.Int(AttrActionDepth, len(chain)),
	}
}

// ErrorAttributes returns attributes identifying err.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	te := errors.As(err)
	return []attribute.KeyValue{
		attribute.String(AttrErrorCode, string(te.Code)),
		attribute.Bool(AttrErrorRecoverable, te.Recoverable),
	}
}

// ReplayAttributes returns attributes for a replay run.
func ReplayAttributes(runID, fixture string, frames int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrReplayRunID, runID),
	}
	if fixture != "" {
		attrs = append(attrs, attribute.String(AttrReplayFixture, fixture))
	}
	if frames > 0 {
		attrs = append(attrs, attribute.Int(AttrReplayFrames, frames))
	}
	return attrs
}
