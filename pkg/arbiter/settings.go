// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package arbiter

import (
	"fmt"
	"maps"
	"math"

	"github.com/jllopis/tempo/pkg/config"
	"github.com/jllopis/tempo/pkg/errors"
)

// DefaultSwitchThreshold is the margin a challenger must beat the current
// intention's weighted score by before control changes hands.
const DefaultSwitchThreshold = 0.05

// Settings are the arbiter parameters that may change while running.
type Settings struct {
	SwitchThreshold float64
	// Weights override registration weights by intention name. Intentions not
	// listed keep the weight they were registered with.
	Weights        map[string]float64
	ResetOnKickoff bool
	ScoreWhileBusy bool
}

// SettingsFromConfig maps a loaded configuration onto arbiter settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{SwitchThreshold: DefaultSwitchThreshold, ResetOnKickoff: true}
	}
	return Settings{
		SwitchThreshold: cfg.Arbiter.SwitchThreshold,
		Weights:         maps.Clone(cfg.Weights),
		ResetOnKickoff:  cfg.Arbiter.ResetOnKickoff,
		ScoreWhileBusy:  cfg.Arbiter.ScoreWhileBusy,
	}
}

// Validate reports settings the arbiter cannot apply.
func (s Settings) Validate() error {
	if !validWeight(s.SwitchThreshold) {
		return errors.New(errors.CodeInvalidConfig, "switch threshold must be a finite value >= 0", nil).
			WithContext("switch_threshold", s.SwitchThreshold)
	}
	for name, w := range s.Weights {
		if !validWeight(w) {
			return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("weight of %s must be a finite value >= 0", name), nil).
				WithContext("intention", name).
				WithContext("weight", w)
		}
	}
	return nil
}

func validWeight(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
