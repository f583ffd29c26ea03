// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"

	"github.com/jllopis/tempo/pkg/intention"
	"github.com/jllopis/tempo/pkg/maneuver"
	"github.com/jllopis/tempo/pkg/world"
)

// scripted plays a fixture intention: its score comes from a constant or a
// fact, and each activation plays OnEnter once before idling.
type scripted struct {
	def     Intention
	started bool
}

func (s *scripted) Score(f *world.Frame) (float64, error) {
	facts, _ := world.DataAs[Facts](f)
	if s.def.Fault != "" && facts[s.def.Fault] != 0 {
		return 0, fmt.Errorf("fault fact %q is set", s.def.Fault)
	}
	if s.def.Score != nil {
		return *s.def.Score, nil
	}
	v, ok := facts[s.def.Fact]
	if !ok {
		return 0, fmt.Errorf("fact %q is missing", s.def.Fact)
	}
	return v * s.def.scale(), nil
}

func (s *scripted) Enter(_ *world.Frame, in *intention.Intention) {
	s.started = false
	in.SetStatus("active")
}

func (s *scripted) Leave(_ *world.Frame, in *intention.Intention) {
	in.SetStatus("")
}

func (s *scripted) Run(_ *world.Frame, in *intention.Intention) {
	if !s.started && s.def.OnEnter != nil {
		s.started = true
		m, err := s.def.OnEnter.Build()
		if err == nil {
			_ = in.DoAction(m)
			return
		}
	}
	s.started = true
	_ = in.DoAction(maneuver.Idle())
}
