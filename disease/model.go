package disease

import (
	"fmt"
	"sort"
	"time"

	"github.com/timzifer/regimen/clock"
)

// Model is a stage-offset disease used by the simulation engine.
type Model struct {
	id          string
	stages      []Stage
	infectedAt  time.Time
	infected    bool
	selfHealing bool

	clock clock.WorldClock

	healing  bool
	treated  bool
	captured *Stage
}

// NewModel builds a disease from its stage list. Stages are sorted by offset.
func NewModel(id string, stages []Stage, selfHealing bool, c clock.WorldClock) (*Model, error) {
	if id == "" {
		return nil, fmt.Errorf("disease id must not be empty")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("disease %s requires at least one stage", id)
	}
	sorted := make([]Stage, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].After < sorted[j].After })
	for _, st := range sorted {
		if st.Level == Healthy {
			return nil, fmt.Errorf("disease %s: stage at %s must not be healthy", id, st.After)
		}
		if st.After < 0 {
			return nil, fmt.Errorf("disease %s: negative stage offset %s", id, st.After)
		}
	}
	return &Model{id: id, stages: sorted, selfHealing: selfHealing, clock: c}, nil
}

func (m *Model) ID() string { return m.id }

// Infect starts the stage timeline at t.
func (m *Model) Infect(t time.Time) {
	m.infectedAt = t
	m.infected = true
	m.healing = false
	m.treated = false
	m.captured = nil
}

// InfectedAt returns the infection time.
func (m *Model) InfectedAt() (time.Time, bool) {
	return m.infectedAt, m.infected
}

func (m *Model) IsTreated() bool { return m.treated }

func (m *Model) TreatedStage() (Stage, bool) {
	if m.captured == nil {
		return Stage{}, false
	}
	return *m.captured, true
}

func (m *Model) ActiveStageAt(t time.Time) (Stage, bool) {
	if !m.infected || t.Before(m.infectedAt) {
		return Stage{}, false
	}
	if m.treated {
		return Stage{Level: Healthy}, true
	}
	elapsed := t.Sub(m.infectedAt)
	var active *Stage
	for i := range m.stages {
		if m.stages[i].After > elapsed {
			break
		}
		active = &m.stages[i]
	}
	if active == nil {
		return Stage{}, false
	}
	return *active, true
}

func (m *Model) IsSelfHealing() bool { return m.selfHealing }

func (m *Model) IsHealing() bool { return m.healing }

func (m *Model) Invert() {
	m.healing = !m.healing
	if !m.healing {
		return
	}
	if now, ok := m.clock.CurrentTime().Get(); ok {
		if st, ok := m.ActiveStageAt(now); ok {
			m.captured = &st
		}
	}
}

func (m *Model) InvertBack() {
	m.healing = false
	m.captured = nil
}

func (m *Model) DeclareTreated() {
	m.treated = true
}

// State is the mutable part of a Model. The host persists it next to the
// treatment snapshots so a restored regimen sees the same disease.
type State struct {
	Infected   bool      `yaml:"infected"`
	InfectedAt time.Time `yaml:"infected_at,omitempty"`
	Healing    bool      `yaml:"healing"`
	Treated    bool      `yaml:"treated"`
	Captured   *Stage    `yaml:"captured,omitempty"`
}

// State returns a copy of the mutable disease state.
func (m *Model) State() State {
	st := State{
		Infected:   m.infected,
		InfectedAt: m.infectedAt,
		Healing:    m.healing,
		Treated:    m.treated,
	}
	if m.captured != nil {
		captured := *m.captured
		st.Captured = &captured
	}
	return st
}

// Restore replaces the mutable disease state. The stage timeline is kept.
func (m *Model) Restore(st State) {
	m.infected = st.Infected
	m.infectedAt = st.InfectedAt
	m.healing = st.Healing
	m.treated = st.Treated
	m.captured = nil
	if st.Captured != nil {
		captured := *st.Captured
		m.captured = &captured
	}
}
