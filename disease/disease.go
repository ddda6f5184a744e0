package disease

import "time"

// Stage is a single step of a disease timeline. After is the offset from
// infection at which the stage becomes active.
type Stage struct {
	Level Level         `yaml:"level"`
	After time.Duration `yaml:"after"`
}

// Disease is the part of a disease entity treatments interact with.
//
// Implementations are owned by the simulation thread; callers serialize all
// calls and implementations need no locking.
type Disease interface {
	ID() string
	// TreatedStage returns the stage captured when healing started.
	TreatedStage() (Stage, bool)
	// ActiveStageAt returns the stage active at t.
	ActiveStageAt(t time.Time) (Stage, bool)
	IsSelfHealing() bool
	IsHealing() bool
	// Invert switches the progression direction.
	Invert()
	// InvertBack reverts a healing disease to worsening.
	InvertBack()
	DeclareTreated()
}
