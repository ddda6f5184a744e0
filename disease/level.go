package disease

import (
	"fmt"
	"strings"
)

// Level is the severity of a disease stage.
type Level int

const (
	// Healthy means no active stage.
	Healthy Level = iota
	// InitialStage is the first symptomatic stage.
	InitialStage
	// Progressing is the stage after the initial symptoms.
	Progressing
	// Worrying requires treatment to avoid the critical stage.
	Worrying
	// Critical is the final stage.
	Critical
)

var levelNames = map[Level]string{
	Healthy:      "healthy",
	InitialStage: "initial",
	Progressing:  "progressing",
	Worrying:     "worrying",
	Critical:     "critical",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLevel resolves a level from its configuration name.
func ParseLevel(raw string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for level, name := range levelNames {
		if name == key {
			return level, nil
		}
	}
	return Healthy, fmt.Errorf("unknown disease level %q", raw)
}
