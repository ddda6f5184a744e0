package treatment

import (
	"errors"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot layout.
const SnapshotVersion = 1

// ErrSnapshotVersion is returned for snapshots written by an unknown layout.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is the persisted form of a treatment node.
type Snapshot struct {
	Version  int         `yaml:"version"`
	Kind     string      `yaml:"kind"`
	NodePart bool        `yaml:"node_part"`
	Failed   bool        `yaml:"failed"`
	Started  bool        `yaml:"started"`
	Finished bool        `yaml:"finished"`
	Doses    []time.Time `yaml:"doses,omitempty"`
	InWindow int         `yaml:"in_window"`
	Current  int         `yaml:"current,omitempty"`
	Parts    []Snapshot  `yaml:"parts,omitempty"`
}

// State is the mutable part of a Tracker.
type State struct {
	NodePart bool
	Failed   bool
	Started  bool
	Finished bool
	Doses    []time.Time
	InWindow int
}

func (s State) clone() State {
	out := s
	if s.Doses != nil {
		out.Doses = make([]time.Time, len(s.Doses))
		copy(out.Doses, s.Doses)
	}
	return out
}

func (s State) snapshot() Snapshot {
	c := s.clone()
	return Snapshot{
		Version:  SnapshotVersion,
		Kind:     KindTimed,
		NodePart: c.NodePart,
		Failed:   c.Failed,
		Started:  c.Started,
		Finished: c.Finished,
		Doses:    c.Doses,
		InWindow: c.InWindow,
	}
}

// Restore returns the tracker state described by snap. Every field, flags
// included, comes from the snapshot; state is only returned unchanged on error.
func Restore(state State, snap Snapshot) (State, error) {
	if err := checkHeader(snap, KindTimed); err != nil {
		return state, err
	}
	if snap.InWindow < 0 {
		return state, fmt.Errorf("snapshot in-window count %d is negative", snap.InWindow)
	}
	if snap.Finished && snap.Failed {
		return state, fmt.Errorf("snapshot is both finished and failed")
	}
	for i := 1; i < len(snap.Doses); i++ {
		if snap.Doses[i].Before(snap.Doses[i-1]) {
			return state, fmt.Errorf("snapshot dose %d precedes dose %d", i, i-1)
		}
	}
	restored := State{
		NodePart: snap.NodePart,
		Failed:   snap.Failed,
		Started:  snap.Started,
		Finished: snap.Finished,
		InWindow: snap.InWindow,
	}
	if len(snap.Doses) > 0 {
		restored.Doses = make([]time.Time, len(snap.Doses))
		copy(restored.Doses, snap.Doses)
	}
	return restored, nil
}

func checkHeader(snap Snapshot, kind string) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	if snap.Kind != kind {
		return fmt.Errorf("snapshot kind %q does not match %q", snap.Kind, kind)
	}
	return nil
}
