package treatment

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/regimen/clock"
	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/disease"
	"github.com/timzifer/regimen/events"
)

// KindSequence is the registry name of Sequence.
const KindSequence = "sequence"

// Sequence runs its parts one after another. The parts are node parts: the
// sequence owns notifications and the disease direction for all of them.
type Sequence struct {
	id        string
	parts     []Node
	logger    zerolog.Logger
	publisher events.Publisher
	hooks     Hooks

	nodePart bool
	current  int
	started  bool
	finished bool
	failed   bool

	pending pendingTransitions
}

type pendingTransitions struct {
	started bool
	ended   bool
	failed  bool
}

// NewSequence wraps parts. Each part must have been created with AsNodePart;
// its hooks are replaced by the sequence.
func NewSequence(id string, parts []Node, opts ...Option) (*Sequence, error) {
	if id == "" {
		return nil, fmt.Errorf("sequence id must not be empty")
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("sequence %s requires at least one part", id)
	}
	o := buildOptions(opts)
	s := &Sequence{
		id:        id,
		parts:     parts,
		logger:    o.logger.With().Str("treatment", id).Logger(),
		publisher: o.publisher,
		hooks:     o.hooks,
		nodePart:  o.nodePart,
	}
	for i, part := range parts {
		if part == nil {
			return nil, fmt.Errorf("sequence %s: part %d is nil", id, i)
		}
		if !part.Snapshot().NodePart {
			return nil, fmt.Errorf("sequence %s: part %s must be a node part", id, part.ID())
		}
		part.SetHooks(Hooks{
			Started: func() { s.pending.started = true },
			Ended:   func() { s.pending.ended = true },
			Failed:  func() { s.pending.failed = true },
		})
	}
	return s, nil
}

func newSequenceNode(cfg config.TreatmentConfig, opts ...Option) (Node, error) {
	o := buildOptions(opts)
	parts := make([]Node, 0, len(cfg.Parts))
	for _, partCfg := range cfg.Parts {
		part, err := Instantiate(partCfg, WithLogger(o.logger), AsNodePart())
		if err != nil {
			return nil, fmt.Errorf("sequence %s: %w", cfg.ID, err)
		}
		parts = append(parts, part)
	}
	return NewSequence(cfg.ID, parts, opts...)
}

func (s *Sequence) ID() string { return s.id }

func (s *Sequence) SetHooks(h Hooks) { s.hooks = h }

func (s *Sequence) IsStarted() bool  { return s.started }
func (s *Sequence) IsFinished() bool { return s.finished }
func (s *Sequence) IsFailed() bool   { return s.failed }

// Parts returns the child nodes in order.
func (s *Sequence) Parts() []Node {
	out := make([]Node, len(s.parts))
	copy(out, s.parts)
	return out
}

// Current returns the index of the active part.
func (s *Sequence) Current() int { return s.current }

func (s *Sequence) RecordApplianceUse(now clock.Reading, appliance string, part BodyPart, d disease.Disease) bool {
	if s.finished {
		return false
	}
	s.pending = pendingTransitions{}
	accepted := s.parts[s.current].RecordApplianceUse(now, appliance, part, d)
	if accepted {
		s.settle(d, now.Or(time.Time{}))
	}
	return accepted
}

func (s *Sequence) settle(d disease.Disease, at time.Time) {
	pending := s.pending
	s.pending = pendingTransitions{}

	if pending.started && !s.started {
		s.started = true
		s.failed = false
		s.logger.Debug().Str("disease", d.ID()).Msg("sequence started")
		s.hooks.started()
		if !s.nodePart {
			events.Publish(s.publisher, events.New(events.TreatmentStarted, d.ID(), s.id, at))
			d.Invert()
		}
	}
	if !pending.ended {
		return
	}
	if s.current < len(s.parts)-1 {
		s.current++
		s.logger.Debug().Str("disease", d.ID()).Int("part", s.current).Msg("sequence advanced")
		if !s.nodePart && s.started {
			events.Publish(s.publisher, events.New(events.HealingContinued, d.ID(), s.id, at))
		}
		return
	}
	s.finished = true
	s.logger.Debug().Str("disease", d.ID()).Msg("sequence finished")
	s.hooks.ended()
	if !s.nodePart {
		d.DeclareTreated()
		d.Invert()
		events.Publish(s.publisher, events.New(events.Healed, d.ID(), s.id, at))
	}
}

func (s *Sequence) CheckAdherence(d disease.Disease, c clock.WorldClock) {
	if s.finished {
		return
	}
	s.pending = pendingTransitions{}
	s.parts[s.current].CheckAdherence(d, c)
	if !s.pending.failed {
		return
	}
	s.pending = pendingTransitions{}

	var at time.Time
	if c != nil {
		at = c.CurrentTime().Or(time.Time{})
	}
	s.logger.Debug().Str("disease", d.ID()).Int("part", s.current).Msg("sequence part missed its window")
	if !s.nodePart {
		events.Publish(s.publisher, events.New(events.StartProgressing, d.ID(), s.id, at))
	}
	s.Reset()
	s.failed = true
	s.hooks.failed()
}

// Reset rewinds every part. The failed flag is kept.
func (s *Sequence) Reset() {
	for _, part := range s.parts {
		part.Reset()
	}
	s.current = 0
	s.started = false
	s.finished = false
}

func (s *Sequence) Snapshot() Snapshot {
	parts := make([]Snapshot, len(s.parts))
	for i, part := range s.parts {
		parts[i] = part.Snapshot()
	}
	return Snapshot{
		Version:  SnapshotVersion,
		Kind:     KindSequence,
		NodePart: s.nodePart,
		Failed:   s.failed,
		Started:  s.started,
		Finished: s.finished,
		Current:  s.current,
		Parts:    parts,
	}
}

func (s *Sequence) RestoreSnapshot(snap Snapshot) error {
	if err := checkHeader(snap, KindSequence); err != nil {
		return fmt.Errorf("sequence %s: %w", s.id, err)
	}
	if len(snap.Parts) != len(s.parts) {
		return fmt.Errorf("sequence %s: snapshot has %d parts, expected %d", s.id, len(snap.Parts), len(s.parts))
	}
	if snap.Current < 0 || snap.Current >= len(s.parts) {
		return fmt.Errorf("sequence %s: snapshot cursor %d out of range", s.id, snap.Current)
	}
	if snap.Finished && snap.Failed {
		return fmt.Errorf("sequence %s: snapshot is both finished and failed", s.id)
	}
	previous := make([]Snapshot, len(s.parts))
	for i, part := range s.parts {
		previous[i] = part.Snapshot()
	}
	for i, part := range s.parts {
		if err := part.RestoreSnapshot(snap.Parts[i]); err != nil {
			for j := 0; j < i; j++ {
				_ = s.parts[j].RestoreSnapshot(previous[j])
			}
			return fmt.Errorf("sequence %s: %w", s.id, err)
		}
	}
	s.nodePart = snap.NodePart
	s.failed = snap.Failed
	s.started = snap.Started
	s.finished = snap.Finished
	s.current = snap.Current
	return nil
}

func init() {
	Register(KindSequence, newSequenceNode)
}
