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

// DefaultTolerance is how far a dose may deviate from the interval and still
// count towards the regimen.
const DefaultTolerance = 20 * time.Minute

// KindTimed is the registry name of Tracker.
const KindTimed = "timed"

// Definition identifies what a Tracker expects.
type Definition struct {
	ID            string
	Appliance     string
	BodyPart      BodyPart
	Level         disease.Level
	Interval      time.Duration
	RequiredDoses int
	Tolerance     time.Duration
}

func (d Definition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("treatment id must not be empty")
	}
	if d.Appliance == "" {
		return fmt.Errorf("treatment %s: appliance must not be empty", d.ID)
	}
	if d.Interval <= 0 {
		return fmt.Errorf("treatment %s: interval must be positive", d.ID)
	}
	if d.RequiredDoses <= 0 {
		return fmt.Errorf("treatment %s: required doses must be positive", d.ID)
	}
	if d.Tolerance < 0 {
		return fmt.Errorf("treatment %s: tolerance must not be negative", d.ID)
	}
	return nil
}

// Tracker follows a timed regimen: an appliance used on a body part every
// Interval until RequiredDoses doses landed within the tolerance window.
type Tracker struct {
	def       Definition
	logger    zerolog.Logger
	publisher events.Publisher
	hooks     Hooks
	state     State
}

// NewTracker creates a tracker for def. A zero Tolerance means DefaultTolerance.
func NewTracker(def Definition, opts ...Option) (*Tracker, error) {
	if def.Tolerance == 0 {
		def.Tolerance = DefaultTolerance
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Tracker{
		def:       def,
		logger:    o.logger.With().Str("treatment", def.ID).Logger(),
		publisher: o.publisher,
		hooks:     o.hooks,
		state:     State{NodePart: o.nodePart},
	}, nil
}

func newTimedNode(cfg config.TreatmentConfig, opts ...Option) (Node, error) {
	appliance, err := getString(cfg.Settings, "appliance", "")
	if err != nil {
		return nil, err
	}
	part, err := getString(cfg.Settings, "body_part", "")
	if err != nil {
		return nil, err
	}
	levelName, err := getString(cfg.Settings, "level", "")
	if err != nil {
		return nil, err
	}
	level, err := disease.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("treatment %s: %w", cfg.ID, err)
	}
	interval, err := getMinutesSetting(cfg.Settings, "interval", 0)
	if err != nil {
		return nil, err
	}
	doses, err := getInt(cfg.Settings, "doses", 0)
	if err != nil {
		return nil, err
	}
	tolerance, err := getMinutesSetting(cfg.Settings, "tolerance", DefaultTolerance)
	if err != nil {
		return nil, err
	}
	return NewTracker(Definition{
		ID:            cfg.ID,
		Appliance:     appliance,
		BodyPart:      BodyPart(part),
		Level:         level,
		Interval:      interval,
		RequiredDoses: doses,
		Tolerance:     tolerance,
	}, opts...)
}

func (t *Tracker) ID() string { return t.def.ID }

// Definition returns the regimen the tracker follows.
func (t *Tracker) Definition() Definition { return t.def }

func (t *Tracker) SetHooks(h Hooks) { t.hooks = h }

func (t *Tracker) IsStarted() bool  { return t.state.Started }
func (t *Tracker) IsFinished() bool { return t.state.Finished }
func (t *Tracker) IsFailed() bool   { return t.state.Failed }
func (t *Tracker) IsNodePart() bool { return t.state.NodePart }

// InWindowCount returns how many doses landed inside the tolerance window.
func (t *Tracker) InWindowCount() int { return t.state.InWindow }

// Doses returns the recorded dose times, oldest first.
func (t *Tracker) Doses() []time.Time {
	out := make([]time.Time, len(t.state.Doses))
	copy(out, t.state.Doses)
	return out
}

// State returns a copy of the mutable tracker state.
func (t *Tracker) State() State { return t.state.clone() }

func (t *Tracker) RecordApplianceUse(now clock.Reading, appliance string, part BodyPart, d disease.Disease) bool {
	if t.state.Finished {
		return false
	}
	at, ok := now.Get()
	if !ok || d == nil || d.IsSelfHealing() {
		return false
	}
	stage, ok := currentStage(d, at)
	if !ok {
		return false
	}
	if appliance != t.def.Appliance {
		return false
	}
	if t.def.BodyPart != AnyBodyPart && t.def.BodyPart != part {
		return false
	}

	onTarget := stage.Level == t.def.Level

	if len(t.state.Doses) == 0 {
		t.state.Doses = append(t.state.Doses, at)
		t.state.InWindow = 1
		t.logger.Debug().Str("disease", d.ID()).Str("stage", stage.Level.String()).Bool("on_target", onTarget).Msg("first dose recorded")
		if !onTarget {
			return true
		}
		t.state.Finished = false
		t.state.Failed = false
		t.checkCompletion(d, at)
		t.begin(d, at)
		return true
	}

	t.state.Finished = false
	last := t.state.Doses[len(t.state.Doses)-1]
	elapsed := at.Sub(last)
	if elapsed < t.def.Interval-t.def.Tolerance || elapsed > t.def.Interval+t.def.Tolerance {
		t.logger.Debug().Str("disease", d.ID()).Dur("elapsed", elapsed).Msg("dose outside window ignored")
		return true
	}
	t.state.Doses = append(t.state.Doses, at)
	// The count saturates at the required number; off-target doses keep the
	// cadence but cannot push it past completion.
	if t.state.InWindow < t.def.RequiredDoses {
		t.state.InWindow++
	}
	t.logger.Debug().Str("disease", d.ID()).Int("in_window", t.state.InWindow).Bool("on_target", onTarget).Msg("dose accepted")
	if !onTarget {
		return true
	}
	if !t.state.Started {
		t.state.Failed = false
		t.begin(d, at)
		if t.state.InWindow >= t.def.RequiredDoses {
			t.checkCompletion(d, at)
		}
		return true
	}
	t.checkCompletion(d, at)
	return true
}

// begin marks the regimen as running once a dose lands on the target stage.
func (t *Tracker) begin(d disease.Disease, at time.Time) {
	t.hooks.started()
	t.state.Started = true
	if !t.state.NodePart && !t.state.Finished {
		events.Publish(t.publisher, events.New(events.TreatmentStarted, d.ID(), t.def.ID, at))
		d.Invert()
	}
}

func (t *Tracker) checkCompletion(d disease.Disease, at time.Time) {
	if t.state.InWindow >= t.def.RequiredDoses {
		t.state.Finished = true
		t.state.Failed = false
		t.logger.Debug().Str("disease", d.ID()).Int("in_window", t.state.InWindow).Msg("treatment finished")
		t.hooks.ended()
		if !t.state.NodePart {
			d.DeclareTreated()
			d.Invert()
			events.Publish(t.publisher, events.New(events.Healed, d.ID(), t.def.ID, at))
		}
		return
	}
	if !t.state.NodePart && t.state.Started {
		events.Publish(t.publisher, events.New(events.HealingContinued, d.ID(), t.def.ID, at))
	}
}

func (t *Tracker) CheckAdherence(d disease.Disease, c clock.WorldClock) {
	if len(t.state.Doses) == 0 || d == nil || c == nil {
		return
	}
	if !d.IsHealing() || d.IsSelfHealing() {
		return
	}
	now, ok := c.CurrentTime().Get()
	if !ok {
		return
	}
	stage, ok := d.ActiveStageAt(now)
	if !ok || stage.Level == disease.Healthy {
		return
	}
	elapsed := now.Sub(t.state.Doses[len(t.state.Doses)-1])
	if elapsed <= t.def.Interval+t.def.Tolerance {
		return
	}

	t.logger.Debug().Str("disease", d.ID()).Dur("elapsed", elapsed).Msg("dose window missed")
	if !t.state.NodePart {
		events.Publish(t.publisher, events.New(events.StartProgressing, d.ID(), t.def.ID, now))
	}
	t.Reset()
	t.state.Failed = true
	t.hooks.failed()
	d.InvertBack()
}

// Reset drops all progress. The failed flag is kept.
func (t *Tracker) Reset() {
	t.state.Started = false
	t.state.Finished = false
	t.state.Doses = nil
	t.state.InWindow = 0
}

func (t *Tracker) Snapshot() Snapshot {
	return t.state.snapshot()
}

func (t *Tracker) RestoreSnapshot(snap Snapshot) error {
	restored, err := Restore(t.state, snap)
	if err != nil {
		return fmt.Errorf("treatment %s: %w", t.def.ID, err)
	}
	t.state = restored
	return nil
}

func currentStage(d disease.Disease, at time.Time) (disease.Stage, bool) {
	if st, ok := d.TreatedStage(); ok {
		return st, true
	}
	return d.ActiveStageAt(at)
}

func init() {
	Register(KindTimed, newTimedNode)
}
