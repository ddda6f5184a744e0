package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/regimen/clock"
	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/disease"
	"github.com/timzifer/regimen/events"
	"github.com/timzifer/regimen/internal/store"
	"github.com/timzifer/regimen/telemetry"
	"github.com/timzifer/regimen/treatment"
)

// Dose is an appliance use scheduled at an offset from the simulation start.
type Dose struct {
	At        time.Duration
	Appliance string
	BodyPart  treatment.BodyPart
	Disease   string
}

type binding struct {
	node    treatment.Node
	disease *disease.Model
}

// Engine drives treatments against simulated diseases. All calls must come
// from a single goroutine; doses and adherence ticks are never interleaved.
type Engine struct {
	clock     *clock.SimClock
	start     time.Time
	cycle     time.Duration
	diseases  map[string]*disease.Model
	bindings  []binding
	bus       *events.Bus
	logger    zerolog.Logger
	collector telemetry.Collector
}

// Option configures the engine during construction.
type Option func(*Engine)

// WithLogger sets the engine and treatment logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTelemetry sets the metrics collector.
func WithTelemetry(c telemetry.Collector) Option {
	return func(e *Engine) {
		if c != nil {
			e.collector = c
		}
	}
}

// New builds the diseases and treatment nodes described by cfg.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	e := &Engine{
		start:     cfg.StartTime(),
		cycle:     cfg.CycleInterval(),
		diseases:  make(map[string]*disease.Model, len(cfg.Diseases)),
		bus:       events.NewBus(),
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.clock = clock.NewSimClockAt(e.start)
	e.bus.SubscribeAll(events.NewLogSubscriber(e.logger))
	e.bus.SubscribeAll(telemetry.NewEventSubscriber(e.collector))

	for _, dc := range cfg.Diseases {
		stages := make([]disease.Stage, 0, len(dc.Stages))
		for _, sc := range dc.Stages {
			level, err := disease.ParseLevel(sc.Level)
			if err != nil {
				return nil, fmt.Errorf("disease %s: %w", dc.ID, err)
			}
			stages = append(stages, disease.Stage{Level: level, After: sc.After.Duration})
		}
		model, err := disease.NewModel(dc.ID, stages, dc.SelfHealing, e.clock)
		if err != nil {
			return nil, err
		}
		model.Infect(e.start.Add(dc.InfectedAfter.Duration))
		e.diseases[dc.ID] = model
	}

	for _, tc := range cfg.Treatments {
		model, ok := e.diseases[tc.Disease]
		if !ok {
			return nil, fmt.Errorf("treatment %s references unknown disease %s", tc.ID, tc.Disease)
		}
		node, err := treatment.Instantiate(tc, treatment.WithLogger(e.logger), treatment.WithPublisher(e.bus))
		if err != nil {
			return nil, err
		}
		node.SetHooks(e.hooksFor(node, model))
		e.bindings = append(e.bindings, binding{node: node, disease: model})
	}
	return e, nil
}

func (e *Engine) hooksFor(node treatment.Node, d *disease.Model) treatment.Hooks {
	logger := e.logger.With().Str("treatment", node.ID()).Str("disease", d.ID()).Logger()
	return treatment.Hooks{
		Started: func() { logger.Info().Msg("treatment started") },
		Ended:   func() { logger.Info().Msg("treatment finished") },
		Failed: func() {
			logger.Info().Msg("treatment failed, dose window missed")
			e.collector.SetInWindow(node.ID(), 0)
		},
	}
}

// Bus returns the notification bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Clock returns the world clock.
func (e *Engine) Clock() *clock.SimClock { return e.clock }

// Elapsed returns the simulated time since start.
func (e *Engine) Elapsed() time.Duration {
	now, ok := e.clock.CurrentTime().Get()
	if !ok {
		return 0
	}
	return now.Sub(e.start)
}

// Disease returns the disease with the given id.
func (e *Engine) Disease(id string) (*disease.Model, bool) {
	d, ok := e.diseases[id]
	return d, ok
}

// DiseaseIDs returns the configured disease ids, sorted.
func (e *Engine) DiseaseIDs() []string {
	ids := make([]string, 0, len(e.diseases))
	for id := range e.diseases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Node returns the top-level treatment node with the given id.
func (e *Engine) Node(id string) (treatment.Node, bool) {
	for _, b := range e.bindings {
		if b.node.ID() == id {
			return b.node, true
		}
	}
	return nil, false
}

// Nodes returns the top-level treatment nodes in configuration order.
func (e *Engine) Nodes() []treatment.Node {
	out := make([]treatment.Node, len(e.bindings))
	for i, b := range e.bindings {
		out[i] = b.node
	}
	return out
}

// UseAppliance offers an appliance use to every treatment of the disease. It
// reports whether any treatment accepted it.
func (e *Engine) UseAppliance(appliance string, part treatment.BodyPart, diseaseID string) bool {
	model, ok := e.diseases[diseaseID]
	if !ok {
		e.logger.Warn().Str("disease", diseaseID).Str("appliance", appliance).Msg("appliance used on unknown disease")
		return false
	}
	now := e.clock.CurrentTime()
	accepted := false
	for _, b := range e.bindings {
		if b.disease != model {
			continue
		}
		before := Progress(b.node.Snapshot())
		ok := b.node.RecordApplianceUse(now, appliance, part, model)
		after := Progress(b.node.Snapshot())
		switch {
		case !ok:
			e.collector.IncDose(b.node.ID(), telemetry.OutcomeRejected)
		case after > before:
			e.collector.IncDose(b.node.ID(), telemetry.OutcomeInWindow)
		default:
			e.collector.IncDose(b.node.ID(), telemetry.OutcomeAccepted)
		}
		e.collector.SetInWindow(b.node.ID(), after)
		if ok {
			accepted = true
			e.logger.Debug().Str("treatment", b.node.ID()).Str("appliance", appliance).Str("body_part", string(part)).Int("in_window", after).Msg("appliance use accepted")
		}
	}
	return accepted
}

// Tick runs an adherence check on every treatment.
func (e *Engine) Tick() {
	for _, b := range e.bindings {
		b.node.CheckAdherence(b.disease, e.clock)
	}
}

// Step advances the clock by d and ticks.
func (e *Engine) Step(d time.Duration) {
	e.clock.Advance(d)
	e.Tick()
}

// RunUntil advances the simulation to the offset until, ticking every cycle.
// Doses are applied at their own time, before a tick at the same instant.
func (e *Engine) RunUntil(ctx context.Context, until time.Duration, doses []Dose) error {
	pending := make([]Dose, len(doses))
	copy(pending, doses)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].At < pending[j].At })

	now := e.Elapsed()
	nextTick := now + e.cycle
	idx := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if idx < len(pending) && pending[idx].At <= nextTick && pending[idx].At <= until {
			dose := pending[idx]
			idx++
			if dose.At > now {
				now = dose.At
				e.clock.Set(e.start.Add(now))
			}
			e.UseAppliance(dose.Appliance, dose.BodyPart, dose.Disease)
			continue
		}
		if nextTick > until {
			break
		}
		now = nextTick
		e.clock.Set(e.start.Add(now))
		e.Tick()
		nextTick += e.cycle
	}
	if until > now {
		e.clock.Set(e.start.Add(until))
	}
	return nil
}

// SaveSnapshots writes a snapshot of every top-level treatment together with
// the world clock and disease state.
func (e *Engine) SaveSnapshots(ctx context.Context, s store.Store) error {
	for _, b := range e.bindings {
		if err := s.Save(ctx, b.node.ID(), b.node.Snapshot()); err != nil {
			return fmt.Errorf("save %s: %w", b.node.ID(), err)
		}
	}
	world := store.World{
		At:       e.clock.CurrentTime().Or(e.start),
		Diseases: make(map[string]disease.State, len(e.diseases)),
	}
	for id, d := range e.diseases {
		world.Diseases[id] = d.State()
	}
	if err := s.SaveWorld(ctx, world); err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

// RestoreSnapshots restores every treatment that has a stored snapshot, then
// the world clock and disease state. Without a stored world the clock moves to
// the latest restored dose and diseases of running treatments are set healing.
func (e *Engine) RestoreSnapshots(ctx context.Context, s store.Store) error {
	restored := 0
	for _, b := range e.bindings {
		snap, err := s.Load(ctx, b.node.ID())
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug().Str("treatment", b.node.ID()).Msg("no snapshot stored")
			continue
		}
		if err != nil {
			return err
		}
		if err := b.node.RestoreSnapshot(snap); err != nil {
			return err
		}
		restored++
	}

	world, err := s.LoadWorld(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if restored > 0 {
			e.logger.Warn().Msg("no world state stored, deriving it from treatments")
			e.deriveWorld()
		}
		return nil
	case err != nil:
		return err
	}
	if !world.At.IsZero() {
		e.clock.Set(world.At)
	}
	for id, st := range world.Diseases {
		d, ok := e.diseases[id]
		if !ok {
			e.logger.Debug().Str("disease", id).Msg("stored disease is not configured")
			continue
		}
		d.Restore(st)
	}
	return nil
}

func (e *Engine) deriveWorld() {
	latest := e.clock.CurrentTime().Or(e.start)
	for _, b := range e.bindings {
		if last, ok := lastDose(b.node.Snapshot()); ok && last.After(latest) {
			latest = last
		}
	}
	e.clock.Set(latest)
	for _, b := range e.bindings {
		if b.node.IsStarted() && !b.node.IsFinished() && !b.disease.IsHealing() {
			b.disease.Invert()
		}
	}
}

func lastDose(snap treatment.Snapshot) (time.Time, bool) {
	var latest time.Time
	found := false
	if n := len(snap.Doses); n > 0 {
		latest, found = snap.Doses[n-1], true
	}
	for _, part := range snap.Parts {
		if t, ok := lastDose(part); ok && (!found || t.After(latest)) {
			latest, found = t, true
		}
	}
	return latest, found
}

// Progress returns the number of in-window doses recorded in a snapshot tree.
func Progress(snap treatment.Snapshot) int {
	total := snap.InWindow
	for _, part := range snap.Parts {
		total += Progress(part)
	}
	return total
}
