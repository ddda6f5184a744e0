package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind identifies a disease treatment notification.
type Kind int

const (
	// TreatmentStarted is raised when the first dose of a regimen lands on
	// the targeted stage and the disease starts healing.
	TreatmentStarted Kind = iota
	// HealingContinued is raised for every further qualifying dose.
	HealingContinued
	// Healed is raised once a regimen completes.
	Healed
	// StartProgressing is raised when a dose window is missed and the disease
	// worsens again.
	StartProgressing
)

var kindNames = []string{"treatment_started", "healing_continued", "healed", "start_progressing"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds lists every notification kind in declaration order.
func Kinds() []Kind {
	return []Kind{TreatmentStarted, HealingContinued, Healed, StartProgressing}
}

// Event is a single notification about a disease.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Disease   string
	Treatment string
	At        time.Time
}

// New creates an event with a fresh identifier.
func New(kind Kind, diseaseID, treatmentID string, at time.Time) Event {
	return Event{ID: uuid.New(), Kind: kind, Disease: diseaseID, Treatment: treatmentID, At: at}
}

// Publisher accepts notifications from treatments.
type Publisher interface {
	Publish(Event)
}

// Handler receives published events.
type Handler func(Event)

// Bus dispatches events synchronously to subscribers in subscription order.
// It is not safe for concurrent use; the simulation serializes all calls.
type Bus struct {
	handlers map[Kind][]Handler
	all      []Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers fn for a single kind.
func (b *Bus) Subscribe(kind Kind, fn Handler) {
	if fn == nil {
		return
	}
	b.handlers[kind] = append(b.handlers[kind], fn)
}

// SubscribeAll registers fn for every kind.
func (b *Bus) SubscribeAll(fn Handler) {
	if fn == nil {
		return
	}
	b.all = append(b.all, fn)
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	for _, fn := range b.all {
		fn(e)
	}
	for _, fn := range b.handlers[e.Kind] {
		fn(e)
	}
}

// Publish sends e to p when p is set.
func Publish(p Publisher, e Event) {
	if p == nil {
		return
	}
	p.Publish(e)
}

// NewLogSubscriber logs every notification.
func NewLogSubscriber(logger zerolog.Logger) Handler {
	return func(e Event) {
		evt := logger.Info().
			Str("event", e.Kind.String()).
			Str("disease", e.Disease).
			Str("treatment", e.Treatment).
			Str("id", e.ID.String())
		if !e.At.IsZero() {
			evt = evt.Time("world_time", e.At)
		}
		evt.Msg("disease notification")
	}
}

// Recorder collects events in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(e Event) {
	r.Events = append(r.Events, e)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	out := make([]Kind, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Kind
	}
	return out
}
