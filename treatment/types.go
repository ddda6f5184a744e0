package treatment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/regimen/clock"
	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/disease"
	"github.com/timzifer/regimen/events"
)

// BodyPart names the place an appliance is used on.
type BodyPart string

// AnyBodyPart matches every body part.
const AnyBodyPart BodyPart = ""

const (
	Head      BodyPart = "head"
	Torso     BodyPart = "torso"
	LeftArm   BodyPart = "left_arm"
	RightArm  BodyPart = "right_arm"
	LeftLeg   BodyPart = "left_leg"
	RightLeg  BodyPart = "right_leg"
	Bloodflow BodyPart = "bloodflow"
)

// ErrUnknownKind is returned when no factory is registered for a treatment type.
var ErrUnknownKind = errors.New("treatment type not registered")

// Node is a treatment driven by appliance use and periodic adherence checks.
//
// Nodes are single-threaded: RecordApplianceUse and CheckAdherence are called
// sequentially by the simulation and never interleave.
type Node interface {
	ID() string
	// RecordApplianceUse reports whether the use matched this treatment.
	RecordApplianceUse(now clock.Reading, appliance string, part BodyPart, d disease.Disease) bool
	// CheckAdherence fails the treatment when a dose window has been missed.
	CheckAdherence(d disease.Disease, c clock.WorldClock)
	Reset()
	IsStarted() bool
	IsFinished() bool
	IsFailed() bool
	SetHooks(Hooks)
	Snapshot() Snapshot
	RestoreSnapshot(Snapshot) error
}

// Hooks are invoked synchronously on treatment transitions.
type Hooks struct {
	Started func()
	Ended   func()
	Failed  func()
}

func (h Hooks) started() {
	if h.Started != nil {
		h.Started()
	}
}

func (h Hooks) ended() {
	if h.Ended != nil {
		h.Ended()
	}
}

func (h Hooks) failed() {
	if h.Failed != nil {
		h.Failed()
	}
}

type options struct {
	logger    zerolog.Logger
	publisher events.Publisher
	nodePart  bool
	hooks     Hooks
}

// Option configures a node during construction.
type Option func(*options)

// WithLogger sets the logger used for dose and transition diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPublisher sets where disease notifications are sent.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// AsNodePart marks the node as a part of a composite treatment. Node parts
// never publish notifications and never toggle the disease direction.
func AsNodePart() Option {
	return func(o *options) { o.nodePart = true }
}

// WithHooks installs transition callbacks.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Factory creates treatment nodes from configuration data.
type Factory func(cfg config.TreatmentConfig, opts ...Option) (Node, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a factory under a treatment type name.
func Register(kind string, factory Factory) {
	if kind == "" {
		panic("treatment type must not be empty")
	}
	if factory == nil {
		panic("treatment factory must not be nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("treatment factory for %s already registered", kind))
	}
	registry[kind] = factory
}

// Instantiate builds a node for cfg using the factory registered for cfg.Type.
func Instantiate(cfg config.TreatmentConfig, opts ...Option) (Node, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("treatment %s: %w: %q", cfg.ID, ErrUnknownKind, cfg.Type)
	}
	return factory(cfg, opts...)
}

// RegisteredKinds returns the registered treatment types, sorted.
func RegisteredKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
