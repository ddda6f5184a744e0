package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/disease"
	"github.com/timzifer/regimen/events"
	"github.com/timzifer/regimen/internal/sim"
	"github.com/timzifer/regimen/treatment"
)

// DoseConfig is one scripted appliance use.
type DoseConfig struct {
	At        config.Duration `yaml:"at"`
	Appliance string          `yaml:"appliance"`
	BodyPart  string          `yaml:"body_part,omitempty"`
	Disease   string          `yaml:"disease"`
}

// Scenario scripts doses against a configured simulation and states the
// expected outcome as boolean expressions.
type Scenario struct {
	Name     string          `yaml:"name"`
	Duration config.Duration `yaml:"duration"`
	Doses    []DoseConfig    `yaml:"doses"`
	Expect   []string        `yaml:"expect"`
}

// Failure is an expectation that did not hold.
type Failure struct {
	Expression string
	Err        error
}

func (f Failure) String() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Expression, f.Err)
	}
	return fmt.Sprintf("%s: evaluated to false", f.Expression)
}

// Result is the outcome of a scenario run.
type Result struct {
	Name     string
	Elapsed  time.Duration
	Events   map[string]int
	Failures []Failure
}

// Passed reports whether every expectation held.
func (r Result) Passed() bool { return len(r.Failures) == 0 }

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and checks a scenario document.
func Parse(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal scenario: %w", err)
	}
	if sc.Duration.Duration <= 0 {
		return nil, fmt.Errorf("scenario %q: duration must be positive", sc.Name)
	}
	for i, d := range sc.Doses {
		if strings.TrimSpace(d.Appliance) == "" || strings.TrimSpace(d.Disease) == "" {
			return nil, fmt.Errorf("scenario %q: dose %d requires appliance and disease", sc.Name, i)
		}
		if d.At.Duration < 0 || d.At.Duration > sc.Duration.Duration {
			return nil, fmt.Errorf("scenario %q: dose %d at %s is outside the scenario", sc.Name, i, d.At.Duration)
		}
	}
	return &sc, nil
}

// Run plays the scenario on engine and evaluates the expectations.
func (s *Scenario) Run(ctx context.Context, engine *sim.Engine) (Result, error) {
	counts := make(map[string]int, len(events.Kinds()))
	for _, kind := range events.Kinds() {
		counts[kind.String()] = 0
	}
	engine.Bus().SubscribeAll(func(e events.Event) {
		counts[e.Kind.String()]++
	})

	doses := make([]sim.Dose, len(s.Doses))
	for i, d := range s.Doses {
		doses[i] = sim.Dose{
			At:        d.At.Duration,
			Appliance: d.Appliance,
			BodyPart:  treatment.BodyPart(d.BodyPart),
			Disease:   d.Disease,
		}
	}
	if err := engine.RunUntil(ctx, s.Duration.Duration, doses); err != nil {
		return Result{}, err
	}

	result := Result{Name: s.Name, Elapsed: engine.Elapsed(), Events: counts}
	env := Environment(engine, counts)
	for _, src := range s.Expect {
		ok, err := Evaluate(src, env)
		if err != nil || !ok {
			result.Failures = append(result.Failures, Failure{Expression: src, Err: err})
		}
	}
	return result, nil
}

// Environment exposes the engine state to expectation expressions:
// treatments.<id>.{started,finished,failed,in_window,doses},
// diseases.<id>.{healing,treated,stage} and events.<kind>.
func Environment(engine *sim.Engine, counts map[string]int) map[string]interface{} {
	treatments := make(map[string]interface{})
	for _, node := range engine.Nodes() {
		snap := node.Snapshot()
		treatments[node.ID()] = map[string]interface{}{
			"started":   node.IsStarted(),
			"finished":  node.IsFinished(),
			"failed":    node.IsFailed(),
			"in_window": sim.Progress(snap),
			"doses":     doseCount(snap),
		}
	}
	diseases := make(map[string]interface{})
	now, _ := engine.Clock().CurrentTime().Get()
	for _, id := range engine.DiseaseIDs() {
		d, _ := engine.Disease(id)
		stage := disease.Healthy.String()
		if st, ok := d.ActiveStageAt(now); ok {
			stage = st.Level.String()
		}
		diseases[id] = map[string]interface{}{
			"healing": d.IsHealing(),
			"treated": d.IsTreated(),
			"stage":   stage,
		}
	}
	evts := make(map[string]interface{}, len(counts))
	for k, v := range counts {
		evts[k] = v
	}
	return map[string]interface{}{
		"treatments": treatments,
		"diseases":   diseases,
		"events":     evts,
	}
}

// Evaluate compiles src as a boolean expression and runs it against env.
func Evaluate(src string, env map[string]interface{}) (bool, error) {
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func doseCount(snap treatment.Snapshot) int {
	total := len(snap.Doses)
	for _, part := range snap.Parts {
		total += doseCount(part)
	}
	return total
}
