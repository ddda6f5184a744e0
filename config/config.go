package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStart is the world time used when the configuration omits start.
var DefaultStart = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" || raw == "0" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	Loki   LokiConfig `yaml:"loki"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
}

// SnapshotConfig configures where treatment snapshots are written.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// StageConfig is one step of a disease timeline.
type StageConfig struct {
	Level string   `yaml:"level"`
	After Duration `yaml:"after"`
}

// DiseaseConfig describes a disease tracked by the simulation.
type DiseaseConfig struct {
	ID            string        `yaml:"id"`
	SelfHealing   bool          `yaml:"self_healing,omitempty"`
	InfectedAfter Duration      `yaml:"infected_after,omitempty"`
	Stages        []StageConfig `yaml:"stages"`
}

// TreatmentConfig describes a treatment node. Settings are interpreted by the
// factory registered for Type; Parts are only used by composite types.
type TreatmentConfig struct {
	ID       string                 `yaml:"id"`
	Type     string                 `yaml:"type"`
	Disease  string                 `yaml:"disease,omitempty"`
	Settings map[string]interface{} `yaml:"settings,omitempty"`
	Parts    []TreatmentConfig      `yaml:"parts,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Cycle      Duration          `yaml:"cycle"`
	Start      time.Time         `yaml:"start,omitempty"`
	Logging    LoggingConfig     `yaml:"logging"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	Snapshots  SnapshotConfig    `yaml:"snapshots"`
	Diseases   []DiseaseConfig   `yaml:"diseases"`
	Treatments []TreatmentConfig `yaml:"treatments"`
}

// Load reads, validates and decodes the configuration file from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, raw)
}

// Parse validates raw against the schema and decodes it. name is only used in
// error messages.
func Parse(name string, raw []byte) (*Config, error) {
	if err := Validate(name, raw); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CycleInterval returns the simulated time between adherence checks.
func (c *Config) CycleInterval() time.Duration {
	if c == nil || c.Cycle.Duration <= 0 {
		return time.Minute
	}
	return c.Cycle.Duration
}

// StartTime returns the initial world time.
func (c *Config) StartTime() time.Time {
	if c == nil || c.Start.IsZero() {
		return DefaultStart
	}
	return c.Start
}

// Disease returns the disease with the given id.
func (c *Config) Disease(id string) (DiseaseConfig, bool) {
	for _, d := range c.Diseases {
		if d.ID == id {
			return d, true
		}
	}
	return DiseaseConfig{}, false
}

func (c *Config) check() error {
	diseases := make(map[string]struct{}, len(c.Diseases))
	for _, d := range c.Diseases {
		if _, dup := diseases[d.ID]; dup {
			return fmt.Errorf("disease %s defined more than once", d.ID)
		}
		diseases[d.ID] = struct{}{}
		if len(d.Stages) == 0 {
			return fmt.Errorf("disease %s requires at least one stage", d.ID)
		}
	}
	ids := make(map[string]struct{})
	for _, t := range c.Treatments {
		if strings.TrimSpace(t.Disease) == "" {
			return fmt.Errorf("treatment %s must reference a disease", t.ID)
		}
		if _, ok := diseases[t.Disease]; !ok {
			return fmt.Errorf("treatment %s references unknown disease %s", t.ID, t.Disease)
		}
		if err := checkTreatment(t, ids); err != nil {
			return err
		}
	}
	return nil
}

func checkTreatment(t TreatmentConfig, ids map[string]struct{}) error {
	if _, dup := ids[t.ID]; dup {
		return fmt.Errorf("treatment %s defined more than once", t.ID)
	}
	ids[t.ID] = struct{}{}
	if t.Type == "sequence" && len(t.Parts) == 0 {
		return fmt.Errorf("sequence %s requires at least one part", t.ID)
	}
	for _, part := range t.Parts {
		if err := checkTreatment(part, ids); err != nil {
			return err
		}
	}
	return nil
}
