package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `cycle: 5m
start: 2024-05-01T08:00:00Z
logging:
  level: debug
  format: text
telemetry:
  enabled: true
snapshots:
  dir: snapshots
diseases:
  - id: flu
    infected_after: 30m
    stages:
      - level: initial
        after: 0
      - level: progressing
        after: 4h
treatments:
  - id: antibiotics
    type: timed
    disease: flu
    settings:
      appliance: antibiotic
      level: initial
      interval: 60
      doses: 3
  - id: splint
    type: sequence
    disease: flu
    parts:
      - id: splint-bandage
        type: timed
        settings:
          appliance: bandage
          body_part: left_arm
          level: progressing
          interval: 2h
          doses: 2
          tolerance: 30m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regimen.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.CycleInterval(); got != 5*time.Minute {
		t.Fatalf("expected 5m cycle, got %s", got)
	}
	if want := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC); !cfg.StartTime().Equal(want) {
		t.Fatalf("expected start %s, got %s", want, cfg.StartTime())
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
	flu, ok := cfg.Disease("flu")
	if !ok {
		t.Fatalf("expected disease flu")
	}
	if flu.InfectedAfter.Duration != 30*time.Minute {
		t.Fatalf("expected infected_after 30m, got %s", flu.InfectedAfter.Duration)
	}
	if len(flu.Stages) != 2 || flu.Stages[1].After.Duration != 4*time.Hour {
		t.Fatalf("unexpected stages %+v", flu.Stages)
	}
	if len(cfg.Treatments) != 2 {
		t.Fatalf("expected 2 treatments, got %d", len(cfg.Treatments))
	}
	timed := cfg.Treatments[0]
	if timed.Settings["appliance"] != "antibiotic" {
		t.Fatalf("expected appliance antibiotic, got %v", timed.Settings["appliance"])
	}
	if timed.Settings["doses"] != 3 {
		t.Fatalf("expected 3 doses, got %v", timed.Settings["doses"])
	}
	seq := cfg.Treatments[1]
	if len(seq.Parts) != 1 || seq.Parts[0].Settings["body_part"] != "left_arm" {
		t.Fatalf("unexpected sequence parts %+v", seq.Parts)
	}
}

func TestDefaults(t *testing.T) {
	var cfg *Config
	if cfg.CycleInterval() != time.Minute {
		t.Fatalf("expected default cycle of one minute")
	}
	if !cfg.StartTime().Equal(DefaultStart) {
		t.Fatalf("expected default start")
	}
}

func TestSchemaRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown level":     strings.Replace(validConfig, "level: initial\n      interval", "level: terminal\n      interval", 1),
		"missing appliance": strings.Replace(validConfig, "appliance: antibiotic\n", "", 1),
		"zero doses":        strings.Replace(validConfig, "doses: 3", "doses: 0", 1),
		"unknown type":      strings.Replace(validConfig, "type: timed\n    disease", "type: daily\n    disease", 1),
		"unknown section":   validConfig + "extra: true\n",
		"bad format":        strings.Replace(validConfig, "format: text", "format: xml", 1),
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if content == validConfig {
				t.Fatalf("test case did not modify the document")
			}
			if _, err := Parse("regimen.yaml", []byte(content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSemanticChecks(t *testing.T) {
	cases := map[string]string{
		"unknown disease": strings.Replace(validConfig, "disease: flu\n    settings", "disease: cold\n    settings", 1),
		"duplicate id":    strings.Replace(validConfig, "id: splint-bandage", "id: antibiotics", 1),
		"empty sequence": `diseases:
  - id: flu
    stages:
      - level: initial
treatments:
  - id: seq
    type: sequence
    disease: flu
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse("regimen.yaml", []byte(content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
