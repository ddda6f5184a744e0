package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/internal/scenario"
	"github.com/timzifer/regimen/internal/sim"
	"github.com/timzifer/regimen/telemetry"
)

const checkConfig = `diseases:
  - id: fracture
    stages:
      - level: progressing
treatments:
  - id: splint
    type: sequence
    disease: fracture
    parts:
      - id: bandage
        type: timed
        settings:
          appliance: bandage
          body_part: left_leg
          level: progressing
          interval: 1h
          doses: 2
`

func TestExecuteConfigCheck(t *testing.T) {
	cfg, err := config.Parse("regimen.yaml", []byte(checkConfig))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.Equal(t, 0, executeConfigCheck(cfg, &buf))
	out := buf.String()
	require.Contains(t, out, `Treatment "splint" (sequence)`)
	require.Contains(t, out, `  Treatment "bandage" (timed)`)
	require.Contains(t, out, "bandage on left_leg")
	require.Contains(t, out, "2 doses every 1h0m0s (±20m0s)")
	require.Contains(t, out, "completed successfully")

	buf.Reset()
	require.Equal(t, 0, executeConfigCheck(&config.Config{}, &buf))
	require.Contains(t, buf.String(), "No treatments configured.")
}

func TestNewTelemetryCollector(t *testing.T) {
	c, err := newTelemetryCollector(config.TelemetryConfig{}, prometheus.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, telemetry.Noop(), c)

	_, err = newTelemetryCollector(config.TelemetryConfig{Enabled: true, Provider: "statsd"}, prometheus.NewRegistry())
	require.Error(t, err)

	reg := prometheus.NewRegistry()
	c, err = newTelemetryCollector(config.TelemetryConfig{Enabled: true}, reg)
	require.NoError(t, err)
	c.IncNotification("healed", "flu")

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, reg))
	require.Contains(t, buf.String(), `regimen_disease_notifications_total{disease="flu",kind="healed"} 1`)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, scenario.Result{
		Name:    "missed",
		Elapsed: 90 * time.Minute,
		Events:  map[string]int{"start_progressing": 1},
		Failures: []scenario.Failure{
			{Expression: "treatments.a.finished"},
			{Expression: "x +", Err: errors.New("compile: unexpected token")},
		},
	})
	out := buf.String()
	require.Contains(t, out, `Scenario "missed" finished after 1h30m0s`)
	require.Contains(t, out, "start_progressing: 1")
	require.Contains(t, out, "- treatments.a.finished: evaluated to false")
	require.Contains(t, out, "- x +: compile: unexpected token")
}

func TestExampleScenarios(t *testing.T) {
	cfg, err := config.Load("../../examples/regimen.yaml")
	require.NoError(t, err)

	for _, name := range []string{"full_course", "missed_dose"} {
		t.Run(name, func(t *testing.T) {
			sc, err := scenario.Load("../../examples/scenarios/" + name + ".yaml")
			require.NoError(t, err)
			engine, err := sim.New(cfg)
			require.NoError(t, err)
			result, err := sc.Run(context.Background(), engine)
			require.NoError(t, err)
			require.True(t, result.Passed(), "failures: %v", result.Failures)
		})
	}
}
