package sim

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/events"
	"github.com/timzifer/regimen/internal/store"
	"github.com/timzifer/regimen/telemetry"
	"github.com/timzifer/regimen/treatment"
)

func testConfig(doses int) *config.Config {
	return &config.Config{
		Cycle: config.Duration{Duration: time.Minute},
		Diseases: []config.DiseaseConfig{{
			ID: "flu",
			Stages: []config.StageConfig{
				{Level: "initial"},
				{Level: "progressing", After: config.Duration{Duration: 12 * time.Hour}},
			},
		}},
		Treatments: []config.TreatmentConfig{{
			ID:      "antibiotics",
			Type:    treatment.KindTimed,
			Disease: "flu",
			Settings: map[string]interface{}{
				"appliance": "antibiotic",
				"level":     "initial",
				"interval":  60,
				"doses":     doses,
			},
		}},
	}
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *events.Recorder) {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	rec := &events.Recorder{}
	e.Bus().SubscribeAll(rec.Publish)
	return e, rec
}

func dose(at time.Duration) Dose {
	return Dose{At: at, Appliance: "antibiotic", BodyPart: treatment.Torso, Disease: "flu"}
}

func TestEngineCompletesRegimen(t *testing.T) {
	e, rec := newEngine(t, testConfig(3))
	err := e.RunUntil(context.Background(), 3*time.Hour, []Dose{
		dose(121 * time.Minute),
		dose(0),
		dose(60 * time.Minute),
	})
	require.NoError(t, err)

	node, ok := e.Node("antibiotics")
	require.True(t, ok)
	require.True(t, node.IsFinished())
	require.False(t, node.IsFailed())
	require.Equal(t, []events.Kind{events.TreatmentStarted, events.HealingContinued, events.Healed}, rec.Kinds())

	flu, ok := e.Disease("flu")
	require.True(t, ok)
	require.True(t, flu.IsTreated())
	require.False(t, flu.IsHealing())
	require.Equal(t, 3*time.Hour, e.Elapsed())
}

func TestEngineFailsMissedWindow(t *testing.T) {
	e, rec := newEngine(t, testConfig(2))
	require.NoError(t, e.RunUntil(context.Background(), 80*time.Minute, []Dose{dose(0)}))
	node, _ := e.Node("antibiotics")
	require.False(t, node.IsFailed())

	e.Step(time.Minute)
	require.True(t, node.IsFailed())
	require.False(t, node.IsStarted())
	require.Zero(t, Progress(node.Snapshot()))
	require.Equal(t, []events.Kind{events.TreatmentStarted, events.StartProgressing}, rec.Kinds())

	flu, _ := e.Disease("flu")
	require.False(t, flu.IsHealing())
}

func TestEngineRejectsUnknownDiseaseAndSelfHealing(t *testing.T) {
	cfg := testConfig(2)
	cfg.Diseases[0].SelfHealing = true
	e, rec := newEngine(t, cfg)

	require.False(t, e.UseAppliance("antibiotic", treatment.Torso, "cold"))
	require.False(t, e.UseAppliance("antibiotic", treatment.Torso, "flu"))
	require.Empty(t, rec.Events)
	require.Equal(t, []string{"flu"}, e.DiseaseIDs())
}

func TestEngineDoseBeforeInfectionIsRejected(t *testing.T) {
	cfg := testConfig(2)
	cfg.Diseases[0].InfectedAfter = config.Duration{Duration: time.Hour}
	e, _ := newEngine(t, cfg)

	require.False(t, e.UseAppliance("antibiotic", treatment.Torso, "flu"))
	e.Step(time.Hour)
	require.True(t, e.UseAppliance("antibiotic", treatment.Torso, "flu"))
}

func TestEngineRecordsTelemetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(reg)
	require.NoError(t, err)

	e, _ := newEngine(t, testConfig(3), WithTelemetry(collector))
	require.NoError(t, e.RunUntil(context.Background(), 2*time.Hour, []Dose{
		dose(0),
		dose(10 * time.Minute),
		{At: 20 * time.Minute, Appliance: "bandage", Disease: "flu"},
		dose(60 * time.Minute),
	}))

	families, err := reg.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	notifications := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.Metric {
			labels := map[string]string{}
			for _, l := range m.Label {
				labels[l.GetName()] = l.GetValue()
			}
			switch mf.GetName() {
			case "regimen_treatment_doses_total":
				if labels["treatment"] == "antibiotics" {
					outcomes[labels["outcome"]] = m.GetCounter().GetValue()
				}
			case "regimen_disease_notifications_total":
				if labels["disease"] == "flu" {
					notifications[labels["kind"]] = m.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, 2.0, outcomes[telemetry.OutcomeInWindow])
	require.Equal(t, 1.0, outcomes[telemetry.OutcomeAccepted])
	require.Equal(t, 1.0, outcomes[telemetry.OutcomeRejected])
	require.Equal(t, 1.0, notifications["treatment_started"])
	require.Equal(t, 1.0, notifications["healing_continued"])
}

func TestEngineSnapshotsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	first, _ := newEngine(t, testConfig(3))
	require.NoError(t, first.RunUntil(ctx, 90*time.Minute, []Dose{dose(0), dose(60 * time.Minute)}))
	require.NoError(t, first.SaveSnapshots(ctx, s))

	second, rec := newEngine(t, testConfig(3))
	require.NoError(t, second.RestoreSnapshots(ctx, s))
	before, _ := first.Node("antibiotics")
	after, _ := second.Node("antibiotics")
	require.Equal(t, before.Snapshot(), after.Snapshot())
	require.Equal(t, 90*time.Minute, second.Elapsed())
	flu, _ := second.Disease("flu")
	require.True(t, flu.IsHealing())
	require.Equal(t, first.diseases["flu"].State(), flu.State())

	require.NoError(t, second.RunUntil(ctx, 5*time.Hour, nil))
	require.True(t, after.IsFailed())
	require.False(t, after.IsStarted())
	require.False(t, flu.IsHealing())
	require.Equal(t, 1, rec.Count(events.StartProgressing))

	third, rec := newEngine(t, testConfig(3))
	require.NoError(t, third.RestoreSnapshots(ctx, s))
	require.NoError(t, third.RunUntil(ctx, 3*time.Hour, []Dose{dose(120 * time.Minute)}))
	node, _ := third.Node("antibiotics")
	require.True(t, node.IsFinished())
	require.Equal(t, []events.Kind{events.Healed}, rec.Kinds())

	empty, _ := newEngine(t, testConfig(3))
	require.NoError(t, empty.RestoreSnapshots(ctx, store.NewMemoryStore()))
	require.Zero(t, empty.Elapsed())
}

func TestEngineRestoreWithoutWorldDerivesIt(t *testing.T) {
	ctx := context.Background()
	first, _ := newEngine(t, testConfig(3))
	require.NoError(t, first.RunUntil(ctx, 90*time.Minute, []Dose{dose(0), dose(60 * time.Minute)}))
	node, _ := first.Node("antibiotics")
	s := store.NewMemoryStore()
	require.NoError(t, s.Save(ctx, "antibiotics", node.Snapshot()))

	second, rec := newEngine(t, testConfig(3))
	require.NoError(t, second.RestoreSnapshots(ctx, s))
	require.Equal(t, 60*time.Minute, second.Elapsed())
	flu, _ := second.Disease("flu")
	require.True(t, flu.IsHealing())

	require.NoError(t, second.RunUntil(ctx, 5*time.Hour, nil))
	restored, _ := second.Node("antibiotics")
	require.True(t, restored.IsFailed())
	require.Equal(t, 1, rec.Count(events.StartProgressing))
}

func TestEngineRunHonoursCancellation(t *testing.T) {
	e, _ := newEngine(t, testConfig(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.RunUntil(ctx, time.Hour, nil), context.Canceled)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cfg := testConfig(3)
	cfg.Treatments[0].Disease = "cold"
	_, err = New(cfg)
	require.Error(t, err)

	cfg = testConfig(3)
	cfg.Treatments[0].Type = "daily"
	_, err = New(cfg)
	require.ErrorIs(t, err, treatment.ErrUnknownKind)

	cfg = testConfig(3)
	cfg.Diseases[0].Stages[0].Level = "mild"
	_, err = New(cfg)
	require.Error(t, err)
}
