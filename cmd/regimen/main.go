package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/regimen/config"
	"github.com/timzifer/regimen/internal/logging"
	"github.com/timzifer/regimen/internal/scenario"
	"github.com/timzifer/regimen/internal/sim"
	"github.com/timzifer/regimen/internal/store"
	"github.com/timzifer/regimen/telemetry"
	"github.com/timzifer/regimen/treatment"
)

func main() {
	cfgPath := flag.String("config", "regimen.yaml", "Path to configuration file")
	scenarioPath := flag.String("scenario", "", "Path to the scenario to play")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	snapshotDir := flag.String("snapshot-dir", "", "Directory to write treatment snapshots to after the run")
	restore := flag.Bool("restore", false, "Restore treatment snapshots before the run")
	dumpMetrics := flag.Bool("metrics", false, "Print Prometheus metrics after the run")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if *configCheck {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg, os.Stdout))
	}
	if *scenarioPath == "" {
		log.Fatal().Msg("-scenario is required")
	}
	os.Exit(run(cfg, *scenarioPath, *snapshotDir, *restore, *dumpMetrics))
}

func run(cfg *config.Config, scenarioPath, snapshotDir string, restore, dumpMetrics bool) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	registry := prometheus.NewRegistry()
	collector, err := newTelemetryCollector(cfg.Telemetry, registry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}

	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load scenario")
	}

	engine, err := sim.New(cfg, sim.WithLogger(logger), sim.WithTelemetry(collector))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create simulation")
	}

	dir := snapshotDir
	if dir == "" {
		dir = cfg.Snapshots.Dir
	}
	if restore {
		if dir == "" {
			logger.Fatal().Msg("-restore needs a snapshot directory")
		}
		if err := engine.RestoreSnapshots(ctx, store.NewFileStore(dir)); err != nil {
			logger.Fatal().Err(err).Msg("failed to restore snapshots")
		}
	}

	result, err := sc.Run(ctx, engine)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("scenario interrupted")
			return 1
		}
		logger.Fatal().Err(err).Msg("scenario stopped")
	}

	if dir != "" {
		if err := engine.SaveSnapshots(ctx, store.NewFileStore(dir)); err != nil {
			logger.Error().Err(err).Msg("failed to save snapshots")
		}
	}

	printResult(os.Stdout, result)
	if dumpMetrics {
		if err := writeMetrics(os.Stdout, registry); err != nil {
			logger.Error().Err(err).Msg("failed to write metrics")
		}
	}
	if !result.Passed() {
		return 1
	}
	return 0
}

func newTelemetryCollector(cfg config.TelemetryConfig, reg prometheus.Registerer) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(reg)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

func executeConfigCheck(cfg *config.Config, w io.Writer) int {
	engine, err := sim.New(cfg)
	if err != nil {
		fmt.Fprintf(w, "configuration invalid: %v\n", err)
		return 1
	}
	nodes := engine.Nodes()
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No treatments configured.")
		return 0
	}
	for _, node := range nodes {
		printNode(w, node, "")
	}
	fmt.Fprintln(w, "Configuration check completed successfully.")
	return 0
}

func printNode(w io.Writer, node treatment.Node, indent string) {
	switch n := node.(type) {
	case *treatment.Tracker:
		def := n.Definition()
		part := string(def.BodyPart)
		if part == "" {
			part = "any"
		}
		fmt.Fprintf(w, "%sTreatment %q (timed)\n", indent, def.ID)
		fmt.Fprintf(w, "%s  Appliance: %s on %s\n", indent, def.Appliance, part)
		fmt.Fprintf(w, "%s  Stage: %s\n", indent, def.Level)
		fmt.Fprintf(w, "%s  Schedule: %d doses every %s (±%s)\n", indent, def.RequiredDoses, def.Interval, def.Tolerance)
	case *treatment.Sequence:
		fmt.Fprintf(w, "%sTreatment %q (sequence)\n", indent, n.ID())
		for _, part := range n.Parts() {
			printNode(w, part, indent+"  ")
		}
	default:
		fmt.Fprintf(w, "%sTreatment %q\n", indent, node.ID())
	}
}

func printResult(w io.Writer, result scenario.Result) {
	fmt.Fprintf(w, "Scenario %q finished after %s\n", result.Name, result.Elapsed)
	fmt.Fprintln(w, "  Notifications:")
	for _, kind := range []string{"treatment_started", "healing_continued", "healed", "start_progressing"} {
		fmt.Fprintf(w, "    %s: %d\n", kind, result.Events[kind])
	}
	if result.Passed() {
		fmt.Fprintln(w, "  Status: OK")
		return
	}
	fmt.Fprintln(w, "  Failed expectations:")
	for _, f := range result.Failures {
		fmt.Fprintf(w, "    - %s\n", f)
	}
}

func writeMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
