package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/config"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/kernel/telemetry"
	"github.com/cathedral-fabric/fabric/internal/run"
)

func newRunCmd() *cobra.Command {
	var (
		scenarioPath  string
		configPath    string
		outDir        string
		telemetryPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a workflow scenario to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(scenarioPath, configPath, outDir, telemetryPath, true)
		},
	}
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "path to a scenario YAML file (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a kernel config YAML file")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write a .cath-bundle/ into")
	cmd.Flags().StringVar(&telemetryPath, "telemetry", "", "write NDJSON operator telemetry to this path (debug aid; never authoritative, see the event log)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

// doRun loads sc, drives a Run to completion, and (if outDir is set)
// writes the result as a bundle. verbose controls whether per-event
// progress is echoed to stdout (the `run` command wants this; `bundle`
// reuses the same path silently).
func doRun(scenarioPath, configPath, outDir, telemetryPath string, verbose bool) error {
	scenarioBytes, err := os.ReadFile(scenarioPath)
	if err != nil {
		return classify(kerr.Wrap(kerr.InvalidInput, "read scenario", err))
	}

	sc, err := loadScenario(scenarioPath)
	if err != nil {
		return classify(err)
	}

	cfg := config.Default()
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return classify(kerr.Wrap(kerr.InvalidInput, "read config", err))
		}
		cfg, err = config.Parse(raw)
		if err != nil {
			return classify(err)
		}
	}

	sink, closeSink, err := openTelemetrySink(telemetryPath)
	if err != nil {
		return classify(err)
	}
	defer closeSink()

	runID := kernel.NewID("run")
	r := run.New(run.Options{
		ID:             runID,
		DAG:            sc.DAG,
		Tools:          sc.Tools,
		ABI:            scenarioABI(),
		Grants:         sc.Grants,
		Policy:         sc.Policy,
		Config:         cfg,
		Workers:        sc.Workers,
		SchedulerOrder: sc.EntryOrder,
	})

	sink.Emit("run_submitted", map[string]any{"run_id": runID.String(), "nodes": len(sc.DAG.Nodes), "workers": len(sc.Workers)})

	if err := r.Start(); err != nil {
		sink.Emit("run_start_failed", map[string]any{"run_id": runID.String(), "error": err.Error()})
		return classify(err)
	}
	if verbose {
		printf("run %s started (%d nodes, %d workers)\n", runID, len(sc.DAG.Nodes), len(sc.Workers))
	}

	if err := r.Run(); err != nil {
		sink.Emit("run_failed", map[string]any{"run_id": runID.String(), "error": err.Error()})
		return classify(err)
	}

	if verbose {
		printEventLog(r)
	}
	emitEventTelemetry(sink, r)

	status := "completed"
	if r.Status() == run.StatusFailed {
		status = "failed"
	}
	sink.Emit("run_finished", map[string]any{"run_id": runID.String(), "status": status, "events": r.Log().Len()})
	printf("run %s %s (%d events, final state %s)\n", runID, status, r.Log().Len(), r.State().Hash())

	if outDir == "" {
		return nil
	}
	return writeBundle(r, sc, scenarioBytes, outDir)
}

// openTelemetrySink opens the operator-facing NDJSON debug sink for
// `run`/`bundle` (spec §9 "the coroutine/async control flow... is never
// the source of truth" — telemetry here is purely diagnostic). An empty
// path disables it; the returned closer is always safe to call.
func openTelemetrySink(path string) (telemetry.Sink, func(), error) {
	if path == "" {
		return telemetry.Discard{}, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, kerr.Wrap(kerr.InvalidInput, "create telemetry file", err)
	}
	return telemetry.NewJSONLines(f), func() { _ = f.Close() }, nil
}

// emitEventTelemetry mirrors the finished run's event log into sink, one
// telemetry record per event. This never feeds back into anything
// replay-sensitive; the event log itself remains the sole source of
// truth.
func emitEventTelemetry(sink telemetry.Sink, r *run.Run) {
	it := r.Log().All()
	for {
		e, ok := it.Next()
		if !ok {
			return
		}
		sink.Emit("event", map[string]any{
			"event_id":     e.EventID.String(),
			"node_id":      e.NodeID.String(),
			"kind":         e.Kind.String(),
			"logical_time": uint64(e.LogicalTime),
		})
	}
}

func printEventLog(r *run.Run) {
	it := r.Log().All()
	for {
		e, ok := it.Next()
		if !ok {
			return
		}
		printf("  [%d] %s node=%s\n", e.LogicalTime, e.Kind, e.NodeID)
	}
}

func writeBundle(r *run.Run, sc *builtScenario, workflow []byte, outDir string) error {
	meta := bundle.NewMetadata(r.ID(), sc.WorkflowName, sc.WorkflowVersion, 0, platformDescriptor(), EngineVersion)
	completionStatus := bundle.StatusCompleted
	if r.Status() != run.StatusCompleted {
		completionStatus = bundle.StatusFailed
	}
	final, _ := r.Log().Last()
	meta.NodeCount = len(sc.DAG.Nodes)
	meta = meta.Complete(final.LogicalTime, completionStatus, len(r.State().Coordinator.CompletedNodes), len(r.State().Coordinator.FailedNodes))

	contents := bundle.Contents{
		Metadata: meta,
		Workflow: workflow,
		DAG:      sc.DAG,
		Events:   r.Log(),
	}
	if snaps := r.Snapshots(); len(snaps) > 0 {
		last := snaps[len(snaps)-1]
		contents.Snapshot = &last
	}

	bundleID := kernel.NewID("bundle")
	if err := bundle.Write(outDir, bundleID, final.LogicalTime, EngineVersion, contents); err != nil {
		return classify(err)
	}
	printf("bundle written to %s\n", outDir)
	return nil
}

func platformDescriptor() string {
	return os.Getenv("GOOS") + "/" + os.Getenv("GOARCH")
}
