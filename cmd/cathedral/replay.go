package main

import (
	"github.com/spf13/cobra"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/replay"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

func newReplayCmd() *cobra.Command {
	var tolerant bool
	cmd := &cobra.Command{
		Use:   "replay BUNDLE_DIR",
		Short: "Replay a bundle's event log and report the reconstructed state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doReplay(args[0], tolerant)
		},
	}
	cmd.Flags().BoolVar(&tolerant, "tolerant", false, "continue past divergences instead of stopping at the first")
	return cmd
}

func doReplay(dir string, tolerant bool) error {
	contents, manifest, err := bundle.Open(dir)
	if err != nil {
		return classify(err)
	}
	printf("bundle %s (engine %s, %d files)\n", manifest.BundleID, manifest.EngineVersion, len(manifest.Files))

	var result replay.Result
	if tolerant {
		result = replay.ReplayTolerant(contents.Events, eventlog.Cursor{}, snapshot.State{})
	} else {
		result, err = replay.Replay(contents.Events, eventlog.Cursor{}, snapshot.State{})
		if err != nil {
			return classify(err)
		}
	}

	printf("replayed %d events, final state %s\n", result.EventsProcessed, result.FinalState.Hash())
	if len(result.Divergences) == 0 {
		return nil
	}
	for _, d := range result.Divergences {
		eprintf("divergence at event %d (%s): expected %s got %s: %s\n",
			d.EventIndex, d.EventID, d.Expected, d.Got, d.Reason)
	}
	return classify(kerr.New(kerr.ReplayDiverged, "replay diverged from the recorded log"))
}
