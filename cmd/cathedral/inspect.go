package main

import (
	"github.com/spf13/cobra"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

func newInspectCmd() *cobra.Command {
	var (
		blobHex string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "inspect BUNDLE_DIR",
		Short: "Print a bundle's metadata, event log, and (optionally) a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doInspect(args[0], blobHex, watch)
		},
	}
	cmd.Flags().StringVar(&blobHex, "blob", "", "blob address (blake3:<64 hex>) to dump instead of the summary")
	cmd.Flags().BoolVar(&watch, "watch", false, "after the summary, tail events.cath-log for new events until interrupted")
	return cmd
}

func doInspect(dir, blobHex string, watch bool) error {
	contents, manifest, err := bundle.Open(dir)
	if err != nil {
		return classify(err)
	}

	if blobHex != "" {
		addr, err := hashid.ParseAddress(blobHex)
		if err != nil {
			return userErr(err)
		}
		if contents.BlobStore == nil {
			return userErr(err)
		}
		b, err := contents.BlobStore.Get(addr)
		if err != nil {
			return classify(err)
		}
		printf("%s", b)
		return nil
	}

	m := contents.Metadata
	printf("bundle_id:      %s\n", manifest.BundleID)
	printf("bundle_version: %s\n", manifest.BundleVersion)
	printf("engine_version: %s\n", manifest.EngineVersion)
	printf("run_id:         %s\n", m.RunID)
	printf("workflow:       %s %s\n", m.WorkflowName, m.WorkflowVersion)
	printf("status:         %s\n", m.Status)
	printf("nodes:          %d (completed %d, failed %d)\n", m.NodeCount, m.CompletedNodeCount, m.FailedNodeCount)
	printf("platform:       %s\n", m.Platform)
	printf("events:         %d\n", contents.Events.Len())

	it := contents.Events.All()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		printf("  [%d] %s node=%s\n", e.LogicalTime, e.Kind, e.NodeID)
	}

	if contents.Snapshot != nil {
		printf("snapshot present: logical_time=%d\n", contents.Snapshot.LogicalTime)
	}

	if !watch {
		return nil
	}

	printf("watching %s for new events (ctrl-c to stop)...\n", dir)
	lastCount := contents.Events.Len()
	return watchEventsFile(dir, func() error {
		log, err := readEventsTail(dir)
		if err != nil {
			eprintf("watch: %v\n", err)
			return nil
		}
		if err := log.Validate(); err != nil {
			eprintf("watch: chain invalid: %v\n", err)
			return nil
		}
		for i := lastCount; i < log.Len(); i++ {
			e, ok := log.At(i)
			if !ok {
				break
			}
			printf("  [%d] %s node=%s\n", e.LogicalTime, e.Kind, e.NodeID)
		}
		lastCount = log.Len()
		return nil
	})
}
