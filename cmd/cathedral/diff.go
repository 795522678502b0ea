package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/replay"
)

func newDiffCmd() *cobra.Command {
	var (
		left, right string
		asJSON      bool
		semantic    bool
		maxAncestors int
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Localize the first divergence between two bundles' event logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doDiff(left, right, asJSON, semantic, maxAncestors)
		},
	}
	cmd.Flags().StringVar(&left, "left", "", "left bundle directory (required)")
	cmd.Flags().StringVar(&right, "right", "", "right bundle directory (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the divergence report as JSON")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "also emit a field-level semantic diff of the two bundles' metadata")
	cmd.Flags().IntVar(&maxAncestors, "max-ancestors", 10, "max causal ancestor events to collect per side")
	_ = cmd.MarkFlagRequired("left")
	_ = cmd.MarkFlagRequired("right")
	return cmd
}

func doDiff(leftDir, rightDir string, asJSON, semantic bool, maxAncestors int) error {
	leftContents, _, err := bundle.Open(leftDir)
	if err != nil {
		return classify(err)
	}
	rightContents, _, err := bundle.Open(rightDir)
	if err != nil {
		return classify(err)
	}

	report := replay.Diff(leftContents.Events, rightContents.Events, maxAncestors)

	if asJSON {
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return userErr(err)
		}
		printf("%s\n", b)
		return nil
	}

	if report.FirstDivergenceIndex < 0 {
		printf("no divergence: logs align across %d events\n", len(report.Aligned))
		return nil
	}
	printf("first divergence at aligned index %d (likely cause: %s)\n", report.FirstDivergenceIndex, report.LikelyCause)
	printf("causal ancestors: %d events\n", len(report.CausalAncestors))
	for _, e := range report.CausalAncestors {
		printf("  [%d] %s node=%s\n", e.LogicalTime, e.Kind, e.NodeID)
	}

	if semantic {
		leftJSON, err := toJSONAny(leftContents.Metadata)
		if err != nil {
			return userErr(err)
		}
		rightJSON, err := toJSONAny(rightContents.Metadata)
		if err != nil {
			return userErr(err)
		}
		changes := replay.SemanticDiff(leftJSON, rightJSON)
		for _, c := range changes {
			printf("  %s: %s (%v -> %v)\n", c.Path, c.Kind, c.Left, c.Right)
		}
	}
	return nil
}

func toJSONAny(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
