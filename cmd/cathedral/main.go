// Command cathedral is the CLI surface for CATHEDRAL.FABRIC (spec §6):
// run, replay, diff, bundle, verify-bundle, inspect, policy, certify,
// verify-cert, and sim. The CLI is explicitly shape-only scope (spec
// §1) — it wires the kernel's internal packages together the way the
// teacher's cli/main.go wires opal's lexer/parser/planner/executor, but
// carries none of the kernel's own logic.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// EngineVersion is stamped into every bundle and certificate this build
// produces.
const EngineVersion = "v1.0.0"

func main() {
	var noColor bool

	root := &cobra.Command{
		Use:           "cathedral",
		Short:         "Verifiable execution substrate for agent/workflow DAGs",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(),
		newReplayCmd(),
		newDiffCmd(),
		newBundleCmd(),
		newVerifyBundleCmd(),
		newInspectCmd(),
		newPolicyCmd(),
		newCertifyCmd(),
		newVerifyCertCmd(),
		newSimCmd(),
	)

	err := root.Execute()
	if err != nil {
		FormatError(os.Stderr, err, ShouldUseColor(noColor))
	}
	os.Exit(exitCodeOf(err))
}

func printf(format string, args ...any) { fmt.Fprintf(os.Stdout, format, args...) }
func eprintf(format string, args ...any) { fmt.Fprintf(os.Stderr, format, args...) }
