package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate, test, or explain a scenario's policy",
	}
	cmd.AddCommand(newPolicyValidateCmd(), newPolicyTestCmd(), newPolicyExplainCmd())
	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate SCENARIO_FILE",
		Short: "Compile a scenario's policy and report conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadScenarioPolicy(args[0])
			if err != nil {
				return classify(err)
			}
			printf("policy compiles cleanly\n")
			return nil
		},
	}
}

func newPolicyTestCmd() *cobra.Command {
	var tool, capName, tenant string
	cmd := &cobra.Command{
		Use:   "test SCENARIO_FILE",
		Short: "Evaluate a policy decision for a synthetic context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPolicyTest(args[0], tool, capName, tenant)
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "tool name to evaluate")
	cmd.Flags().StringVar(&capName, "capability", "", "capability kind to evaluate")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id to evaluate")
	return cmd
}

func newPolicyExplainCmd() *cobra.Command {
	var tool, capName, tenant string
	cmd := &cobra.Command{
		Use:   "explain SCENARIO_FILE",
		Short: "Explain a policy decision, with suggestions on no-match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPolicyExplain(args[0], tool, capName, tenant)
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "tool name to evaluate")
	cmd.Flags().StringVar(&capName, "capability", "", "capability kind to evaluate")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id to evaluate")
	return cmd
}

func loadScenarioPolicy(path string) (*policy.CompiledPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "read scenario file", err)
	}
	var sf scenarioFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, kerr.Wrap(kerr.InvalidInput, "parse scenario yaml", err)
	}
	return compileScenarioPolicy(sf)
}

func matchContext(tool, capName, tenant string) (policy.MatchContext, error) {
	ctx := policy.MatchContext{ToolName: tool, TenantID: tenant}
	if capName != "" {
		kind, err := parseCapKind(capName)
		if err != nil {
			return ctx, err
		}
		ctx.Capability, ctx.HasCapability = kind, true
	}
	return ctx, nil
}

func doPolicyTest(path, tool, capName, tenant string) error {
	cp, err := loadScenarioPolicy(path)
	if err != nil {
		return classify(err)
	}
	ctx, err := matchContext(tool, capName, tenant)
	if err != nil {
		return classify(err)
	}
	proof := cp.Decide(ctx, kernel.LogicalTime(0))
	printf("allowed:   %v\n", proof.Allowed)
	printf("matched:   %s\n", proof.Matched)
	printf("reasoning: %s\n", proof.Reasoning)
	if !proof.Allowed {
		return deniedErr(kerr.New(kerr.PolicyDenied, "policy denies "+tool))
	}
	return nil
}

func doPolicyExplain(path, tool, capName, tenant string) error {
	cp, err := loadScenarioPolicy(path)
	if err != nil {
		return classify(err)
	}
	ctx, err := matchContext(tool, capName, tenant)
	if err != nil {
		return classify(err)
	}
	exp := cp.Explain(ctx)
	printf("allowed:   %v\n", exp.Allowed)
	printf("matched:   %s\n", exp.Matched)
	printf("reasoning: %s\n", exp.Reasoning)
	for _, s := range exp.Suggestions {
		printf("did you mean: %s\n", s)
	}
	return nil
}
