package main

import (
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/config"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/run"
)

func newSimCmd() *cobra.Command {
	var (
		scenarioPath string
		seed         int64
		count        int
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a scenario count times from the same seed and confirm identical final state hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSim(scenarioPath, seed, count)
		},
	}
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "path to a scenario YAML file (required)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "deterministic seed driving both id generation and the run")
	cmd.Flags().IntVar(&count, "count", 3, "number of independent runs to compare")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

// seededIDGen returns an ID generator that is deterministic given seed:
// kernel.NewID draws from crypto/rand and is unsuitable here, since `sim`
// exists specifically to demonstrate spec P5 (scheduler determinism) by
// running the same scenario repeatedly and comparing results byte for
// byte.
func seededIDGen(seed int64) func(prefix string) kernel.ID {
	rng := rand.New(rand.NewSource(seed))
	return func(prefix string) kernel.ID {
		var b [16]byte
		rng.Read(b[:])
		return kernel.IDFromBytes(prefix, b)
	}
}

func doSim(scenarioPath string, seed int64, count int) error {
	if count < 2 {
		return classify(kerr.New(kerr.InvalidInput, "--count must be at least 2"))
	}

	var firstHash string
	for i := 0; i < count; i++ {
		sc, err := loadScenario(scenarioPath)
		if err != nil {
			return classify(err)
		}

		idGen := seededIDGen(seed)
		r := run.New(run.Options{
			ID:             idGen("run"),
			DAG:            sc.DAG,
			Tools:          sc.Tools,
			ABI:            scenarioABI(),
			Grants:         sc.Grants,
			Policy:         sc.Policy,
			Config:         config.Default(),
			Workers:        sc.Workers,
			SchedulerOrder: sc.EntryOrder,
			IDGen:          idGen,
		})

		if err := r.Start(); err != nil {
			return classify(err)
		}
		if err := r.Run(); err != nil {
			return classify(err)
		}

		hash := r.State().Hash().String()
		printf("run %d/%d: %d events, final state %s\n", i+1, count, r.Log().Len(), hash)

		if i == 0 {
			firstHash = hash
			continue
		}
		if hash != firstHash {
			return classify(kerr.New(kerr.ReplayDiverged, "sim runs diverged: scheduler is not deterministic for this seed"))
		}
	}

	printf("all %d runs produced identical final state %s\n", count, firstHash)
	return nil
}
