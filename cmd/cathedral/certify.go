package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/replay"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
)

// Certificate is the artifact `certify` produces and `verify-cert` checks
// (spec §6 `certify [--level 1|2|3] [--platforms ...]`). Levels escalate
// how much of the bundle they actually exercise:
//
//   - 1: manifest hashes match (bundle.Verify).
//   - 2: level 1, plus a full strict replay reproduces the recorded final
//     state hash (spec P7, "replay idempotence").
//   - 3: level 2, plus replaying the event log twice from scratch yields
//     byte-identical final state hashes both times (spec P5/P7 stability
//     within a single process; this reference implementation has no
//     multi-host harness to replay on the listed platforms for real, so
//     --platforms is recorded on the certificate but not independently
//     exercised).
type Certificate struct {
	BundleID        string   `json:"bundle_id"`
	EngineVersion   string   `json:"engine_version"`
	Level           int      `json:"level"`
	Platforms       []string `json:"platforms"`
	FinalStateHash  string   `json:"final_state_hash"`
	EventsProcessed int      `json:"events_processed"`
}

func newCertifyCmd() *cobra.Command {
	var (
		level     int
		platforms string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "certify BUNDLE_DIR",
		Short: "Certify a bundle's manifest integrity and replay determinism",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doCertify(args[0], level, splitCSV(platforms), out)
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "certification level: 1, 2, or 3")
	cmd.Flags().StringVar(&platforms, "platforms", "", "comma-separated platform list to record on the certificate")
	cmd.Flags().StringVar(&out, "out", "", "path to write the certificate JSON (default: stdout)")
	return cmd
}

func newVerifyCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-cert CERT_FILE BUNDLE_DIR",
		Short: "Verify a bundle still matches a previously issued certificate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doVerifyCert(args[0], args[1])
		},
	}
	return cmd
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func doCertify(dir string, level int, platforms []string, out string) error {
	if level < 1 || level > 3 {
		return classify(kerr.New(kerr.InvalidInput, "--level must be 1, 2, or 3"))
	}

	manifest, err := certifyLevel1(dir)
	if err != nil {
		return classify(err)
	}

	contents, _, err := bundle.Open(dir)
	if err != nil {
		return classify(err)
	}

	cert := Certificate{BundleID: manifest.BundleID, EngineVersion: manifest.EngineVersion, Level: 1, Platforms: platforms}

	if level >= 2 {
		result, err := replay.Replay(contents.Events, eventlog.Cursor{}, snapshot.State{})
		if err != nil {
			return classify(err)
		}
		cert.Level = 2
		cert.FinalStateHash = result.FinalState.Hash().String()
		cert.EventsProcessed = result.EventsProcessed
	}

	if level >= 3 {
		second, err := replay.Replay(contents.Events, eventlog.Cursor{}, snapshot.State{})
		if err != nil {
			return classify(err)
		}
		if second.FinalState.Hash().String() != cert.FinalStateHash {
			return classify(kerr.New(kerr.StateHashMismatch, "replay is not stable across repeated runs"))
		}
		cert.Level = 3
	}

	b, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return userErr(err)
	}
	if out == "" {
		printf("%s\n", b)
		return nil
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return userErr(err)
	}
	printf("certificate written to %s\n", out)
	return nil
}

func certifyLevel1(dir string) (bundle.Manifest, error) {
	if err := bundle.Verify(dir); err != nil {
		return bundle.Manifest{}, err
	}
	_, manifest, err := bundle.Open(dir)
	return manifest, err
}

func doVerifyCert(certPath, dir string) error {
	raw, err := os.ReadFile(certPath)
	if err != nil {
		return classify(kerr.Wrap(kerr.InvalidInput, "read certificate", err))
	}
	var cert Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return classify(kerr.Wrap(kerr.InvalidInput, "parse certificate", err))
	}

	manifest, err := certifyLevel1(dir)
	if err != nil {
		return classify(err)
	}
	if manifest.BundleID != cert.BundleID {
		return classify(kerr.New(kerr.BundleValidationFailed, "certificate bundle_id does not match bundle"))
	}

	if cert.Level >= 2 {
		contents, _, err := bundle.Open(dir)
		if err != nil {
			return classify(err)
		}
		result, err := replay.Replay(contents.Events, eventlog.Cursor{}, snapshot.State{})
		if err != nil {
			return classify(err)
		}
		var got hashid.Hash
		got = result.FinalState.Hash()
		if got.String() != cert.FinalStateHash {
			return classify(kerr.New(kerr.StateHashMismatch, "bundle no longer matches the certified final state"))
		}
	}

	printf("certificate valid at level %d\n", cert.Level)
	return nil
}
