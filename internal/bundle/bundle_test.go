package bundle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cathedral-fabric/fabric/internal/bundle"
	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
)

func fixtureDAG() *dag.DAG {
	a := kernel.NewID("node")
	return dag.New([]dag.Node{{ID: a, Name: "fetch"}}, nil)
}

func fixtureLog(runID kernel.ID) *eventlog.Log {
	log := eventlog.New()
	e := eventlog.NewEvent(kernel.NewID("evt"), runID, kernel.ID{}, 1, eventlog.KindRunStarted, eventlog.EncodePayload(eventlog.RunStartedPayload{}))
	_ = log.Append(e)
	return log
}

func TestWriteOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	runID := kernel.NewID("run")

	meta := bundle.NewMetadata(runID, "fetch-and-summarize", "1.0.0", 1, "linux/amd64", "v1.0.0")
	c := bundle.Contents{
		Metadata: meta,
		Workflow: []byte("workflow source"),
		DAG:      fixtureDAG(),
		Events:   fixtureLog(runID),
	}

	err := bundle.Write(dir, kernel.NewID("bundle"), 1, "v1.0.0", c)
	require.NoError(t, err)

	got, manifest, err := bundle.Open(dir)
	require.NoError(t, err)
	require.Equal(t, runID.String(), got.Metadata.RunID)
	require.Equal(t, "workflow source", string(got.Workflow))
	require.Len(t, got.DAG.Nodes, 1)
	require.Equal(t, 1, got.Events.Len())
	require.Nil(t, got.Snapshot)
	require.NotEmpty(t, manifest.Files)
}

func TestOpenDetectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	runID := kernel.NewID("run")
	c := bundle.Contents{
		Metadata: bundle.NewMetadata(runID, "wf", "1.0.0", 1, "linux/amd64", "v1.0.0"),
		Workflow: []byte("src"),
		DAG:      fixtureDAG(),
		Events:   fixtureLog(runID),
	}
	require.NoError(t, bundle.Write(dir, kernel.NewID("bundle"), 1, "v1.0.0", c))

	tamperFile(t, dir, "workflow.cath", []byte("tampered"))

	_, _, err := bundle.Open(dir)
	require.Error(t, err)
}

func TestCompatibleVersion(t *testing.T) {
	require.True(t, bundle.CompatibleVersion("v1.0.0", "v1.2.0"))
	require.True(t, bundle.CompatibleVersion("1.0.0", "1.0.0"))
	require.False(t, bundle.CompatibleVersion("v1.5.0", "v1.2.0"))
	require.False(t, bundle.CompatibleVersion("v2.0.0", "v1.2.0"))
}

func TestManifestRoundTrip(t *testing.T) {
	entries := []bundle.ManifestEntry{{Path: "metadata.json", Hash: hashid.H([]byte("x")), Size: 1}}
	m := bundle.NewManifest(kernel.NewID("bundle"), 1, "v1.0.0", entries, 0)

	encoded, err := bundle.EncodeManifest(m)
	require.NoError(t, err)

	decoded, err := bundle.DecodeManifest(encoded)
	require.NoError(t, err)
	require.Equal(t, m.BundleID, decoded.BundleID)
	require.Equal(t, entries[0].Hash, decoded.Files[0].Hash)
}

func tamperFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}
