package bundle

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cathedral-fabric/fabric/internal/codec"
	"github.com/cathedral-fabric/fabric/internal/dag"
	"github.com/cathedral-fabric/fabric/internal/eventlog"
	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
	"github.com/cathedral-fabric/fabric/internal/snapshot"
	"github.com/cathedral-fabric/fabric/internal/store"
)

const (
	manifestFile = "MANIFEST.json"
	metadataFile = "metadata.json"
	workflowFile = "workflow.cath"
	dagFile      = "dag.json"
	eventsFile   = "events.cath-log"
	snapshotFile = "snapshot.cath-snap"
)

// EventsFileName is the bundle-relative path of the event log file, spec
// §6 `events.cath-log`. Exported so callers that need to watch the file
// for growth (e.g. `cmd/cathedral`'s `--watch` flags) name it without
// duplicating the literal.
const EventsFileName = eventsFile

// dagDTO is dag.json's transport shape (spec §6: "canonical-encoded DAG
// (JSON for transport; hashes remain over the canonical binary form)").
// It mirrors dag.Node/dag.Edge field-for-field for json tags.
type dagDTO struct {
	Nodes []dagNodeDTO `json:"nodes"`
	Edges []dagEdgeDTO `json:"edges"`
}

type dagNodeDTO struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	RequiredCapabilities []uint32 `json:"required_capabilities"`
	Fuel                 uint64   `json:"fuel"`
	Memory               uint64   `json:"memory"`
	CPU                  uint64   `json:"cpu"`
}

type dagEdgeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func toDagDTO(d *dag.DAG) dagDTO {
	var out dagDTO
	for id, n := range d.Nodes {
		caps := make([]uint32, len(n.RequiredCapabilities))
		for i, c := range n.RequiredCapabilities {
			caps[i] = uint32(c)
		}
		out.Nodes = append(out.Nodes, dagNodeDTO{
			ID: id.String(), Name: n.Name, RequiredCapabilities: caps,
			Fuel: n.Resources.Fuel, Memory: n.Resources.Memory, CPU: n.Resources.CPU,
		})
	}
	for _, e := range d.Edges {
		out.Edges = append(out.Edges, dagEdgeDTO{From: e.From.String(), To: e.To.String()})
	}
	return out
}

func fromDagDTO(dto dagDTO) (*dag.DAG, error) {
	nodes := make([]dag.Node, len(dto.Nodes))
	for i, n := range dto.Nodes {
		id, err := kernel.ParseID(n.ID)
		if err != nil {
			return nil, kerr.Wrap(kerr.BundleCorrupted, "malformed dag node id", err)
		}
		caps := make([]kernel.CapabilityKind, len(n.RequiredCapabilities))
		for j, c := range n.RequiredCapabilities {
			caps[j] = kernel.CapabilityKind(c)
		}
		nodes[i] = dag.Node{
			ID: id, Name: n.Name, RequiredCapabilities: caps,
			Resources: dag.ResourceContract{Fuel: n.Fuel, Memory: n.Memory, CPU: n.CPU},
		}
	}
	edges := make([]dag.Edge, len(dto.Edges))
	for i, e := range dto.Edges {
		from, err := kernel.ParseID(e.From)
		if err != nil {
			return nil, kerr.Wrap(kerr.BundleCorrupted, "malformed dag edge", err)
		}
		to, err := kernel.ParseID(e.To)
		if err != nil {
			return nil, kerr.Wrap(kerr.BundleCorrupted, "malformed dag edge", err)
		}
		edges[i] = dag.Edge{From: from, To: to}
	}
	return dag.New(nodes, edges), nil
}

// Contents is everything a bundle carries, assembled in memory before
// Write and produced by Open.
type Contents struct {
	Metadata   Metadata
	Workflow   []byte // opaque source DSL
	DAG        *dag.DAG
	Events     *eventlog.Log
	Snapshot   *snapshot.Snapshot // nil if absent (spec §6: optional)
	BlobStore  store.Store
	BlobAddrs  []hashid.Address
}

// Write serializes c into dir as a `.cath-bundle/` directory, writing
// MANIFEST.json last so every other file's hash is already known (spec
// §6: "MANIFEST.json: ... for each file: hash, size").
func Write(dir string, bundleID kernel.ID, createdAt kernel.LogicalTime, engineVersion string, c Contents) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kerr.Wrap(kerr.StorageError, "create bundle dir", err)
	}

	var entries []ManifestEntry

	metaBytes, err := EncodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	if err := writeTracked(dir, metadataFile, metaBytes, false, &entries); err != nil {
		return err
	}

	if err := writeTracked(dir, workflowFile, c.Workflow, false, &entries); err != nil {
		return err
	}

	dagJSON, err := json.MarshalIndent(toDagDTO(c.DAG), "", "  ")
	if err != nil {
		return kerr.Wrap(kerr.BundleCorrupted, "encode dag.json", err)
	}
	if err := writeTracked(dir, dagFile, dagJSON, false, &entries); err != nil {
		return err
	}

	eventsPath := filepath.Join(dir, eventsFile)
	ef, err := os.Create(eventsPath)
	if err != nil {
		return kerr.Wrap(kerr.StorageError, "create events file", err)
	}
	if _, err := c.Events.WriteTo(ef); err != nil {
		ef.Close()
		return err
	}
	if err := ef.Close(); err != nil {
		return kerr.Wrap(kerr.StorageError, "close events file", err)
	}
	eventsBytes, err := os.ReadFile(eventsPath)
	if err != nil {
		return kerr.Wrap(kerr.StorageError, "reread events file", err)
	}
	entries = append(entries, ManifestEntry{Path: eventsFile, Hash: hashid.H(eventsBytes), Size: int64(len(eventsBytes))})

	if c.Snapshot != nil {
		snapBytes := codec.Encode(*c.Snapshot)
		if err := writeTracked(dir, snapshotFile, snapBytes, true, &entries); err != nil {
			return err
		}
	}

	blobCount := 0
	if c.BlobStore != nil {
		blobDir, err := store.NewDisk(dir)
		if err != nil {
			return err
		}
		for _, addr := range c.BlobAddrs {
			b, err := c.BlobStore.Get(addr)
			if err != nil {
				return err
			}
			if _, err := blobDir.Put(b); err != nil {
				return err
			}
			blobCount++
		}
	}

	manifest := NewManifest(bundleID, createdAt, engineVersion, entries, blobCount)
	manifestBytes, err := EncodeManifest(manifest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifestBytes, 0o644); err != nil {
		return kerr.Wrap(kerr.StorageError, "write manifest", err)
	}
	return nil
}

func writeTracked(dir, name string, b []byte, optional bool, entries *[]ManifestEntry) error {
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		return kerr.Wrap(kerr.StorageError, "write "+name, err)
	}
	*entries = append(*entries, ManifestEntry{Path: name, Hash: hashid.H(b), Size: int64(len(b)), Optional: optional})
	return nil
}

// Open reads and verifies a bundle directory: every manifest-listed file
// (other than optional ones that are absent) must exist and hash-match
// (spec §4.9 "Load bundle (manifest hashes, verified)"). It does not
// validate the event chain or replay state — callers invoke
// internal/replay for that.
func Open(dir string) (Contents, Manifest, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Contents{}, Manifest{}, kerr.Wrap(kerr.BundleCorrupted, "read manifest", err)
	}
	manifest, err := DecodeManifest(manifestBytes)
	if err != nil {
		return Contents{}, Manifest{}, err
	}

	files := make(map[string][]byte, len(manifest.Files))
	for _, entry := range manifest.Files {
		path := filepath.Join(dir, entry.Path)
		b, err := os.ReadFile(path)
		if err != nil {
			if entry.Optional && os.IsNotExist(err) {
				continue
			}
			return Contents{}, Manifest{}, kerr.Wrap(kerr.BundleCorrupted, "read bundle file "+entry.Path, err)
		}
		if hashid.H(b) != entry.Hash {
			return Contents{}, Manifest{}, kerr.New(kerr.BundleValidationFailed, "manifest hash mismatch for "+entry.Path)
		}
		files[entry.Path] = b
	}

	var c Contents
	if b, ok := files[metadataFile]; ok {
		c.Metadata, err = DecodeMetadata(b)
		if err != nil {
			return Contents{}, Manifest{}, err
		}
	}
	c.Workflow = files[workflowFile]

	if b, ok := files[dagFile]; ok {
		var dto dagDTO
		if err := json.Unmarshal(b, &dto); err != nil {
			return Contents{}, Manifest{}, kerr.Wrap(kerr.BundleCorrupted, "decode dag.json", err)
		}
		c.DAG, err = fromDagDTO(dto)
		if err != nil {
			return Contents{}, Manifest{}, err
		}
	}

	if b, ok := files[eventsFile]; ok {
		log, err := eventlog.ReadFrom(bytes.NewReader(b))
		if err != nil {
			return Contents{}, Manifest{}, err
		}
		c.Events = log
	}

	if b, ok := files[snapshotFile]; ok {
		var snap snapshot.Snapshot
		if err := codec.Decode(b, &snap); err != nil {
			return Contents{}, Manifest{}, kerr.Wrap(kerr.BundleCorrupted, "decode snapshot.cath-snap", err)
		}
		c.Snapshot = &snap
	}

	if manifest.BlobCount > 0 {
		blobDir, err := store.NewDisk(dir)
		if err != nil {
			return Contents{}, Manifest{}, err
		}
		c.BlobStore = blobDir
		c.BlobAddrs = blobDir.List()
	}

	return c, manifest, nil
}

// Verify reports whether dir opens cleanly: it runs Open, which re-checks
// every manifest entry's hash against the file on disk and fully decodes
// the bundle.
func Verify(dir string) error {
	_, _, err := Open(dir)
	return err
}
