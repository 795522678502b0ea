// Package bundle implements the portable `.cath-bundle/` directory
// format (spec §6): manifest, metadata, DAG, event log, optional
// snapshot, and content-addressed blobs, all hash-verified on load.
package bundle

import (
	"encoding/json"

	"golang.org/x/mod/semver"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/hashid"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// FormatMajor is the bundle format's major version. Spec Non-goals
// explicitly exclude cross-major-version backward compatibility, so a
// mismatch here is a hard BundleCorrupted rather than a best-effort read.
const FormatMajor = "v1"

// ManifestEntry describes one file inside the bundle (spec §6).
type ManifestEntry struct {
	Path     string      `json:"path"`
	Hash     hashid.Hash `json:"-"`
	HashHex  string      `json:"hash"`
	Size     int64       `json:"size"`
	Optional bool        `json:"optional"`
}

// Manifest is `MANIFEST.json` (spec §6): "bundle_version, bundle_id,
// created_at (logical), for each file: hash, size, optional flag;
// blob_count; optional signature."
type Manifest struct {
	BundleVersion    string          `json:"bundle_version"`
	BundleID         string          `json:"bundle_id"`
	CreatedAtLogical uint64          `json:"created_at_logical"`
	EngineVersion    string          `json:"engine_version"`
	Files            []ManifestEntry `json:"files"`
	BlobCount        int             `json:"blob_count"`
	Signature        []byte          `json:"signature,omitempty"`
}

// NewManifest builds a Manifest from the given files, stamping
// bundle_version with the current format major version.
func NewManifest(bundleID kernel.ID, createdAt kernel.LogicalTime, engineVersion string, files []ManifestEntry, blobCount int) Manifest {
	for i := range files {
		files[i].HashHex = files[i].Hash.String()
	}
	return Manifest{
		BundleVersion:    FormatMajor + ".0.0",
		BundleID:         bundleID.String(),
		CreatedAtLogical: uint64(createdAt),
		EngineVersion:    engineVersion,
		Files:            files,
		BlobCount:        blobCount,
	}
}

// Hash resolution: ManifestEntry.Hash is authoritative;
// HashHex is the wire form. Decode repopulates Hash from HashHex.

func (m *Manifest) resolveHashes() error {
	for i := range m.Files {
		h, err := hashid.ParseHash(m.Files[i].HashHex)
		if err != nil {
			return kerr.Wrap(kerr.BundleCorrupted, "malformed manifest file hash", err)
		}
		m.Files[i].Hash = h
	}
	return nil
}

// EncodeManifest serializes m as indented JSON.
func EncodeManifest(m Manifest) ([]byte, error) {
	for i := range m.Files {
		m.Files[i].HashHex = m.Files[i].Hash.String()
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, kerr.Wrap(kerr.BundleCorrupted, "encode manifest", err)
	}
	return b, nil
}

// DecodeManifest parses MANIFEST.json bytes.
func DecodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, kerr.Wrap(kerr.BundleCorrupted, "decode manifest", err)
	}
	if semver.Major(normalizeSemver(m.BundleVersion)) != FormatMajor {
		return Manifest{}, kerr.New(kerr.BundleCorrupted, "unsupported bundle format version: "+m.BundleVersion)
	}
	if err := m.resolveHashes(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// CompatibleVersion reports whether a bundle stamped with bundleVersion
// can be read by an engine at engineVersion: same major version and
// bundle_version <= engine_version (an older bundle format is always
// readable; a newer major is not, per spec Non-goals). Uses
// golang.org/x/mod/semver, grounded on the teacher's
// core/types/validation.go version-bound checks.
func CompatibleVersion(bundleVersion, engineVersion string) bool {
	bv, ev := normalizeSemver(bundleVersion), normalizeSemver(engineVersion)
	if !semver.IsValid(bv) || !semver.IsValid(ev) {
		return false
	}
	if semver.Major(bv) != semver.Major(ev) {
		return false
	}
	return semver.Compare(bv, ev) <= 0
}

func normalizeSemver(v string) string {
	if len(v) == 0 || v[0] != 'v' {
		return "v" + v
	}
	return v
}
