package bundle

import (
	"encoding/json"

	"github.com/cathedral-fabric/fabric/internal/kernel"
	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// Status is a run's terminal or in-progress status as recorded in
// metadata.json.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Metadata is `metadata.json` (spec §6): "run_id, workflow name/version,
// start/completion logical times, status, counts, platform descriptor,
// engine version."
type Metadata struct {
	RunID               string `json:"run_id"`
	WorkflowName         string `json:"workflow_name"`
	WorkflowVersion      string `json:"workflow_version"`
	StartLogical         uint64 `json:"start_logical"`
	CompletionLogical    uint64 `json:"completion_logical,omitempty"`
	HasCompletion        bool   `json:"has_completion"`
	Status               Status `json:"status"`
	NodeCount            int    `json:"node_count"`
	CompletedNodeCount   int    `json:"completed_node_count"`
	FailedNodeCount      int    `json:"failed_node_count"`
	Platform             string `json:"platform"` // e.g. "linux/amd64"
	EngineVersion        string `json:"engine_version"`
}

// NewMetadata builds Metadata for a run, taking runID as a kernel.ID so
// callers can't accidentally pass an unrelated string.
func NewMetadata(runID kernel.ID, workflowName, workflowVersion string, start kernel.LogicalTime, platform, engineVersion string) Metadata {
	return Metadata{
		RunID:           runID.String(),
		WorkflowName:    workflowName,
		WorkflowVersion: workflowVersion,
		StartLogical:    uint64(start),
		Status:          StatusRunning,
		Platform:        platform,
		EngineVersion:   engineVersion,
	}
}

// Complete stamps completion fields.
func (m Metadata) Complete(at kernel.LogicalTime, status Status, completed, failed int) Metadata {
	m.CompletionLogical = uint64(at)
	m.HasCompletion = true
	m.Status = status
	m.CompletedNodeCount = completed
	m.FailedNodeCount = failed
	return m
}

// EncodeMetadata serializes m as indented JSON.
func EncodeMetadata(m Metadata) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, kerr.Wrap(kerr.BundleCorrupted, "encode metadata", err)
	}
	return b, nil
}

// DecodeMetadata parses metadata.json bytes.
func DecodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, kerr.Wrap(kerr.BundleCorrupted, "decode metadata", err)
	}
	return m, nil
}
