// internal/state/artifact.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/ticketdigest/internal/types"
)

// ArtifactIndex records what each run uploaded.
// Files are located at runs/<runID>/artifact.json, next to the ledger.
type ArtifactIndex struct {
	root string
}

// NewArtifactIndex creates a new file-backed ArtifactIndex rooted at the given directory.
func NewArtifactIndex(root string) *ArtifactIndex {
	return &ArtifactIndex{root: root}
}

func (a *ArtifactIndex) artifactPath(id types.RunID) string {
	return filepath.Join(a.root, "runs", string(id), "artifact.json")
}

// Put stores the artifact of a run, replacing any earlier one.
func (a *ArtifactIndex) Put(_ context.Context, id types.RunID, art *types.ReportArtifact) error {
	content, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	target := a.artifactPath(id)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	// Atomic write via temp file + rename
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp artifact: %w", err)
	}
	return nil
}

// Get returns the artifact recorded for a run.
func (a *ArtifactIndex) Get(_ context.Context, id types.RunID) (*types.ReportArtifact, error) {
	data, err := os.ReadFile(a.artifactPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.Wrap(types.ErrNotFound, "artifact for run "+string(id), nil)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var art types.ReportArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &art, nil
}
