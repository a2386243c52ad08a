package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

// Artifact is the on-disk form of a run. Digest is the sha256 of the RFC 8785
// canonical JSON of Run, so equal runs always hash equally.
type Artifact struct {
	Digest string         `json:"digest"`
	Run    *testsuite.Run `json:"run"`
}

// Digest returns the canonical digest of run.
func Digest(run *testsuite.Run) (string, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("failed to encode run: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize run: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ArtifactPath is where WriteArtifact stores run inside dir.
func ArtifactPath(dir string, run *testsuite.Run) string {
	return filepath.Join(dir, run.ID+".json")
}

// WriteArtifact writes run with its digest to dir and returns the file path.
func WriteArtifact(dir string, run *testsuite.Run) (string, error) {
	digest, err := Digest(run)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(Artifact{Digest: digest, Run: run}, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := ArtifactPath(dir, run)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// DigestMismatchError is returned when an artifact was modified after it
// was written.
type DigestMismatchError struct {
	Path     string
	Recorded string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("artifact %s digest mismatch: recorded %s, computed %s", e.Path, e.Recorded, e.Actual)
}

// ReadArtifact loads an artifact and verifies its digest.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if a.Run == nil {
		return nil, fmt.Errorf("artifact %s has no run", path)
	}
	actual, err := Digest(a.Run)
	if err != nil {
		return nil, err
	}
	if actual != a.Digest {
		return nil, &DigestMismatchError{Path: path, Recorded: a.Digest, Actual: actual}
	}
	return &a, nil
}
