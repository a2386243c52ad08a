package mcp

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveArtifactPath maps a run id to its artifact inside outputDir,
// rejecting ids that would escape it.
func resolveArtifactPath(outputDir, runID string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run_id is required")
	}
	if strings.ContainsAny(runID, `/\`) || strings.Contains(runID, string(filepath.Separator)) {
		return "", fmt.Errorf("path separators are not allowed")
	}
	if runID == "." || runID == ".." {
		return "", fmt.Errorf("path traversal is not allowed")
	}
	return resolvePathWithinBase(outputDir, runID+".json")
}

// validateSuiteName accepts only bare suite names. File paths stay a CLI
// feature; MCP callers pick from the embedded and configured suites.
func validateSuiteName(name string) error {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, string(filepath.Separator)) {
		return fmt.Errorf("path separators are not allowed")
	}
	if name == "." || strings.Contains(name, "..") {
		return fmt.Errorf("path traversal is not allowed")
	}
	if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
		return fmt.Errorf("suite files are not allowed, use a suite name")
	}
	return nil
}

func resolvePathWithinBase(baseDir, pathValue string) (string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	targetAbs, err := filepath.Abs(filepath.Join(baseAbs, pathValue))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path must be within output directory")
	}
	return targetAbs, nil
}
