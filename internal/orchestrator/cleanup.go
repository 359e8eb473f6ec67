package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a rollback target escapes the output root.
var ErrOutsideRoot = errors.New("path outside output root")

// Cleanup removes either the source (on success) or the derived output tree
// (on failure). Both operations are idempotent.
type Cleanup struct {
	root string
}

// NewCleanup returns a Cleanup confined to outputRoot.
func NewCleanup(outputRoot string) *Cleanup {
	return &Cleanup{root: outputRoot}
}

// OutputDir returns the directory holding the asset's HLS tree.
func (c *Cleanup) OutputDir(id AssetID) string {
	return filepath.Join(c.root, string(id))
}

// Commit deletes the original source file.
func (c *Cleanup) Commit(a SourceAsset) error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}

// Rollback recursively deletes the asset's output directory.
func (c *Cleanup) Rollback(a SourceAsset) error {
	dir, err := c.confined(c.OutputDir(a.ID))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove output tree: %w", err)
	}
	return nil
}

// confined returns target as an absolute path strictly below the root.
func (c *Cleanup) confined(target string) (string, error) {
	rootAbs, err := filepath.Abs(c.root)
	if err != nil {
		return "", err
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	return targetAbs, nil
}
