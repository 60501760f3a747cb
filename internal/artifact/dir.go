// Package artifact manages the output directory that holds converted order documents.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	namePrefix = "amazon_order_"
	// DocumentExt is the extension of converted documents.
	DocumentExt = ".pdf"
	// IntermediateExt is the extension of raw pages handed to the converter.
	IntermediateExt = ".html"
)

// Config captures the parameters for the output directory.
type Config struct {
	// Dir is where documents are written.
	Dir string `mapstructure:"dest_dir" yaml:"dest_dir"`
	// StrictDedup only treats a file as existing when it contains "_<id>.".
	StrictDedup bool `mapstructure:"strict_dedup" yaml:"strict_dedup"`
}

// Dir is the destination directory for artifacts.
type Dir struct {
	path   string
	strict bool
}

// New creates the directory if needed and verifies it is writable.
func New(cfg Config) (*Dir, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("output directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", cfg.Dir)
	}

	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &Dir{path: cfg.Dir, strict: cfg.StrictDedup}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// BaseName returns "amazon_order_<date>_<id>" for a record.
func BaseName(orderDate, recordID string) string {
	return namePrefix + orderDate + "_" + recordID
}

// DocumentPath returns where the converted document for a record lives.
func (d *Dir) DocumentPath(orderDate, recordID string) string {
	return filepath.Join(d.path, BaseName(orderDate, recordID)+DocumentExt)
}

// IntermediatePath returns where the raw page for a record is staged.
func (d *Dir) IntermediatePath(orderDate, recordID string) string {
	return filepath.Join(d.path, BaseName(orderDate, recordID)+IntermediateExt)
}

// Exists reports whether any file in the directory already represents recordID.
// The default match is a plain substring of the file name; strict mode requires
// the id to be followed by an extension separator.
func (d *Dir) Exists(recordID string) (bool, error) {
	if recordID == "" {
		return false, nil
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return false, fmt.Errorf("read output directory: %w", err)
	}
	needle := recordID
	if d.strict {
		needle = "_" + recordID + "."
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), IntermediateExt) {
			continue
		}
		if strings.Contains(e.Name(), needle) {
			return true, nil
		}
	}
	return false, nil
}

// writeFile is swapped in tests to simulate a write that fails after create.
var writeFile = os.WriteFile

// WriteIntermediate stages raw page content next to the final document and
// returns its path.
func (d *Dir) WriteIntermediate(orderDate, recordID string, content []byte) (string, error) {
	if strings.ContainsAny(recordID, `/\`) || strings.Contains(recordID, "..") {
		return "", fmt.Errorf("invalid record id %q", recordID)
	}
	p := d.IntermediatePath(orderDate, recordID)
	if err := writeFile(p, content, 0o600); err != nil {
		_ = Remove(p)
		return "", fmt.Errorf("write intermediate file: %w", err)
	}
	return p, nil
}

// Remove deletes path, ignoring a file that is already gone.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
