package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"imessage-undeleter/internal/tracker"
)

// FileSystemVault stores each object as a file under root, using the key as
// a slash-separated relative path:
//
//	<root>/
//	  deletions/
//	    <journal_id>.json
//	    <journal_id>.json.age
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a filesystem vault rooted at the given path,
// creating the directory if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// Put writes the object atomically (temp file + rename).
func (v *FileSystemVault) Put(key string, r io.Reader, size int64) error {
	dest, err := v.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Get writes the object stored under key to w.
func (v *FileSystemVault) Get(key string, w io.Writer) error {
	src, err := v.path(key)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to open object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

// List returns the keys that start with prefix, sorted. Temp files from
// interrupted writes are skipped.
func (v *FileSystemVault) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing vault: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// ValidateSetup verifies that the root is a writable directory.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	probe, err := os.CreateTemp(v.root, ".tmp-probe-*")
	if err != nil {
		return fmt.Errorf("vault root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func (v *FileSystemVault) path(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.root, filepath.FromSlash(key)), nil
}

// Compile-time check that FileSystemVault implements tracker.Vault.
var _ tracker.Vault = (*FileSystemVault)(nil)
