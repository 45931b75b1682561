// Package store manages the versioned content store and the shared bin
// directory. One directory per (ecosystem, id, version) key; its contents
// always correspond exactly to that key.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Sanitize makes an ecosystem-local id path-safe (@scope/pkg -> scope-pkg).
func Sanitize(id string) string {
	s := unsafeChars.ReplaceAllString(id, "-")
	for len(s) > 0 && (s[0] == '-' || s[0] == '.') {
		s = s[1:]
	}
	if s == "" {
		s = "_"
	}
	return s
}

type Store struct {
	root   string // <data-root>/store
	binDir string // <data-root>/bin
}

func New(root, binDir string) *Store {
	return &Store{root: root, binDir: binDir}
}

// Dir is the store key path for one (ecosystem, id, version).
func (s *Store) Dir(ecosystem, id, version string) string {
	return filepath.Join(s.root, ecosystem, Sanitize(id), version)
}

// Prepare deletes and recreates a key's directory, so a fetch never sees
// stale contents from an earlier attempt.
func (s *Store) Prepare(ecosystem, id, version string) (string, error) {
	dir := s.Dir(ecosystem, id, version)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Remove deletes one version's directory, and the id directory too once it
// holds no other versions.
func (s *Store) Remove(ecosystem, id, version string) error {
	dir := s.Dir(ecosystem, id, version)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err == nil && len(entries) == 0 {
		return os.Remove(parent)
	}
	return nil
}

// BinPath is where the shared-bin entry for name lives.
func (s *Store) BinPath(name string) string {
	return filepath.Join(s.binDir, name)
}

// Link points the shared-bin entry for name at target, replacing any previous
// one. The new link is built under a temporary name and renamed into place,
// so the entry is never absent mid-swap. Platforms without symlink support
// get a file copy instead.
func (s *Store) Link(target, name string) (string, error) {
	if err := os.MkdirAll(s.binDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create bin directory: %w", err)
	}

	linkPath := s.BinPath(name)
	tmpPath := linkPath + ".tmp"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return "", err
	}

	if err := os.Symlink(target, tmpPath); err != nil {
		if runtime.GOOS != "windows" {
			return "", err
		}
		if err := copyFile(target, tmpPath); err != nil {
			return "", err
		}
	}

	if err := os.Rename(tmpPath, linkPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return linkPath, nil
}

// Unlink removes the shared-bin entry for name. Missing entries are not an
// error.
func (s *Store) Unlink(name string) error {
	err := os.Remove(s.BinPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
