package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/teamcutter/binq/internal/domain"
)

type ManifestState struct {
	mu       sync.RWMutex
	path     string
	manifest *domain.Manifest
}

func New(path string) *ManifestState {
	return &ManifestState{
		path: path,
	}
}

func (m *ManifestState) init() error {
	if m.manifest != nil {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.manifest = domain.NewManifest()
		return nil
	}
	if err != nil {
		return err
	}

	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return err
	}
	if manifest.Binaries == nil {
		manifest.Binaries = make(map[string]*domain.InstalledBinary)
	}
	m.manifest = &manifest
	return nil
}

func (m *ManifestState) flush() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func (m *ManifestState) Get(name string) (*domain.InstalledBinary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.init(); err != nil {
		return nil, err
	}
	return m.manifest.Binaries[name], nil
}

// Upsert records or replaces an entry and persists immediately.
func (m *ManifestState) Upsert(name string, entry *domain.InstalledBinary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.init(); err != nil {
		return err
	}
	m.manifest.Binaries[name] = entry
	return m.flush()
}

func (m *ManifestState) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.init(); err != nil {
		return err
	}
	delete(m.manifest.Binaries, name)
	return m.flush()
}

// Names lists installed binary names, sorted.
func (m *ManifestState) Names() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.init(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.manifest.Binaries))
	for name := range m.manifest.Binaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *ManifestState) List() (map[string]*domain.InstalledBinary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.init(); err != nil {
		return nil, err
	}
	return m.manifest.Binaries, nil
}

// NodeVersionsInUse collects the node versions referenced by installed
// entries, for runtime-pool pruning.
func (m *ManifestState) NodeVersionsInUse() (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.init(); err != nil {
		return nil, err
	}
	used := make(map[string]bool)
	for _, entry := range m.manifest.Binaries {
		if entry.Runtime != nil && entry.Runtime.Type == "node" {
			used[entry.Runtime.Version] = true
		}
	}
	return used, nil
}
