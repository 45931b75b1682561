// Package manager orchestrates the install pipeline: resolve a version
// through the ecosystem source, fetch into the content store, expose the
// result on the shared bin directory, and record it in the manifest.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/runtime"
	"github.com/teamcutter/binq/internal/source"
	"github.com/teamcutter/binq/internal/state"
	"github.com/teamcutter/binq/internal/store"
)

type Manager struct {
	store *store.Store
	state *state.ManifestState
	pool  *runtime.Pool
	opts  source.Options
}

func New(st *store.Store, ms *state.ManifestState, pool *runtime.Pool, opts source.Options) *Manager {
	return &Manager{
		store: st,
		state: ms,
		pool:  pool,
		opts:  opts,
	}
}

// Install resolves, fetches, links, and records one package. Reinstalling an
// already-present name replaces it; the previous version's store directory is
// removed once the new one is live.
func (m *Manager) Install(ctx context.Context, spec domain.PackageSpec) (*domain.InstalledBinary, error) {
	src, err := source.New(spec.Source.Type, m.opts)
	if err != nil {
		return nil, err
	}

	candidates, err := src.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &domain.NoMatchingVersionError{Name: spec.Name, Requirement: spec.Requirement}
	}
	picked := candidates[0]

	previous, err := m.state.Get(spec.Name)
	if err != nil {
		return nil, err
	}

	entry, err := m.fetchAndLink(ctx, src, spec, picked)
	if err != nil {
		return nil, err
	}

	if err := m.state.Upsert(spec.Name, entry); err != nil {
		return nil, err
	}

	if previous != nil {
		if previous.Binary != entry.Binary {
			if err := m.store.Unlink(previous.Binary); err != nil {
				log.Warn().Err(err).Str("bin", previous.Binary).Msg("could not unlink previous binary")
			}
		}
		if previous.Source.Version != entry.Source.Version {
			if err := m.removeStored(previous); err != nil {
				log.Warn().Err(err).Str("name", spec.Name).
					Str("version", previous.Source.Version).Msg("could not remove previous version")
			}
		}
	}

	if err := m.pruneRuntimes(); err != nil {
		return nil, err
	}
	return entry, nil
}

// fetchAndLink runs the fetch into the store directory for the picked
// version and swaps the shared-bin entry to the produced executable.
func (m *Manager) fetchAndLink(ctx context.Context, src domain.Source, spec domain.PackageSpec, picked domain.ResolvedVersion) (*domain.InstalledBinary, error) {
	cfg := spec.Source
	dir, err := m.store.Prepare(string(cfg.Type), cfg.ID(), picked.Version)
	if err != nil {
		return nil, err
	}

	fetched, err := src.Fetch(ctx, spec, picked, dir, m.pool)
	if err != nil {
		return nil, err
	}

	binName := filepath.Base(fetched.Path)
	if _, err := m.store.Link(fetched.Path, binName); err != nil {
		return nil, err
	}

	log.Info().Str("name", spec.Name).Str("version", fetched.Version).
		Str("bin", binName).Msg("installed")

	return &domain.InstalledBinary{
		Source:      cfg.WithVersion(fetched.Version),
		Binary:      binName,
		SHA256:      fetched.SHA256,
		InstalledAt: strconv.FormatInt(time.Now().Unix(), 10),
		Runtime:     fetched.Runtime,
	}, nil
}

// Updated describes one successful update.
type Updated struct {
	Name string
	From string
	To   string
}

// Update refreshes the given names, or everything when none are given. A
// failing entry does not stop the rest; all failures come back joined.
func (m *Manager) Update(ctx context.Context, names []string) ([]Updated, error) {
	if len(names) == 0 {
		all, err := m.state.Names()
		if err != nil {
			return nil, err
		}
		names = all
	}

	var updated []Updated
	var errs []error
	for _, name := range names {
		res, err := m.updateOne(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("name", name).Msg("update failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if res != nil {
			updated = append(updated, *res)
		}
	}

	if len(updated) > 0 {
		if err := m.pruneRuntimes(); err != nil {
			errs = append(errs, err)
		}
	}
	return updated, errors.Join(errs...)
}

func (m *Manager) updateOne(ctx context.Context, name string) (*Updated, error) {
	entry, err := m.state.Get(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("not installed")
	}

	src, err := source.New(entry.Source.Type, m.opts)
	if err != nil {
		return nil, err
	}

	next, err := src.CheckUpdate(ctx, entry)
	if err != nil {
		return nil, err
	}
	if next == nil {
		log.Debug().Str("name", name).Msg("already up to date")
		return nil, nil
	}

	spec := domain.PackageSpec{
		Name:        name,
		Requirement: next.Version,
		Source:      entry.Source.Config(),
		BinName:     trimExeSuffix(entry.Binary),
	}
	fresh, err := m.fetchAndLink(ctx, src, spec, *next)
	if err != nil {
		return nil, err
	}
	if err := m.state.Upsert(name, fresh); err != nil {
		return nil, err
	}

	if err := m.removeStored(entry); err != nil {
		log.Warn().Err(err).Str("name", name).
			Str("version", entry.Source.Version).Msg("could not remove previous version")
	}

	return &Updated{Name: name, From: entry.Source.Version, To: fresh.Source.Version}, nil
}

// Remove unlinks and deletes one installed binary, then drops its manifest
// entry. Unused pooled runtimes go with it.
func (m *Manager) Remove(ctx context.Context, name string) error {
	entry, err := m.state.Get(name)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%s is not installed", name)
	}

	if err := m.store.Unlink(entry.Binary); err != nil {
		return err
	}
	if err := m.removeStored(entry); err != nil {
		return err
	}
	if err := m.state.Remove(name); err != nil {
		return err
	}

	log.Info().Str("name", name).Str("version", entry.Source.Version).Msg("removed")

	return m.pruneRuntimes()
}

// List returns the manifest entries keyed by name.
func (m *Manager) List() (map[string]*domain.InstalledBinary, error) {
	return m.state.List()
}

func (m *Manager) removeStored(entry *domain.InstalledBinary) error {
	return m.store.Remove(string(entry.Source.Type), entry.Source.ID(), entry.Source.Version)
}

// pruneRuntimes drops pooled node versions no manifest entry references
// anymore, then persists the pool manifest.
func (m *Manager) pruneRuntimes() error {
	used, err := m.state.NodeVersionsInUse()
	if err != nil {
		return err
	}
	removed, err := m.pool.Prune(used)
	if err != nil {
		return err
	}
	for _, v := range removed {
		log.Debug().Str("version", v).Msg("pruned unused node")
	}
	return m.pool.Save()
}

func trimExeSuffix(name string) string {
	for _, suffix := range []string{".exe", ".cmd"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}
