// Package source implements the per-ecosystem resolvers: the npm registry,
// crates.io, and GitHub releases. Each satisfies domain.Source independently;
// there is no shared base implementation, only the construction plumbing and
// small version helpers below.
//
// Integrity policy is per-ecosystem, deliberately: toolchain and release
// downloads verify sha256 manifests when present (hosted releases degrade to
// a warning when no checksum asset exists at all), while the npm and crate
// paths delegate artifact integrity to their install helpers, which verify
// against registry metadata themselves.
package source

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/platform"
)

// Options is the shared wiring every source needs.
type Options struct {
	Client       *download.Client
	Plat         platform.Descriptor
	NpmURL       string // e.g. https://registry.npmjs.org
	CratesURL    string // e.g. https://crates.io
	GithubAPIURL string // e.g. https://api.github.com
}

// New selects the resolver for a source type.
func New(t domain.SourceType, opts Options) (domain.Source, error) {
	switch t {
	case domain.SourceNpm:
		return NewNpm(opts), nil
	case domain.SourceCrate:
		return NewCrates(opts), nil
	case domain.SourceGithub:
		return NewGithub(opts), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", t)
	}
}

func trimV(version string) string {
	return strings.TrimPrefix(version, "v")
}

// sameVersion compares versions ignoring a leading "v".
func sameVersion(a, b string) bool {
	return trimV(a) == trimV(b)
}

// sortVersionsDesc orders version strings newest-first by semver; unparsable
// strings sink to the end.
func sortVersionsDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(trimV(versions[i]))
		vj, errj := semver.NewVersion(trimV(versions[j]))
		if erri != nil {
			return false
		}
		if errj != nil {
			return true
		}
		return vi.GreaterThan(vj)
	})
}

// semverLess reports a < b by semver, ignoring leading "v"; unparsable
// strings compare as smallest.
func semverLess(a, b string) bool {
	va, erra := semver.NewVersion(trimV(a))
	vb, errb := semver.NewVersion(trimV(b))
	if erra != nil {
		return errb == nil
	}
	if errb != nil {
		return false
	}
	return va.LessThan(vb)
}

// newRange compiles a requirement into a version predicate, failing for
// anything that is not a parsable range expression. Exact versions also
// parse as ranges, so callers try exact matching first when the two must
// behave differently.
func newRange(req string) (func(version string) bool, error) {
	c, err := semver.NewConstraint(req)
	if err != nil {
		return nil, err
	}
	return func(version string) bool {
		v, err := semver.NewVersion(trimV(version))
		if err != nil {
			return false
		}
		return c.Check(v)
	}, nil
}

// matchRange returns the versions satisfying a range requirement,
// newest-first. A requirement that parses as neither a range nor anything
// else handled by the caller yields a no-matching-version error.
func matchRange(name, req string, versions []string) ([]string, error) {
	c, err := semver.NewConstraint(req)
	if err != nil {
		return nil, &domain.NoMatchingVersionError{Name: name, Requirement: req}
	}

	var out []string
	for _, raw := range versions {
		v, err := semver.NewVersion(trimV(raw))
		if err != nil {
			continue
		}
		if c.Check(v) {
			out = append(out, raw)
		}
	}
	if len(out) == 0 {
		return nil, &domain.NoMatchingVersionError{Name: name, Requirement: req}
	}
	sortVersionsDesc(out)
	return out, nil
}

// specFromInstalled reconstructs the PackageSpec an entry was installed from,
// with a "latest" requirement for update checking.
func specFromInstalled(installed *domain.InstalledBinary) domain.PackageSpec {
	bin := installed.Binary
	bin = strings.TrimSuffix(bin, ".cmd")
	bin = strings.TrimSuffix(bin, ".exe")
	return domain.PackageSpec{
		Name:        path.Base(installed.Source.ID()),
		Requirement: "latest",
		Source:      installed.Source.Config(),
		BinName:     bin,
	}
}

// checkUpdate is the shared CheckUpdate shape: re-resolve and report the top
// candidate only when it differs from what is installed.
func checkUpdate(ctx context.Context, s domain.Source, installed *domain.InstalledBinary) (*domain.ResolvedVersion, error) {
	candidates, err := s.Resolve(ctx, specFromInstalled(installed))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	top := candidates[0]
	if sameVersion(top.Version, installed.Source.Version) {
		return nil, nil
	}
	return &top, nil
}
