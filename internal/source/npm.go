package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/teamcutter/binq/internal/checksum"
	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/platform"
)

// NpmSource installs packages from an npm-compatible registry. Packages are
// source text needing an interpreter, so fetch produces a launcher script
// bound to a pooled node rather than copying the entry point.
type NpmSource struct {
	baseURL string
	client  *download.Client
	plat    platform.Descriptor
}

func NewNpm(opts Options) *NpmSource {
	return &NpmSource{
		baseURL: strings.TrimSuffix(opts.NpmURL, "/"),
		client:  opts.Client,
		plat:    opts.Plat,
	}
}

type packument struct {
	Name     string                `json:"name"`
	DistTags map[string]string     `json:"dist-tags"`
	Versions map[string]npmVersion `json:"versions"`
}

type npmVersion struct {
	Version string `json:"version"`
	Dist    struct {
		Tarball string `json:"tarball"`
		Shasum  string `json:"shasum"`
	} `json:"dist"`
	Engines map[string]string `json:"engines"`
	// bin is a bare path (single executable named after the package) or a
	// name -> path map.
	Bin json.RawMessage `json:"bin"`
}

func (v npmVersion) bins(pkg string) map[string]string {
	if len(v.Bin) == 0 {
		return nil
	}
	var single string
	if json.Unmarshal(v.Bin, &single) == nil {
		return map[string]string{path.Base(pkg): single}
	}
	var many map[string]string
	if json.Unmarshal(v.Bin, &many) == nil {
		return many
	}
	return nil
}

func (s *NpmSource) metadata(ctx context.Context, pkg string) (*packument, error) {
	endpoint := s.baseURL + "/" + url.PathEscape(pkg)
	var doc packument
	if err := s.client.GetJSON(ctx, endpoint, &doc); err != nil {
		if httpErr, ok := err.(*download.HTTPError); ok && httpErr.IsNotFound() {
			return nil, fmt.Errorf("npm package %q not found", pkg)
		}
		return nil, err
	}
	return &doc, nil
}

func (s *NpmSource) Resolve(ctx context.Context, spec domain.PackageSpec) ([]domain.ResolvedVersion, error) {
	pkg := spec.Source.Package
	doc, err := s.metadata(ctx, pkg)
	if err != nil {
		return nil, err
	}

	toResolved := func(v npmVersion) domain.ResolvedVersion {
		return domain.ResolvedVersion{
			Version:     v.Version,
			DownloadURL: v.Dist.Tarball,
			NodeRange:   v.Engines["node"],
			Bins:        v.bins(pkg),
		}
	}

	req := spec.Requirement
	if req == "" || req == "latest" {
		tag := doc.DistTags["latest"]
		v, ok := doc.Versions[tag]
		if tag == "" || !ok {
			return nil, &domain.ParseError{
				Source: "npm",
				Err:    fmt.Errorf("package %s has no usable latest tag", pkg),
			}
		}
		return []domain.ResolvedVersion{toResolved(v)}, nil
	}

	if v, ok := doc.Versions[trimV(req)]; ok {
		return []domain.ResolvedVersion{toResolved(v)}, nil
	}

	all := make([]string, 0, len(doc.Versions))
	for num := range doc.Versions {
		all = append(all, num)
	}
	matched, err := matchRange(pkg, req, all)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ResolvedVersion, len(matched))
	for i, num := range matched {
		out[i] = toResolved(doc.Versions[num])
	}
	return out, nil
}

func (s *NpmSource) Fetch(ctx context.Context, spec domain.PackageSpec, version domain.ResolvedVersion, targetDir string, pool domain.RuntimePool) (*domain.FetchedBinary, error) {
	pkg := spec.Source.Package

	// Settle the entry-point choice before acquiring toolchains or running
	// the install helper; ambiguity is knowable from metadata alone.
	binName, entryRel, err := chooseBin(pkg, spec.BinName, version.Bins)
	if err != nil {
		return nil, err
	}

	node, err := pool.Node(ctx, version.NodeRange)
	if err != nil {
		return nil, err
	}
	pnpm, err := pool.Pnpm(ctx)
	if err != nil {
		return nil, err
	}

	// pnpm refuses to add into a directory without a manifest; give it a
	// minimal private one. The content-addressable store is kept inside the
	// target so nothing leaks into the user's pnpm installation.
	if err := os.WriteFile(filepath.Join(targetDir, "package.json"), []byte("{\n  \"private\": true\n}\n"), 0644); err != nil {
		return nil, err
	}

	args := []string{
		"add", pkg + "@" + version.Version,
		"--store-dir", filepath.Join(targetDir, ".pnpm-store"),
	}
	if err := runHelper(ctx, pnpm.Bin, args, targetDir,
		"PATH="+filepath.Dir(node.Bin)+string(os.PathListSeparator)+os.Getenv("PATH"),
	); err != nil {
		return nil, err
	}

	entry := filepath.Join(targetDir, "node_modules", filepath.FromSlash(pkg), filepath.FromSlash(entryRel))
	if _, err := os.Stat(entry); err != nil {
		return nil, &domain.BinaryNotFoundError{Name: binName, Dir: targetDir}
	}

	launcher, err := writeLauncher(targetDir, binName, node.Bin, entry, s.plat)
	if err != nil {
		return nil, err
	}

	// The installed artifact is the launcher itself; its digest covers what
	// actually sits on the PATH.
	sha, err := checksum.SumFile(launcher)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("package", pkg).Str("version", version.Version).
		Str("node", node.Version).Msg("npm: installed")

	return &domain.FetchedBinary{
		Path:    launcher,
		Version: version.Version,
		SHA256:  sha,
		Runtime: &domain.RuntimeSpec{Type: "node", Version: node.Version},
	}, nil
}

func (s *NpmSource) CheckUpdate(ctx context.Context, installed *domain.InstalledBinary) (*domain.ResolvedVersion, error) {
	return checkUpdate(ctx, s, installed)
}

// chooseBin picks the entry point: the explicit --bin name, or the sole
// declared executable. Several executables with no choice made is an error
// listing all of them.
func chooseBin(pkg, requested string, bins map[string]string) (name, rel string, err error) {
	if requested != "" {
		rel, ok := bins[requested]
		if !ok {
			return "", "", &domain.BinaryNotFoundError{Name: requested, Dir: pkg}
		}
		return requested, rel, nil
	}

	switch len(bins) {
	case 0:
		return "", "", &domain.BinaryNotFoundError{Name: path.Base(pkg), Dir: pkg}
	case 1:
		for n, r := range bins {
			return n, r, nil
		}
	}

	names := make([]string, 0, len(bins))
	for n := range bins {
		names = append(names, n)
	}
	sort.Strings(names)
	return "", "", &domain.AmbiguousBinariesError{Package: pkg, Names: names}
}
