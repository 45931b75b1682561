// Package runtime pools the auxiliary toolchains needed to realize fetched
// packages as executables: a node interpreter, the pnpm package-install
// helper, and the cargo-binstall binary-install helper. Toolchains are cached
// under <data-root>/toolchains/<tool>/<version> and never re-downloaded once
// present; Prune is the only path that deletes them.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/teamcutter/binq/internal/checksum"
	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/extractor"
	"github.com/teamcutter/binq/internal/platform"
)

// Endpoints are the upstream locations the pool pulls from. Overridable for
// tests and mirrors.
type Endpoints struct {
	NodeDistURL       string // base of the node release tree
	PnpmLatestURL     string // "latest release" metadata for pnpm
	PnpmDownloadURL   string // base of pnpm release downloads
	BinstallLatestURL string // "latest release" metadata for cargo-binstall
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		NodeDistURL:       "https://nodejs.org/dist",
		PnpmLatestURL:     "https://api.github.com/repos/pnpm/pnpm/releases/latest",
		PnpmDownloadURL:   "https://github.com/pnpm/pnpm/releases/download",
		BinstallLatestURL: "https://api.github.com/repos/cargo-bins/cargo-binstall/releases/latest",
	}
}

type nodeState struct {
	Installed []string `json:"installed"`
	Default   string   `json:"default,omitempty"`
}

type pnpmState struct {
	Version string `json:"version,omitempty"`
}

// poolManifest is the persisted runtime.json document.
type poolManifest struct {
	Node nodeState `json:"node"`
	Pnpm pnpmState `json:"pnpm"`
}

type Pool struct {
	dir          string // <data-root>/toolchains
	manifestPath string // <data-root>/runtime.json
	client       *download.Client
	plat         platform.Descriptor
	endpoints    Endpoints
	m            poolManifest
}

// New loads pool state from manifestPath, or starts empty when the file does
// not exist yet.
func New(dir, manifestPath string, client *download.Client, plat platform.Descriptor, endpoints Endpoints) (*Pool, error) {
	p := &Pool{
		dir:          dir,
		manifestPath: manifestPath,
		client:       client,
		plat:         plat,
		endpoints:    endpoints,
	}

	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	return p, nil
}

// Save persists the pool manifest. Call once per command, after any mutation.
func (p *Pool) Save() error {
	if err := os.MkdirAll(filepath.Dir(p.manifestPath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p.m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.manifestPath, data, 0644)
}

// InstalledNodeVersions exposes the cached interpreter set (tests,
// diagnostics).
func (p *Pool) InstalledNodeVersions() []string {
	out := append([]string(nil), p.m.Node.Installed...)
	sort.Strings(out)
	return out
}

// DefaultNodeVersion returns the pool's default interpreter, if any.
func (p *Pool) DefaultNodeVersion() string { return p.m.Node.Default }

// Node resolves an interpreter requirement ("lts", a semver range, an exact
// version, or "" for the pool default) against the local cache first, then
// the upstream version index.
func (p *Pool) Node(ctx context.Context, requirement string) (*domain.Toolchain, error) {
	req := strings.TrimSpace(requirement)
	if req == "" {
		if p.m.Node.Default != "" {
			req = p.m.Node.Default
		} else {
			req = "lts"
		}
	}

	if v := p.pickLocalNode(req); v != "" {
		bin := p.plat.NodeBin(p.nodeDir(v), v)
		if _, err := os.Stat(bin); err == nil {
			log.Debug().Str("version", v).Str("requirement", req).Msg("node: cache hit")
			return &domain.Toolchain{Name: "node", Version: v, Dir: p.nodeDir(v), Bin: bin}, nil
		}
	}

	version, err := p.resolveRemoteNode(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := p.installNode(ctx, version); err != nil {
		return nil, err
	}

	if !contains(p.m.Node.Installed, version) {
		p.m.Node.Installed = append(p.m.Node.Installed, version)
		sort.Strings(p.m.Node.Installed)
	}
	if p.m.Node.Default == "" || req == "lts" || isExactVersion(req) {
		p.m.Node.Default = version
	}

	return &domain.Toolchain{
		Name:    "node",
		Version: version,
		Dir:     p.nodeDir(version),
		Bin:     p.plat.NodeBin(p.nodeDir(version), version),
	}, nil
}

func (p *Pool) nodeDir(version string) string {
	return filepath.Join(p.dir, "node", version)
}

func (p *Pool) installNode(ctx context.Context, version string) error {
	archive := p.plat.NodeArchiveName(version)
	base := fmt.Sprintf("%s/v%s", p.endpoints.NodeDistURL, version)

	sumsText, err := p.client.GetUncached(ctx, base+"/SHASUMS256.txt")
	if err != nil {
		return fmt.Errorf("fetching node checksums: %w", err)
	}
	sums := checksum.ParseManifest(string(sumsText))
	expected, ok := sums.Lookup(archive)
	if !ok {
		return &domain.MissingChecksumError{File: archive}
	}

	tmp, err := os.MkdirTemp(filepath.Dir(p.nodeDir(version)), ".dl-")
	if err != nil {
		if err2 := os.MkdirAll(filepath.Dir(p.nodeDir(version)), 0755); err2 != nil {
			return err2
		}
		if tmp, err = os.MkdirTemp(filepath.Dir(p.nodeDir(version)), ".dl-"); err != nil {
			return err
		}
	}
	defer os.RemoveAll(tmp)

	archivePath := filepath.Join(tmp, archive)
	if err := p.client.Download(ctx, base+"/"+archive, archivePath, "Downloading node "+version); err != nil {
		return err
	}
	if err := checksum.VerifyFile(archivePath, expected); err != nil {
		return err
	}

	dir := p.nodeDir(version)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := extractor.Extract(archivePath, dir); err != nil {
		return err
	}

	bin := p.plat.NodeBin(dir, version)
	if _, err := os.Stat(bin); err != nil {
		return &domain.BinaryNotFoundError{Name: "node", Dir: dir}
	}
	log.Debug().Str("version", version).Msg("node: installed")
	return nil
}

// Pnpm returns the pooled package-install helper, pinning the upstream latest
// release on first use.
func (p *Pool) Pnpm(ctx context.Context) (*domain.Toolchain, error) {
	if p.m.Pnpm.Version == "" {
		var rel releaseInfo
		if err := p.client.GetJSON(ctx, p.endpoints.PnpmLatestURL, &rel); err != nil {
			return nil, fmt.Errorf("resolving pnpm release: %w", err)
		}
		ver := strings.TrimPrefix(rel.TagName, "v")
		if ver == "" {
			return nil, &domain.ParseError{Source: p.endpoints.PnpmLatestURL, Err: fmt.Errorf("release has no tag name")}
		}
		p.m.Pnpm.Version = ver
		log.Debug().Str("version", ver).Msg("pnpm: pinned")
	}

	ver := p.m.Pnpm.Version
	dir := filepath.Join(p.dir, "pnpm", ver)
	bin := filepath.Join(dir, "pnpm"+p.plat.ExeSuffix())
	if _, err := os.Stat(bin); err == nil {
		return &domain.Toolchain{Name: "pnpm", Version: ver, Dir: dir, Bin: bin}, nil
	}

	asset := p.plat.PnpmAssetName()
	url := fmt.Sprintf("%s/v%s/%s", p.endpoints.PnpmDownloadURL, ver, asset)

	sumsText, err := p.client.GetUncached(ctx, url+".sha256")
	if err != nil {
		return nil, fmt.Errorf("fetching pnpm checksum: %w", err)
	}
	sums := checksum.ParseManifest(string(sumsText))
	expected, ok := sums.Lookup(asset)
	if !ok {
		return nil, &domain.MissingChecksumError{File: asset}
	}

	if err := p.client.Download(ctx, url, bin, "Downloading pnpm "+ver); err != nil {
		return nil, err
	}
	if err := checksum.VerifyFile(bin, expected); err != nil {
		os.Remove(bin)
		return nil, err
	}
	if err := os.Chmod(bin, 0755); err != nil {
		return nil, err
	}

	return &domain.Toolchain{Name: "pnpm", Version: ver, Dir: dir, Bin: bin}, nil
}

// Binstall returns the pooled crate binary-install helper, resolving its
// version from the upstream latest release each run (the metadata cache makes
// repeats cheap) and caching the unpacked helper by that version.
func (p *Pool) Binstall(ctx context.Context) (*domain.Toolchain, error) {
	var rel releaseInfo
	if err := p.client.GetJSON(ctx, p.endpoints.BinstallLatestURL, &rel); err != nil {
		return nil, fmt.Errorf("resolving cargo-binstall release: %w", err)
	}
	ver := strings.TrimPrefix(rel.TagName, "v")
	if ver == "" {
		return nil, &domain.ParseError{Source: p.endpoints.BinstallLatestURL, Err: fmt.Errorf("release has no tag name")}
	}

	dir := filepath.Join(p.dir, "binstall", ver)
	binName := "cargo-binstall" + p.plat.ExeSuffix()
	if bin, err := extractor.FindExecutable(dir, "cargo-binstall", p.plat.ExeSuffix()); err == nil {
		return &domain.Toolchain{Name: "cargo-binstall", Version: ver, Dir: dir, Bin: bin}, nil
	}

	asset := p.plat.BinstallAssetName()
	assetURL := rel.assetURL(asset)
	if assetURL == "" {
		return nil, &domain.AssetNotFoundError{Repo: "cargo-binstall", Available: rel.assetNames()}
	}

	sumsURL := rel.checksumURL(asset)
	if sumsURL == "" {
		return nil, &domain.MissingChecksumError{File: asset}
	}
	sumsText, err := p.client.GetUncached(ctx, sumsURL)
	if err != nil {
		return nil, fmt.Errorf("fetching cargo-binstall checksums: %w", err)
	}
	sums := checksum.ParseManifest(string(sumsText))
	expected, ok := sums.Lookup(asset)
	if !ok {
		return nil, &domain.MissingChecksumError{File: asset}
	}

	tmp, err := os.MkdirTemp("", "binq-binstall-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	archivePath := filepath.Join(tmp, asset)
	if err := p.client.Download(ctx, assetURL, archivePath, "Downloading cargo-binstall "+ver); err != nil {
		return nil, err
	}
	if err := checksum.VerifyFile(archivePath, expected); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := extractor.Extract(archivePath, dir); err != nil {
		return nil, err
	}

	bin, err := extractor.FindExecutable(dir, "cargo-binstall", p.plat.ExeSuffix())
	if err != nil {
		return nil, &domain.BinaryNotFoundError{Name: binName, Dir: dir}
	}
	if err := os.Chmod(bin, 0755); err != nil {
		return nil, err
	}
	log.Debug().Str("version", ver).Msg("cargo-binstall: installed")

	return &domain.Toolchain{Name: "cargo-binstall", Version: ver, Dir: dir, Bin: bin}, nil
}

// Prune deletes every cached interpreter version not in used and updates the
// persisted installed-set. If the default was removed, it is cleared. Returns
// the removed versions.
func (p *Pool) Prune(used map[string]bool) ([]string, error) {
	var kept, removed []string
	for _, v := range p.m.Node.Installed {
		if used[v] {
			kept = append(kept, v)
			continue
		}
		if err := os.RemoveAll(p.nodeDir(v)); err != nil {
			return removed, err
		}
		removed = append(removed, v)
	}

	p.m.Node.Installed = kept
	if p.m.Node.Default != "" && !used[p.m.Node.Default] {
		p.m.Node.Default = ""
	}

	sort.Strings(removed)
	if len(removed) > 0 {
		log.Debug().Strs("versions", removed).Msg("node: pruned")
	}
	return removed, nil
}

type releaseInfo struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

func (r *releaseInfo) assetURL(name string) string {
	for _, a := range r.Assets {
		if a.Name == name {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

func (r *releaseInfo) assetNames() []string {
	names := make([]string, len(r.Assets))
	for i, a := range r.Assets {
		names[i] = a.Name
	}
	return names
}

// checksumURL finds the checksum manifest covering an asset: its detached
// sibling first, then a combined manifest.
func (r *releaseInfo) checksumURL(asset string) string {
	if u := r.assetURL(asset + ".sha256"); u != "" {
		return u
	}
	for _, a := range r.Assets {
		lower := strings.ToLower(a.Name)
		if strings.Contains(lower, "sha256") || strings.Contains(lower, "checksums") {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
