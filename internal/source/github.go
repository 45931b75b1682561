package source

import (
	"context"
	"fmt"
	"os"
	"path"
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

// releasePageSize bounds how far back resolution looks through a repo's
// release history.
const releasePageSize = 30

// GithubSource installs prebuilt binaries published as release assets on a
// hosted forge. Checksums are opportunistic here: verified when a sibling
// checksum asset exists, a logged warning when none does.
type GithubSource struct {
	apiURL string
	client *download.Client
	plat   platform.Descriptor
}

func NewGithub(opts Options) *GithubSource {
	return &GithubSource{
		apiURL: strings.TrimSuffix(opts.GithubAPIURL, "/"),
		client: opts.Client,
		plat:   opts.Plat,
	}
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type ghRelease struct {
	TagName    string    `json:"tag_name"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	Assets     []ghAsset `json:"assets"`
}

type archiveKind int

const (
	archiveTarGz archiveKind = iota
	archiveZip
	archiveRaw
)

// classifyAsset maps an asset name to a handling strategy, or fails for
// formats outside scope. The failure happens at resolve time, before any
// download.
func classifyAsset(name string) (archiveKind, error) {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.bz2", ".tbz2", ".tar.xz", ".txz", ".tar.zst", ".7z", ".rar", ".dmg", ".pkg", ".deb", ".rpm", ".msi"} {
		if strings.HasSuffix(lower, ext) {
			return 0, &domain.UnsupportedArchiveError{Asset: name}
		}
	}
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return archiveTarGz, nil
	case strings.HasSuffix(lower, ".zip"):
		return archiveZip, nil
	default:
		return archiveRaw, nil
	}
}

func (s *GithubSource) Resolve(ctx context.Context, spec domain.PackageSpec) ([]domain.ResolvedVersion, error) {
	repo := spec.Source.Repo
	endpoint := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", s.apiURL, repo, releasePageSize)

	var releases []ghRelease
	if err := s.client.GetJSON(ctx, endpoint, &releases); err != nil {
		if httpErr, ok := err.(*download.HTTPError); ok && httpErr.IsNotFound() {
			return nil, fmt.Errorf("repository %q not found", repo)
		}
		return nil, err
	}

	candidates := s.filterReleases(repo, spec.Requirement, releases)
	if len(candidates) == 0 {
		return nil, &domain.NoMatchingVersionError{Name: repo, Requirement: spec.Requirement}
	}

	var out []domain.ResolvedVersion
	var firstSkipped []string
	for _, rel := range candidates {
		asset, err := s.pickAsset(rel.Assets, spec.Source.AssetPattern)
		if err != nil {
			// Remember what the newest examined release offered, for the
			// eventual diagnostic.
			if firstSkipped == nil {
				firstSkipped = assetNames(rel.Assets)
			}
			continue
		}
		if _, err := classifyAsset(asset.Name); err != nil {
			return nil, err
		}
		out = append(out, domain.ResolvedVersion{
			Version:     trimV(rel.TagName),
			DownloadURL: asset.BrowserDownloadURL,
			AssetName:   asset.Name,
			ChecksumURL: checksumSibling(rel.Assets, asset.Name),
		})
	}
	if len(out) == 0 {
		return nil, &domain.AssetNotFoundError{Repo: repo, Available: firstSkipped}
	}
	return out, nil
}

// filterReleases drops drafts and prereleases, applies the version
// requirement, and orders newest-first.
func (s *GithubSource) filterReleases(repo, req string, releases []ghRelease) []ghRelease {
	live := releases[:0:0]
	for _, r := range releases {
		if r.Draft || r.Prerelease {
			continue
		}
		live = append(live, r)
	}
	sort.SliceStable(live, func(i, j int) bool {
		return semverLess(live[j].TagName, live[i].TagName)
	})

	if req == "" || req == "latest" {
		return live
	}

	var out []ghRelease
	if c, rangeErr := newRange(req); rangeErr == nil {
		for _, r := range live {
			if c(trimV(r.TagName)) {
				out = append(out, r)
			}
		}
		return out
	}

	for _, r := range live {
		if sameVersion(r.TagName, req) {
			out = append(out, r)
		}
	}
	return out
}

// pickAsset selects a release asset: by explicit pattern when one was given
// (glob when it carries metacharacters, case-insensitive substring
// otherwise), by platform heuristics when not. Archives are preferred over
// raw files so that checksum siblings and companion files never win.
func (s *GithubSource) pickAsset(assets []ghAsset, pattern string) (*ghAsset, error) {
	var matched []ghAsset
	if pattern != "" {
		glob := strings.ContainsAny(pattern, "*?[")
		for _, a := range assets {
			if glob {
				if ok, _ := path.Match(pattern, a.Name); ok {
					matched = append(matched, a)
				}
			} else if strings.Contains(strings.ToLower(a.Name), strings.ToLower(pattern)) {
				matched = append(matched, a)
			}
		}
	} else {
		for _, a := range assets {
			if isChecksumName(a.Name) {
				continue
			}
			if s.plat.MatchesAsset(a.Name) {
				matched = append(matched, a)
			}
		}
	}
	if len(matched) == 0 {
		return nil, &domain.AssetNotFoundError{Available: assetNames(assets)}
	}

	rank := func(name string) int {
		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
			return 0
		case strings.HasSuffix(lower, ".zip"):
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return rank(matched[i].Name) < rank(matched[j].Name)
	})
	return &matched[0], nil
}

func assetNames(assets []ghAsset) []string {
	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = a.Name
	}
	return names
}

func isChecksumName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".sha256") ||
		strings.HasSuffix(lower, ".sha256sum") ||
		strings.Contains(lower, "checksums") ||
		strings.Contains(lower, "sha256sums")
}

// checksumSibling locates the checksum asset covering name: an exact sibling
// first, then any release-wide checksum manifest. Empty when the release
// publishes none.
func checksumSibling(assets []ghAsset, name string) string {
	for _, suffix := range []string{".sha256", ".sha256sum"} {
		for _, a := range assets {
			if a.Name == name+suffix {
				return a.BrowserDownloadURL
			}
		}
	}
	for _, a := range assets {
		lower := strings.ToLower(a.Name)
		if lower == "checksums.txt" || lower == "sha256sums" || lower == "sha256sums.txt" ||
			strings.Contains(lower, "checksums") {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

func (s *GithubSource) Fetch(ctx context.Context, spec domain.PackageSpec, version domain.ResolvedVersion, targetDir string, pool domain.RuntimePool) (*domain.FetchedBinary, error) {
	kind, err := classifyAsset(version.AssetName)
	if err != nil {
		return nil, err
	}

	archive := filepath.Join(targetDir, ".download", version.AssetName)
	if err := os.MkdirAll(filepath.Dir(archive), 0755); err != nil {
		return nil, err
	}
	if err := s.client.Download(ctx, version.DownloadURL, archive, version.AssetName); err != nil {
		return nil, err
	}

	if version.ChecksumURL != "" {
		if err := s.verify(ctx, version.ChecksumURL, version.AssetName, archive); err != nil {
			return nil, err
		}
	} else {
		log.Warn().Str("asset", version.AssetName).
			Msg("release publishes no checksums, skipping verification")
	}

	binName := spec.BinName
	if binName == "" {
		binName = path.Base(spec.Source.Repo)
	}
	target := filepath.Join(targetDir, binName+s.plat.ExeSuffix())

	switch kind {
	case archiveRaw:
		if err := os.Rename(archive, target); err != nil {
			return nil, err
		}
	default:
		unpack := filepath.Join(targetDir, ".unpack")
		if err := extractor.Extract(archive, unpack); err != nil {
			return nil, err
		}
		found, err := extractor.FindExecutable(unpack, binName, s.plat.ExeSuffix())
		if err != nil {
			found, err = extractor.FindSoleExecutable(unpack)
			if err != nil {
				return nil, &domain.BinaryNotFoundError{Name: binName, Dir: unpack}
			}
		}
		if err := os.Rename(found, target); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(unpack); err != nil {
			return nil, err
		}
	}
	if err := os.RemoveAll(filepath.Join(targetDir, ".download")); err != nil {
		return nil, err
	}

	if err := os.Chmod(target, 0755); err != nil {
		return nil, err
	}

	sha, err := checksum.SumFile(target)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("repo", spec.Source.Repo).Str("version", version.Version).
		Str("asset", version.AssetName).Msg("github: installed")

	return &domain.FetchedBinary{
		Path:    target,
		Version: version.Version,
		SHA256:  sha,
	}, nil
}

// verify checks the downloaded asset against its published checksum. The
// manifest bytes always come straight from the network; a cached manifest
// could diverge from the asset just downloaded.
func (s *GithubSource) verify(ctx context.Context, checksumURL, assetName, archive string) error {
	body, err := s.client.GetUncached(ctx, checksumURL)
	if err != nil {
		return fmt.Errorf("fetching checksums: %w", err)
	}
	m := checksum.ParseManifest(string(body))
	expected, ok := m.Lookup(assetName)
	if !ok {
		return &domain.MissingChecksumError{File: assetName}
	}
	return checksum.VerifyFile(archive, expected)
}

func (s *GithubSource) CheckUpdate(ctx context.Context, installed *domain.InstalledBinary) (*domain.ResolvedVersion, error) {
	return checkUpdate(ctx, s, installed)
}
