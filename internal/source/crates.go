package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/teamcutter/binq/internal/checksum"
	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/platform"
)

// CratesSource installs crates through cargo-binstall, which locates or
// builds a prebuilt artifact itself and verifies it against the registry.
type CratesSource struct {
	baseURL string
	client  *download.Client
	plat    platform.Descriptor
}

func NewCrates(opts Options) *CratesSource {
	return &CratesSource{
		baseURL: strings.TrimSuffix(opts.CratesURL, "/"),
		client:  opts.Client,
		plat:    opts.Plat,
	}
}

type crateResponse struct {
	Crate struct {
		MaxVersion string `json:"max_version"`
	} `json:"crate"`
	Versions []struct {
		Num    string `json:"num"`
		Yanked bool   `json:"yanked"`
	} `json:"versions"`
}

func (s *CratesSource) Resolve(ctx context.Context, spec domain.PackageSpec) ([]domain.ResolvedVersion, error) {
	crate := spec.Source.Crate
	endpoint := s.baseURL + "/api/v1/crates/" + crate

	var doc crateResponse
	if err := s.client.GetJSON(ctx, endpoint, &doc); err != nil {
		if httpErr, ok := err.(*download.HTTPError); ok && httpErr.IsNotFound() {
			return nil, fmt.Errorf("crate %q not found", crate)
		}
		return nil, err
	}

	// Yanked versions never resolve, not even by exact request.
	live := make([]string, 0, len(doc.Versions))
	for _, v := range doc.Versions {
		if !v.Yanked {
			live = append(live, v.Num)
		}
	}
	if len(live) == 0 {
		return nil, &domain.NoMatchingVersionError{Name: crate, Requirement: spec.Requirement}
	}

	req := spec.Requirement
	if req == "" || req == "latest" {
		// max_version can point at a yanked release; fall back to the
		// highest live one when it does.
		if doc.Crate.MaxVersion != "" && containsString(live, doc.Crate.MaxVersion) {
			return []domain.ResolvedVersion{{Version: doc.Crate.MaxVersion}}, nil
		}
		sortVersionsDesc(live)
		return []domain.ResolvedVersion{{Version: live[0]}}, nil
	}

	if containsString(live, trimV(req)) {
		return []domain.ResolvedVersion{{Version: trimV(req)}}, nil
	}

	matched, err := matchRange(crate, req, live)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ResolvedVersion, len(matched))
	for i, num := range matched {
		out[i] = domain.ResolvedVersion{Version: num}
	}
	return out, nil
}

func (s *CratesSource) Fetch(ctx context.Context, spec domain.PackageSpec, version domain.ResolvedVersion, targetDir string, pool domain.RuntimePool) (*domain.FetchedBinary, error) {
	crate := spec.Source.Crate

	binstall, err := pool.Binstall(ctx)
	if err != nil {
		return nil, err
	}

	// CARGO_HOME is isolated under the store so nothing leaks into the
	// user's cargo installation.
	cargoHome := filepath.Join(targetDir, ".cargo")
	if err := os.MkdirAll(cargoHome, 0755); err != nil {
		return nil, err
	}

	err = runHelper(ctx, binstall.Bin,
		[]string{crate + "@" + version.Version, "--root", targetDir, "--no-confirm"},
		targetDir,
		"CARGO_HOME="+cargoHome,
	)
	if err != nil {
		return nil, err
	}

	binName := spec.BinName
	if binName == "" {
		binName = crate
	}
	bin := filepath.Join(targetDir, "bin", binName+s.plat.ExeSuffix())
	info, err := os.Stat(bin)
	if err != nil {
		return nil, &domain.BinaryNotFoundError{Name: binName, Dir: filepath.Join(targetDir, "bin")}
	}
	if s.plat.OS != "windows" && info.Mode()&0111 == 0 {
		if err := os.Chmod(bin, 0755); err != nil {
			return nil, err
		}
	}

	sha, err := checksum.SumFile(bin)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("crate", crate).Str("version", version.Version).Msg("crates: installed")

	return &domain.FetchedBinary{
		Path:    bin,
		Version: version.Version,
		SHA256:  sha,
	}, nil
}

func (s *CratesSource) CheckUpdate(ctx context.Context, installed *domain.InstalledBinary) (*domain.ResolvedVersion, error) {
	return checkUpdate(ctx, s, installed)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
