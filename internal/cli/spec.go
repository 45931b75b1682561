package cli

import (
	"fmt"
	"path"
	"strings"

	"github.com/teamcutter/binq/internal/domain"
)

// parseSpec turns a command-line package argument into a PackageSpec:
//
//	npm:prettier@^3        npm registry package
//	crate:ripgrep@14.1.0   crates.io crate
//	cli/cli@latest         github owner/repo
//	typescript             bare name, npm by default
//
// The version requirement hangs off the last "@" that is not the scope
// marker of a scoped npm package.
func parseSpec(arg, assetPattern, binName string) (domain.PackageSpec, error) {
	var kind domain.SourceType
	rest := arg

	switch {
	case strings.HasPrefix(arg, "npm:"):
		kind = domain.SourceNpm
		rest = strings.TrimPrefix(arg, "npm:")
	case strings.HasPrefix(arg, "crate:"):
		kind = domain.SourceCrate
		rest = strings.TrimPrefix(arg, "crate:")
	case strings.Contains(arg, "/"):
		kind = domain.SourceGithub
	default:
		kind = domain.SourceNpm
	}

	id, req := splitRequirement(rest)
	if id == "" {
		return domain.PackageSpec{}, fmt.Errorf("invalid package spec %q", arg)
	}
	if req == "" {
		req = "latest"
	}

	spec := domain.PackageSpec{
		Requirement: req,
		BinName:     binName,
	}

	switch kind {
	case domain.SourceNpm:
		// A scoped name is "@scope/pkg"; a bare "@..." is a mistyped spec.
		if strings.HasPrefix(id, "@") && !strings.Contains(id, "/") {
			return domain.PackageSpec{}, fmt.Errorf("invalid package spec %q", arg)
		}
		spec.Name = id
		spec.Source = domain.SourceConfig{Type: domain.SourceNpm, Package: id}
	case domain.SourceCrate:
		spec.Name = id
		spec.Source = domain.SourceConfig{Type: domain.SourceCrate, Crate: id}
	default:
		if strings.Count(id, "/") != 1 {
			return domain.PackageSpec{}, fmt.Errorf("invalid repository %q, want owner/repo", id)
		}
		spec.Name = path.Base(id)
		spec.Source = domain.SourceConfig{Type: domain.SourceGithub, Repo: id, AssetPattern: assetPattern}
	}

	if assetPattern != "" && kind != domain.SourceGithub {
		return domain.PackageSpec{}, fmt.Errorf("--asset only applies to github sources")
	}
	return spec, nil
}

func splitRequirement(s string) (id, req string) {
	if i := strings.LastIndex(s, "@"); i > 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
