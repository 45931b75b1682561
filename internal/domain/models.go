package domain

// SourceType discriminates the ecosystem a package comes from. The set is
// closed; serialized forms carry it as the "type" field.
type SourceType string

const (
	SourceNpm    SourceType = "npm"
	SourceCrate  SourceType = "crate"
	SourceGithub SourceType = "github"
)

// SourceConfig is the request-time description of where a package comes from.
// Exactly one of Package, Crate, or Repo is set, according to Type.
type SourceConfig struct {
	Type         SourceType
	Package      string // npm package name, possibly @scoped
	Crate        string // crates.io crate name
	Repo         string // github "owner/repo"
	AssetPattern string // optional release-asset pattern (github only)
}

// WithVersion pins a config to the exact version that was installed.
func (c SourceConfig) WithVersion(version string) SourceSpec {
	return SourceSpec{
		Type:         c.Type,
		Package:      c.Package,
		Crate:        c.Crate,
		Repo:         c.Repo,
		AssetPattern: c.AssetPattern,
		Version:      version,
	}
}

// ID returns the ecosystem-local identity used as the content-store key.
func (c SourceConfig) ID() string {
	switch c.Type {
	case SourceNpm:
		return c.Package
	case SourceCrate:
		return c.Crate
	default:
		return c.Repo
	}
}

// SourceSpec is the persisted counterpart of SourceConfig: always carries the
// exact installed version.
type SourceSpec struct {
	Type         SourceType `json:"type"`
	Package      string     `json:"package,omitempty"`
	Crate        string     `json:"crate,omitempty"`
	Repo         string     `json:"repo,omitempty"`
	AssetPattern string     `json:"asset_pattern,omitempty"`
	Version      string     `json:"version"`
}

// Config strips the pinned version back off, for re-resolving on update.
func (s SourceSpec) Config() SourceConfig {
	return SourceConfig{
		Type:         s.Type,
		Package:      s.Package,
		Crate:        s.Crate,
		Repo:         s.Repo,
		AssetPattern: s.AssetPattern,
	}
}

func (s SourceSpec) ID() string {
	return s.Config().ID()
}

// PackageSpec is one requested install.
type PackageSpec struct {
	Name        string // display name: npm package, crate, or repo base name
	Requirement string // "", "latest", exact version, or a semver range
	Source      SourceConfig
	BinName     string // disambiguates packages exposing multiple executables
}

// ResolvedVersion is one concrete candidate produced by Source.Resolve.
// Everything beyond Version is optional resolver-specific carry-over so Fetch
// does not have to re-query metadata. Never persisted.
type ResolvedVersion struct {
	Version     string
	DownloadURL string
	Checksum    string // pre-known lowercase hex sha256, if the metadata had one
	ChecksumURL string // sibling checksum manifest, if one was discovered
	AssetName   string
	NodeRange   string            // declared interpreter constraint, e.g. ">=18"
	Bins        map[string]string // entry-point name -> path relative to package root
}

// RuntimeSpec names the auxiliary runtime an installed binary depends on.
type RuntimeSpec struct {
	Type    string `json:"type"` // only "node" today
	Version string `json:"version"`
}

// FetchedBinary is the verified product of Source.Fetch.
type FetchedBinary struct {
	Path    string // final executable (or launcher) inside the store
	Version string
	SHA256  string
	Runtime *RuntimeSpec
}

// InstalledBinary is one manifest entry. InstalledAt is unix seconds,
// serialized as a string.
type InstalledBinary struct {
	Source      SourceSpec   `json:"source"`
	Binary      string       `json:"binary"`
	SHA256      string       `json:"sha256"`
	InstalledAt string       `json:"installed_at"`
	Runtime     *RuntimeSpec `json:"runtime,omitempty"`
}

// Manifest maps binary name to its install record. It is the sole source of
// truth for what is installed.
type Manifest struct {
	Binaries map[string]*InstalledBinary `json:"binaries"`
}

func NewManifest() *Manifest {
	return &Manifest{Binaries: make(map[string]*InstalledBinary)}
}

// Toolchain is a cached auxiliary tool provided by the runtime pool.
type Toolchain struct {
	Name    string
	Version string
	Dir     string
	Bin     string // absolute path to the tool's executable
}
