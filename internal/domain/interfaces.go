package domain

import "context"

// Source is the per-ecosystem contract. Three independent implementations
// exist (npm, crates.io, github releases); there is no shared base.
type Source interface {
	// Resolve returns candidate versions for the spec, most-preferred first.
	// It fails with a typed error rather than panicking on malformed upstream
	// metadata.
	Resolve(ctx context.Context, spec PackageSpec) ([]ResolvedVersion, error)

	// Fetch materializes one resolved version under targetDir and leaves
	// exactly one verified executable artifact there. The caller prepares
	// targetDir freshly empty before the call. Sources that need an
	// interpreter or install helper acquire it from the pool.
	Fetch(ctx context.Context, spec PackageSpec, version ResolvedVersion, targetDir string, pool RuntimePool) (*FetchedBinary, error)

	// CheckUpdate re-resolves the spec an entry was installed from and
	// returns the top candidate only if its version differs from the
	// installed one. Version equality ignores a leading "v".
	CheckUpdate(ctx context.Context, installed *InstalledBinary) (*ResolvedVersion, error)
}

// RuntimePool lazily provides the auxiliary toolchains needed to turn fetched
// packages into runnable binaries. Implemented by internal/runtime.
type RuntimePool interface {
	// Node returns a cached interpreter satisfying the requirement ("lts", a
	// semver range, an exact version, or "" for the pool default).
	Node(ctx context.Context, requirement string) (*Toolchain, error)

	// Pnpm returns the pooled package-install helper.
	Pnpm(ctx context.Context) (*Toolchain, error)

	// Binstall returns the pooled crate binary-install helper.
	Binstall(ctx context.Context) (*Toolchain, error)
}
