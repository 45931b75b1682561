// Package platform identifies the running OS/architecture pair and produces
// the ecosystem-specific asset names built from it.
package platform

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/teamcutter/binq/internal/domain"
)

// Descriptor is a supported OS/architecture pair, in Go's naming
// (linux|darwin|windows, amd64|arm64).
type Descriptor struct {
	OS   string
	Arch string
}

// Current describes the running platform or fails with an unsupported-platform
// error carrying both fields.
func Current() (Descriptor, error) {
	return describe(runtime.GOOS, runtime.GOARCH)
}

func describe(goos, goarch string) (Descriptor, error) {
	switch goos {
	case "linux", "darwin", "windows":
	default:
		return Descriptor{}, &domain.UnsupportedPlatformError{OS: goos, Arch: goarch}
	}
	switch goarch {
	case "amd64", "arm64":
	default:
		return Descriptor{}, &domain.UnsupportedPlatformError{OS: goos, Arch: goarch}
	}
	return Descriptor{OS: goos, Arch: goarch}, nil
}

// ExeSuffix is ".exe" on Windows, empty elsewhere.
func (d Descriptor) ExeSuffix() string {
	if d.OS == "windows" {
		return ".exe"
	}
	return ""
}

// NodeDirName is the top-level directory inside an upstream node archive.
func (d Descriptor) NodeDirName(version string) string {
	return fmt.Sprintf("node-v%s-%s-%s", version, d.nodeOS(), d.nodeArch())
}

// NodeArchiveName is the platform release archive for a node version, as
// listed in the upstream checksum manifest.
func (d Descriptor) NodeArchiveName(version string) string {
	return d.NodeDirName(version) + d.nodeExt()
}

func (d Descriptor) nodeOS() string {
	if d.OS == "windows" {
		return "win"
	}
	return d.OS
}

func (d Descriptor) nodeArch() string {
	if d.Arch == "amd64" {
		return "x64"
	}
	return "arm64"
}

func (d Descriptor) nodeExt() string {
	switch d.OS {
	case "linux":
		return ".tar.xz"
	case "windows":
		return ".zip"
	default:
		return ".tar.gz"
	}
}

// NodeBin locates the interpreter inside an unpacked node tree rooted at dir.
func (d Descriptor) NodeBin(dir, version string) string {
	if d.OS == "windows" {
		return filepath.Join(dir, d.NodeDirName(version), "node.exe")
	}
	return filepath.Join(dir, d.NodeDirName(version), "bin", "node")
}

// PnpmAssetName is the single-file pnpm executable published per platform.
func (d Descriptor) PnpmAssetName() string {
	switch d.OS {
	case "linux":
		return "pnpm-linuxstatic-" + d.nodeArch()
	case "darwin":
		return "pnpm-macos-" + d.nodeArch()
	default:
		return "pnpm-win-" + d.nodeArch() + ".exe"
	}
}

// RustTriple is the target triple used in cargo-binstall release assets.
func (d Descriptor) RustTriple() string {
	arch := "x86_64"
	if d.Arch == "arm64" {
		arch = "aarch64"
	}
	switch d.OS {
	case "linux":
		return arch + "-unknown-linux-musl"
	case "darwin":
		return arch + "-apple-darwin"
	default:
		return arch + "-pc-windows-msvc"
	}
}

// BinstallAssetName is the release archive carrying the binary-install helper.
func (d Descriptor) BinstallAssetName() string {
	ext := ".tgz"
	if d.OS == "windows" {
		ext = ".zip"
	}
	return "cargo-binstall-" + d.RustTriple() + ext
}

func (d Descriptor) osAliases() []string {
	switch d.OS {
	case "darwin":
		return []string{"darwin", "macos", "osx", "apple"}
	case "windows":
		return []string{"windows", "win64", "win32", "win"}
	default:
		return []string{"linux"}
	}
}

func (d Descriptor) archAliases() []string {
	if d.Arch == "arm64" {
		return []string{"arm64", "aarch64"}
	}
	return []string{"x86_64", "amd64", "x64", "64bit"}
}

// MatchesAsset reports whether a release-asset name looks built for this
// platform: it must mention both the OS and the architecture under any of
// their common aliases. Best-effort, used only when no explicit pattern was
// supplied.
func (d Descriptor) MatchesAsset(name string) bool {
	lower := strings.ToLower(name)
	os, arch := false, false
	for _, a := range d.osAliases() {
		if strings.Contains(lower, a) {
			os = true
			break
		}
	}
	for _, a := range d.archAliases() {
		if strings.Contains(lower, a) {
			arch = true
			break
		}
	}
	return os && arch
}

// AssetPatterns lists the substring combinations MatchesAsset accepts, for
// diagnostics.
func (d Descriptor) AssetPatterns() []string {
	var out []string
	for _, o := range d.osAliases() {
		for _, a := range d.archAliases() {
			out = append(out, o+"*"+a)
		}
	}
	return out
}
