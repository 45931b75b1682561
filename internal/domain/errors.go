package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching across the typed kinds below.
var (
	ErrNoMatchingVersion  = errors.New("no compatible version")
	ErrChecksum           = errors.New("checksum verification failed")
	ErrAssetNotFound      = errors.New("no release asset matches")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrBinaryNotFound     = errors.New("binary not found")
)

// NoMatchingVersionError reports that nothing upstream (or in a local cache)
// satisfies a version requirement.
type NoMatchingVersionError struct {
	Name        string
	Requirement string
}

func (e *NoMatchingVersionError) Error() string {
	if e.Requirement == "" {
		return fmt.Sprintf("no compatible version of %s", e.Name)
	}
	return fmt.Sprintf("no version of %s satisfies %q", e.Name, e.Requirement)
}

func (e *NoMatchingVersionError) Unwrap() error { return ErrNoMatchingVersion }

// ChecksumMismatchError names the file and both digests. The artifact is
// never installed when this is returned.
type ChecksumMismatchError struct {
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.File, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksum }

// MissingChecksumError reports a file absent from a checksum manifest that
// was required to cover it.
type MissingChecksumError struct {
	File string
}

func (e *MissingChecksumError) Error() string {
	return fmt.Sprintf("no checksum entry for %s", e.File)
}

func (e *MissingChecksumError) Unwrap() error { return ErrChecksum }

// AmbiguousBinariesError reports a package exposing several executables with
// no --bin disambiguation.
type AmbiguousBinariesError struct {
	Package string
	Names   []string
}

func (e *AmbiguousBinariesError) Error() string {
	return fmt.Sprintf("%s declares multiple binaries (%s); choose one with --bin",
		e.Package, strings.Join(e.Names, ", "))
}

// AssetNotFoundError reports that no release asset matched the pattern or
// platform, listing what the most recent release offered.
type AssetNotFoundError struct {
	Repo      string
	Available []string
}

func (e *AssetNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no matching release asset in %s", e.Repo)
	}
	return fmt.Sprintf("no matching release asset in %s; available: %s",
		e.Repo, strings.Join(e.Available, ", "))
}

func (e *AssetNotFoundError) Unwrap() error { return ErrAssetNotFound }

// UnsupportedArchiveError rejects asset formats outside tar.gz, zip, and raw
// executables. A deliberate scope limit, raised before any bytes download.
type UnsupportedArchiveError struct {
	Asset string
}

func (e *UnsupportedArchiveError) Error() string {
	return fmt.Sprintf("unsupported archive format: %s", e.Asset)
}

func (e *UnsupportedArchiveError) Unwrap() error { return ErrUnsupportedArchive }

// BinaryNotFoundError reports a declared or expected executable missing after
// an install step completed.
type BinaryNotFoundError struct {
	Name string
	Dir  string
}

func (e *BinaryNotFoundError) Error() string {
	return fmt.Sprintf("binary %s not found under %s", e.Name, e.Dir)
}

func (e *BinaryNotFoundError) Unwrap() error { return ErrBinaryNotFound }

// UnsupportedPlatformError carries the offending OS/architecture pair.
type UnsupportedPlatformError struct {
	OS   string
	Arch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s/%s", e.OS, e.Arch)
}

// ParseError wraps a malformed upstream response.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s response: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
