// Package checksum computes sha256 digests and parses the checksum-manifest
// text formats published alongside release assets.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/teamcutter/binq/internal/domain"
)

// Sum returns the lowercase-hex sha256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumFile digests a file without loading it whole.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var (
	hexRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	bsdRe = regexp.MustCompile(`^SHA256 \((.+)\) = ([0-9a-fA-F]{64})$`)
)

// Manifest is a parsed filename -> digest mapping. Sole holds the digest of a
// single-hash file carrying no filename association.
type Manifest struct {
	digests map[string]string
	sole    string
}

// ParseManifest accepts three formats, mixed freely by line:
//
//	<hex>  <filename>         (GNU coreutils, space or * mode flag)
//	SHA256 (<filename>) = <hex>   (BSD)
//
// A file whose entire content is one 64-char hex token parses as a sole
// digest with no filename.
func ParseManifest(text string) *Manifest {
	m := &Manifest{digests: make(map[string]string)}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if g := bsdRe.FindStringSubmatch(line); g != nil {
			m.digests[g[1]] = strings.ToLower(g[2])
			continue
		}

		idx := strings.IndexAny(line, " \t")
		if idx < 0 {
			continue
		}
		digest := line[:idx]
		if !hexRe.MatchString(digest) {
			continue
		}
		name := strings.TrimLeft(line[idx:], " \t")
		name = strings.TrimPrefix(name, "*")
		if name != "" {
			m.digests[name] = strings.ToLower(digest)
		}
	}

	if len(m.digests) == 0 {
		if tok := strings.Fields(text); len(tok) >= 1 && hexRe.MatchString(tok[0]) {
			m.sole = strings.ToLower(tok[0])
		}
	}

	return m
}

// Lookup finds the digest for an asset: exact name first, then the asset's
// bare file name, then manifest entries listed with a directory prefix. When
// several prefixed entries share the base name, the lexically first key wins,
// keeping the choice stable across runs. A sole digest is the fallback when
// no filename association exists.
func (m *Manifest) Lookup(name string) (string, bool) {
	if d, ok := m.digests[name]; ok {
		return d, true
	}
	base := path.Base(name)
	if d, ok := m.digests[base]; ok {
		return d, true
	}
	var keys []string
	for k := range m.digests {
		if path.Base(k) == base {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		return m.digests[keys[0]], true
	}
	if m.sole != "" {
		return m.sole, true
	}
	return "", false
}

// Len reports how many named entries were parsed.
func (m *Manifest) Len() int { return len(m.digests) }

// VerifyFile compares a file's digest against an expected hex digest,
// case-insensitively.
func VerifyFile(path, expected string) error {
	actual, err := SumFile(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return &domain.ChecksumMismatchError{
			File:     path,
			Expected: strings.ToLower(expected),
			Actual:   actual,
		}
	}
	return nil
}

