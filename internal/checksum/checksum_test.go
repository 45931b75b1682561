package checksum

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/binq/internal/domain"
)

func TestParseManifestGNU(t *testing.T) {
	data := []byte("hello world\n")
	digest := Sum(data)

	text := digest + "  tool-linux-x64.tar.gz\n" +
		strings.Repeat("ab", 32) + " *tool-darwin-arm64.tar.gz\n"
	m := ParseManifest(text)

	got, ok := m.Lookup("tool-linux-x64.tar.gz")
	require.True(t, ok)
	assert.Equal(t, digest, got)

	got, ok = m.Lookup("tool-darwin-arm64.tar.gz")
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("ab", 32), got)
}

func TestParseManifestBSD(t *testing.T) {
	digest := Sum([]byte("payload"))
	m := ParseManifest("SHA256 (tool.zip) = " + strings.ToUpper(digest) + "\n")

	got, ok := m.Lookup("tool.zip")
	require.True(t, ok)
	assert.Equal(t, digest, got, "BSD digests are normalized to lowercase")
}

func TestParseManifestSoleDigest(t *testing.T) {
	digest := Sum([]byte("standalone"))
	m := ParseManifest(digest + "\n")

	assert.Equal(t, 0, m.Len())
	got, ok := m.Lookup("anything-at-all")
	require.True(t, ok)
	assert.Equal(t, digest, got)
}

func TestLookupStripsPath(t *testing.T) {
	digest := Sum([]byte("x"))
	m := ParseManifest(digest + "  release/tool-linux-x64\n")

	// Asset requested without the manifest's directory prefix.
	got, ok := m.Lookup("tool-linux-x64")
	require.True(t, ok)
	assert.Equal(t, digest, got)

	// And the reverse: asset carries a prefix the manifest lacks.
	m = ParseManifest(digest + "  tool-linux-x64\n")
	got, ok = m.Lookup("dist/tool-linux-x64")
	require.True(t, ok)
	assert.Equal(t, digest, got)
}

func TestLookupUnknownFailsClosed(t *testing.T) {
	m := ParseManifest(Sum([]byte("a")) + "  known-file\n")
	_, ok := m.Lookup("unknown-file")
	assert.False(t, ok)
}

func TestLookupSharedBasenameIsStable(t *testing.T) {
	darwin := Sum([]byte("darwin build"))
	linux := Sum([]byte("linux build"))
	text := linux + "  linux/tool\n" + darwin + "  darwin/tool\n"

	// Two prefixed entries share the base name; the lexically first key is
	// the stable pick.
	for i := 0; i < 10; i++ {
		got, ok := ParseManifest(text).Lookup("tool")
		require.True(t, ok)
		assert.Equal(t, darwin, got)
	}
}

func TestVerifyFileMismatchNamesDigests(t *testing.T) {
	data := []byte("original artifact bytes")
	expected := Sum(data)

	mutated := append([]byte(nil), data...)
	mutated[0] ^= 0x01
	path := filepath.Join(t.TempDir(), "artifact.tar.gz")
	require.NoError(t, os.WriteFile(path, mutated, 0o644))

	err := VerifyFile(path, expected)
	var mismatch *domain.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, path, mismatch.File)
	assert.Equal(t, expected, mismatch.Expected)
	assert.Equal(t, Sum(mutated), mismatch.Actual)
	assert.True(t, errors.Is(err, domain.ErrChecksum))
}

func TestVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("on disk"), 0o644))

	sum, err := SumFile(path)
	require.NoError(t, err)
	assert.NoError(t, VerifyFile(path, sum))
	assert.NoError(t, VerifyFile(path, strings.ToUpper(sum)))
	assert.Error(t, VerifyFile(path, Sum([]byte("other"))))
}
