package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/platform"
)

// ghFixture serves a release listing plus raw asset bodies keyed by path.
type ghFixture struct {
	releases []map[string]any
	files    map[string][]byte
}

func (f *ghFixture) addRelease(tag string, prerelease bool, assets ...string) {
	list := make([]map[string]any, len(assets))
	for i, name := range assets {
		list[i] = map[string]any{
			"name":                 name,
			"browser_download_url": "__BASE__/dl/" + tag + "/" + name,
		}
	}
	f.releases = append(f.releases, map[string]any{
		"tag_name":   tag,
		"draft":      false,
		"prerelease": prerelease,
		"assets":     list,
	})
}

func (f *ghFixture) serve(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/widget/releases" {
			body, err := json.Marshal(f.releases)
			require.NoError(t, err)
			body = []byte(strings.ReplaceAll(string(body), "__BASE__", srv.URL))
			w.Write(body)
			return
		}
		if data, ok := f.files[r.URL.Path]; ok {
			w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGithubTest(t *testing.T, f *ghFixture, plat platform.Descriptor) *GithubSource {
	t.Helper()
	srv := f.serve(t)
	return NewGithub(Options{
		Client:       download.New(5 * time.Second).Quiet(),
		Plat:         plat,
		GithubAPIURL: srv.URL,
	})
}

func ghSpec(req, pattern, bin string) domain.PackageSpec {
	return domain.PackageSpec{
		Name:        "widget",
		Requirement: req,
		Source:      domain.SourceConfig{Type: domain.SourceGithub, Repo: "acme/widget", AssetPattern: pattern},
		BinName:     bin,
	}
}

var linuxAmd = platform.Descriptor{OS: "linux", Arch: "amd64"}

func TestGithubResolvePrefersArchives(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v1.2.0", false,
		"widget-linux-amd64",
		"widget-linux-amd64.tar.gz",
		"widget-darwin-arm64.tar.gz",
	)
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.2.0", got[0].Version)
	assert.Equal(t, "widget-linux-amd64.tar.gz", got[0].AssetName)
}

func TestGithubResolveSkipsPrereleases(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v2.0.0-rc.1", true, "widget-linux-amd64.tar.gz")
	f.addRelease("v1.2.0", false, "widget-linux-amd64.tar.gz")
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got[0].Version)
}

func TestGithubResolveExplicitGlob(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v1.2.0", false,
		"widget-musl.tar.gz",
		"widget-gnu.tar.gz",
	)
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "*musl*", ""))
	require.NoError(t, err)
	assert.Equal(t, "widget-musl.tar.gz", got[0].AssetName)
}

func TestGithubResolveExplicitSubstring(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v1.2.0", false,
		"Widget-MUSL.tar.gz",
		"widget-gnu.tar.gz",
	)
	s := newGithubTest(t, f, linuxAmd)

	// Without glob metacharacters the pattern is a case-insensitive
	// substring.
	got, err := s.Resolve(context.Background(), ghSpec("latest", "musl", ""))
	require.NoError(t, err)
	assert.Equal(t, "Widget-MUSL.tar.gz", got[0].AssetName)
}

func TestGithubResolveUnsupportedArchive(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v1.2.0", false, "widget-linux-amd64.tar.bz2")
	s := newGithubTest(t, f, linuxAmd)

	// The format is rejected at resolve time, before any download.
	_, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	var ua *domain.UnsupportedArchiveError
	require.ErrorAs(t, err, &ua)
	assert.Equal(t, "widget-linux-amd64.tar.bz2", ua.Asset)
}

func TestGithubResolveAssetNotFound(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v1.2.0", false,
		"widget-darwin-arm64.tar.gz",
		"widget-windows-amd64.zip",
	)
	s := newGithubTest(t, f, linuxAmd)

	_, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	var nf *domain.AssetNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Available, "widget-darwin-arm64.tar.gz")
	assert.Contains(t, nf.Available, "widget-windows-amd64.zip")
}

func TestGithubResolveRange(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v2.0.0", false, "widget-linux-amd64.tar.gz")
	f.addRelease("v1.5.0", false, "widget-linux-amd64.tar.gz")
	f.addRelease("v1.2.0", false, "widget-linux-amd64.tar.gz")
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("^1.0", "", ""))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.5.0", got[0].Version)
	assert.Equal(t, "1.2.0", got[1].Version)
}

func TestGithubResolveChecksumSibling(t *testing.T) {
	f := &ghFixture{}
	f.addRelease("v1.2.0", false,
		"widget-linux-amd64.tar.gz",
		"widget-linux-amd64.tar.gz.sha256",
	)
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)
	assert.Contains(t, got[0].ChecksumURL, "widget-linux-amd64.tar.gz.sha256")
}

func TestGithubFetchRawAssetVerified(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("posix exec bits")
	}

	body := []byte("#!/bin/sh\necho widget\n")
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	f := &ghFixture{files: map[string][]byte{
		"/dl/v1.2.0/widget-linux-amd64":        body,
		"/dl/v1.2.0/widget-linux-amd64.sha256": []byte(fmt.Sprintf("%s  widget-linux-amd64\n", digest)),
	}}
	f.addRelease("v1.2.0", false, "widget-linux-amd64", "widget-linux-amd64.sha256")
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)

	dir := t.TempDir()
	fetched, err := s.Fetch(context.Background(), ghSpec("latest", "", ""), got[0], dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "widget"), fetched.Path)
	assert.Equal(t, digest, fetched.SHA256)

	info, err := os.Stat(fetched.Path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111)

	// Temp download dir must be gone.
	_, err = os.Stat(filepath.Join(dir, ".download"))
	assert.True(t, os.IsNotExist(err))
}

func TestGithubFetchChecksumMismatch(t *testing.T) {
	body := []byte("real contents")
	wrong := sha256.Sum256([]byte("other contents"))

	f := &ghFixture{files: map[string][]byte{
		"/dl/v1.2.0/widget-linux-amd64":        body,
		"/dl/v1.2.0/widget-linux-amd64.sha256": []byte(hex.EncodeToString(wrong[:]) + "  widget-linux-amd64\n"),
	}}
	f.addRelease("v1.2.0", false, "widget-linux-amd64", "widget-linux-amd64.sha256")
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), ghSpec("latest", "", ""), got[0], t.TempDir(), nil)
	require.ErrorIs(t, err, domain.ErrChecksum)
}

func TestGithubFetchNoChecksumsWarnsAndContinues(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("posix exec bits")
	}

	body := []byte("unverified contents")
	f := &ghFixture{files: map[string][]byte{
		"/dl/v1.2.0/widget-linux-amd64": body,
	}}
	f.addRelease("v1.2.0", false, "widget-linux-amd64")
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)
	assert.Empty(t, got[0].ChecksumURL)

	fetched, err := s.Fetch(context.Background(), ghSpec("latest", "", ""), got[0], t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", fetched.Version)
}

func TestGithubFetchMissingManifestEntry(t *testing.T) {
	body := []byte("contents")
	f := &ghFixture{files: map[string][]byte{
		"/dl/v1.2.0/widget-linux-amd64": body,
		"/dl/v1.2.0/checksums.txt":      []byte(strings.Repeat("ab", 32) + "  some-other-file\n"),
	}}
	f.addRelease("v1.2.0", false, "widget-linux-amd64", "checksums.txt")
	s := newGithubTest(t, f, linuxAmd)

	got, err := s.Resolve(context.Background(), ghSpec("latest", "", ""))
	require.NoError(t, err)
	require.NotEmpty(t, got[0].ChecksumURL)

	// A manifest that exists but does not cover the asset fails closed.
	_, err = s.Fetch(context.Background(), ghSpec("latest", "", ""), got[0], t.TempDir(), nil)
	var missing *domain.MissingChecksumError
	require.ErrorAs(t, err, &missing)
}
