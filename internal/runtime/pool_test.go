package runtime

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/binq/internal/checksum"
	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/platform"
)

func testPool(t *testing.T, endpoints Endpoints) *Pool {
	t.Helper()
	plat, err := platform.Current()
	require.NoError(t, err)

	root := t.TempDir()
	p, err := New(
		filepath.Join(root, "toolchains"),
		filepath.Join(root, "runtime.json"),
		download.New(10*time.Second).Quiet(),
		plat,
		endpoints,
	)
	require.NoError(t, err)
	return p
}

// noNetwork fails the test on any request.
func noNetwork(t *testing.T) Endpoints {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected network request: %s", r.URL)
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	return Endpoints{
		NodeDistURL:       server.URL,
		PnpmLatestURL:     server.URL + "/pnpm-latest",
		PnpmDownloadURL:   server.URL + "/pnpm-dl",
		BinstallLatestURL: server.URL + "/binstall-latest",
	}
}

func fakeNodeInstall(t *testing.T, p *Pool, version string) {
	t.Helper()
	bin := p.plat.NodeBin(p.nodeDir(version), version)
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0o755))
	require.NoError(t, os.WriteFile(bin, []byte("node "+version), 0o755))
	if !contains(p.m.Node.Installed, version) {
		p.m.Node.Installed = append(p.m.Node.Installed, version)
	}
}

func TestNodeExactCachedResolvesOffline(t *testing.T) {
	p := testPool(t, noNetwork(t))
	fakeNodeInstall(t, p, "22.2.0")

	tc, err := p.Node(context.Background(), "=22.2.0")
	require.NoError(t, err)
	assert.Equal(t, "22.2.0", tc.Version)

	tc, err = p.Node(context.Background(), "v22.2.0")
	require.NoError(t, err)
	assert.Equal(t, "22.2.0", tc.Version)
}

func TestNodeLTSConvergesOnDefault(t *testing.T) {
	p := testPool(t, noNetwork(t))
	fakeNodeInstall(t, p, "20.0.0")
	fakeNodeInstall(t, p, "22.2.0")
	p.m.Node.Default = "20.0.0"

	tc, err := p.Node(context.Background(), "lts")
	require.NoError(t, err)
	assert.Equal(t, "20.0.0", tc.Version, "lts must reuse the pool default, not re-fetch")

	// Absent requirement goes through the default too.
	tc, err = p.Node(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "20.0.0", tc.Version)
}

func TestNodeRangeCachedResolvesOffline(t *testing.T) {
	p := testPool(t, noNetwork(t))
	fakeNodeInstall(t, p, "18.19.0")
	fakeNodeInstall(t, p, "20.11.0")

	tc, err := p.Node(context.Background(), ">=18")
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", tc.Version, "range picks the newest installed match")
}

func TestResolveRemoteNode(t *testing.T) {
	index := []map[string]any{
		{"version": "v23.1.0", "lts": false, "date": "2024-10-24"},
		{"version": "v22.2.0", "lts": false, "date": "2024-05-15"},
		{"version": "v20.11.1", "lts": "Iron", "date": "2024-02-14"},
		{"version": "v18.19.1", "lts": "Hydrogen", "date": "2024-02-14"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/index.json", r.URL.Path)
		json.NewEncoder(w).Encode(index)
	}))
	defer server.Close()

	p := testPool(t, Endpoints{NodeDistURL: server.URL})
	ctx := context.Background()

	v, err := p.resolveRemoteNode(ctx, "lts")
	require.NoError(t, err)
	assert.Equal(t, "20.11.1", v, "lts is the most recent LTS-tagged entry")

	v, err = p.resolveRemoteNode(ctx, ">=18 <23")
	require.NoError(t, err)
	assert.Equal(t, "20.11.1", v, "ranges prefer the newest matching LTS")

	v, err = p.resolveRemoteNode(ctx, ">=23")
	require.NoError(t, err)
	assert.Equal(t, "23.1.0", v, "ranges fall back to the newest match of any kind")

	v, err = p.resolveRemoteNode(ctx, "v22.2.0")
	require.NoError(t, err)
	assert.Equal(t, "22.2.0", v)

	_, err = p.resolveRemoteNode(ctx, "=99.0.0")
	var noMatch *domain.NoMatchingVersionError
	require.ErrorAs(t, err, &noMatch)
	assert.ErrorIs(t, err, domain.ErrNoMatchingVersion)
}

func TestPrune(t *testing.T) {
	p := testPool(t, noNetwork(t))
	fakeNodeInstall(t, p, "18.0.0")
	fakeNodeInstall(t, p, "20.0.0")
	p.m.Node.Default = "20.0.0"

	removed, err := p.Prune(map[string]bool{"20.0.0": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"18.0.0"}, removed)

	_, err = os.Stat(p.nodeDir("18.0.0"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p.nodeDir("20.0.0"))
	assert.NoError(t, err)

	assert.Equal(t, []string{"20.0.0"}, p.InstalledNodeVersions())
	assert.Equal(t, "20.0.0", p.DefaultNodeVersion())
}

func TestPruneClearsOrphanedDefault(t *testing.T) {
	p := testPool(t, noNetwork(t))
	fakeNodeInstall(t, p, "18.0.0")
	p.m.Node.Default = "18.0.0"

	removed, err := p.Prune(map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, []string{"18.0.0"}, removed)
	assert.Empty(t, p.DefaultNodeVersion())
}

func TestSaveRoundTrip(t *testing.T) {
	p := testPool(t, noNetwork(t))
	fakeNodeInstall(t, p, "20.0.0")
	p.m.Node.Default = "20.0.0"
	p.m.Pnpm.Version = "9.1.0"
	require.NoError(t, p.Save())

	plat, _ := platform.Current()
	p2, err := New(p.dir, p.manifestPath, p.client, plat, p.endpoints)
	require.NoError(t, err)
	assert.Equal(t, []string{"20.0.0"}, p2.InstalledNodeVersions())
	assert.Equal(t, "20.0.0", p2.DefaultNodeVersion())
	assert.Equal(t, "9.1.0", p2.m.Pnpm.Version)
}

func TestPnpmPinsAndVerifies(t *testing.T) {
	plat, err := platform.Current()
	require.NoError(t, err)

	asset := plat.PnpmAssetName()
	body := []byte("#!/bin/sh\necho pnpm\n")
	digest := checksum.Sum(body)

	mux := http.NewServeMux()
	mux.HandleFunc("/pnpm-latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v9.1.0"})
	})
	mux.HandleFunc("/pnpm-dl/v9.1.0/"+asset, func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	})
	mux.HandleFunc("/pnpm-dl/v9.1.0/"+asset+".sha256", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, digest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testPool(t, Endpoints{
		PnpmLatestURL:   server.URL + "/pnpm-latest",
		PnpmDownloadURL: server.URL + "/pnpm-dl",
	})

	tc, err := p.Pnpm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9.1.0", tc.Version)
	assert.FileExists(t, tc.Bin)

	info, err := os.Stat(tc.Bin)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "helper must be executable")

	// Second call is a pure cache hit.
	tc2, err := p.Pnpm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tc.Bin, tc2.Bin)
}

func TestPnpmChecksumMismatchFails(t *testing.T) {
	plat, err := platform.Current()
	require.NoError(t, err)
	asset := plat.PnpmAssetName()

	mux := http.NewServeMux()
	mux.HandleFunc("/pnpm-latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v9.1.0"})
	})
	mux.HandleFunc("/pnpm-dl/v9.1.0/"+asset, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered bytes"))
	})
	mux.HandleFunc("/pnpm-dl/v9.1.0/"+asset+".sha256", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, checksum.Sum([]byte("the real bytes")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := testPool(t, Endpoints{
		PnpmLatestURL:   server.URL + "/pnpm-latest",
		PnpmDownloadURL: server.URL + "/pnpm-dl",
	})

	_, err = p.Pnpm(context.Background())
	var mismatch *domain.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)

	// The tampered file must not survive.
	bin := filepath.Join(p.dir, "pnpm", "9.1.0", "pnpm"+plat.ExeSuffix())
	_, statErr := os.Stat(bin)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBinstallDownloadVerifyUnpack(t *testing.T) {
	plat, err := platform.Current()
	require.NoError(t, err)
	if plat.OS == "windows" {
		t.Skip("test archive is a tgz")
	}

	asset := plat.BinstallAssetName()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	payload := []byte("fake cargo-binstall binary")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "cargo-binstall", Mode: 0o755, Size: int64(len(payload))}))
	_, err = tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	archive := buf.Bytes()

	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/binstall-latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tag_name": "v1.7.0",
			"assets": []map[string]string{
				{"name": asset, "browser_download_url": server.URL + "/dl/" + asset},
				{"name": asset + ".sha256", "browser_download_url": server.URL + "/dl/" + asset + ".sha256"},
			},
		})
	})
	mux.HandleFunc("/dl/"+asset, func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	mux.HandleFunc("/dl/"+asset+".sha256", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  %s\n", checksum.Sum(archive), asset)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	p := testPool(t, Endpoints{BinstallLatestURL: server.URL + "/binstall-latest"})

	tc, err := p.Binstall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.7.0", tc.Version)

	data, err := os.ReadFile(tc.Bin)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}
