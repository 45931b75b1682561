package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/binq/internal/domain"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/platform"
)

type crateFixtureVersion struct {
	num    string
	yanked bool
}

func newCratesTest(t *testing.T, maxVersion string, versions []crateFixtureVersion) *CratesSource {
	t.Helper()

	vs := make([]map[string]any, len(versions))
	for i, v := range versions {
		vs[i] = map[string]any{"num": v.num, "yanked": v.yanked}
	}
	body, err := json.Marshal(map[string]any{
		"crate":    map[string]any{"max_version": maxVersion},
		"versions": vs,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/crates/ripgrep" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	plat, err := platform.Current()
	require.NoError(t, err)
	return NewCrates(Options{
		Client:    download.New(5 * time.Second).Quiet(),
		Plat:      plat,
		CratesURL: srv.URL,
	})
}

func crateSpec(req string) domain.PackageSpec {
	return domain.PackageSpec{
		Name:        "ripgrep",
		Requirement: req,
		Source:      domain.SourceConfig{Type: domain.SourceCrate, Crate: "ripgrep"},
	}
}

func TestCratesResolveRangeSkipsYanked(t *testing.T) {
	s := newCratesTest(t, "2.0.0", []crateFixtureVersion{
		{"1.2.0", false},
		{"1.3.0", false},
		{"2.0.0", true},
	})

	got, err := s.Resolve(context.Background(), crateSpec("^1.0"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.3.0", got[0].Version)
	assert.Equal(t, "1.2.0", got[1].Version)
}

func TestCratesResolveLatestYankedMaxVersion(t *testing.T) {
	s := newCratesTest(t, "2.0.0", []crateFixtureVersion{
		{"1.3.0", false},
		{"2.0.0", true},
	})

	// max_version points at a yanked release; latest falls back to the
	// highest live version.
	got, err := s.Resolve(context.Background(), crateSpec("latest"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.3.0", got[0].Version)
}

func TestCratesResolveLatest(t *testing.T) {
	s := newCratesTest(t, "1.3.0", []crateFixtureVersion{
		{"1.2.0", false},
		{"1.3.0", false},
	})

	got, err := s.Resolve(context.Background(), crateSpec(""))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.3.0", got[0].Version)
}

func TestCratesResolveExactYanked(t *testing.T) {
	s := newCratesTest(t, "2.0.0", []crateFixtureVersion{
		{"1.3.0", false},
		{"2.0.0", true},
	})

	// Exact requests cannot reach a yanked version either.
	_, err := s.Resolve(context.Background(), crateSpec("2.0.0"))
	var nm *domain.NoMatchingVersionError
	require.ErrorAs(t, err, &nm)
}

func TestCratesResolveExact(t *testing.T) {
	s := newCratesTest(t, "1.3.0", []crateFixtureVersion{
		{"1.2.0", false},
		{"1.3.0", false},
	})

	got, err := s.Resolve(context.Background(), crateSpec("v1.2.0"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1.2.0", got[0].Version)
}

func TestCratesResolveAllYanked(t *testing.T) {
	s := newCratesTest(t, "1.0.0", []crateFixtureVersion{
		{"1.0.0", true},
	})

	_, err := s.Resolve(context.Background(), crateSpec("latest"))
	var nm *domain.NoMatchingVersionError
	require.ErrorAs(t, err, &nm)
}
