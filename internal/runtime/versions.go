package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teamcutter/binq/internal/domain"
)

// nodeRelease is one entry of the upstream version index. The lts field is
// false or the LTS codename.
type nodeRelease struct {
	Version string          `json:"version"` // with leading "v"
	LTS     json.RawMessage `json:"lts"`
	Date    string          `json:"date"`
}

func (r nodeRelease) isLTS() bool {
	var name string
	return json.Unmarshal(r.LTS, &name) == nil && name != ""
}

func (r nodeRelease) bare() string {
	return strings.TrimPrefix(r.Version, "v")
}

func isExactVersion(req string) bool {
	if req == "" || req == "lts" || req == "latest" {
		return false
	}
	_, err := semver.StrictNewVersion(strings.TrimPrefix(req, "v"))
	return err == nil
}

// pickLocalNode applies the resolution rule restricted to already-installed
// versions, so repeated installs converge on cached interpreters instead of
// re-fetching. Returns "" on miss.
func (p *Pool) pickLocalNode(req string) string {
	switch {
	case req == "lts" || req == "latest":
		// The default pointer tracks the last lts/exact install.
		if p.m.Node.Default != "" && contains(p.m.Node.Installed, p.m.Node.Default) {
			return p.m.Node.Default
		}
		return ""
	case isExactVersion(req):
		want := strings.TrimPrefix(req, "v")
		if contains(p.m.Node.Installed, want) {
			return want
		}
		return ""
	default:
		c, err := semver.NewConstraint(req)
		if err != nil {
			return ""
		}
		var best *semver.Version
		for _, installed := range p.m.Node.Installed {
			v, err := semver.NewVersion(installed)
			if err != nil || !c.Check(v) {
				continue
			}
			if best == nil || v.GreaterThan(best) {
				best = v
			}
		}
		if best == nil {
			return ""
		}
		return best.Original()
	}
}

// resolveRemoteNode picks a version from the upstream index: "lts" takes the
// most recent LTS-tagged entry; a range prefers the most recent matching LTS
// entry and falls back to the most recent match of any kind; anything else is
// an exact version, tolerating a leading "v".
func (p *Pool) resolveRemoteNode(ctx context.Context, req string) (string, error) {
	var index []nodeRelease
	if err := p.client.GetJSON(ctx, p.endpoints.NodeDistURL+"/index.json", &index); err != nil {
		return "", fmt.Errorf("fetching node version index: %w", err)
	}

	// Newest first, regardless of upstream ordering.
	sort.SliceStable(index, func(i, j int) bool {
		vi, erri := semver.NewVersion(index[i].bare())
		vj, errj := semver.NewVersion(index[j].bare())
		if erri != nil || errj != nil {
			return false
		}
		return vi.GreaterThan(vj)
	})

	if req == "lts" || req == "latest" {
		for _, r := range index {
			if r.isLTS() {
				return r.bare(), nil
			}
		}
		return "", &domain.NoMatchingVersionError{Name: "node", Requirement: req}
	}

	if isExactVersion(req) {
		want := strings.TrimPrefix(req, "v")
		for _, r := range index {
			if r.bare() == want {
				return want, nil
			}
		}
		return "", &domain.NoMatchingVersionError{Name: "node", Requirement: req}
	}

	c, err := semver.NewConstraint(req)
	if err != nil {
		return "", &domain.NoMatchingVersionError{Name: "node", Requirement: req}
	}

	var fallback string
	for _, r := range index {
		v, err := semver.NewVersion(r.bare())
		if err != nil || !c.Check(v) {
			continue
		}
		if r.isLTS() {
			return r.bare(), nil
		}
		if fallback == "" {
			fallback = r.bare()
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", &domain.NoMatchingVersionError{Name: "node", Requirement: req}
}
