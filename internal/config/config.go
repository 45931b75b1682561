// Package config loads the binq configuration from config.toml under the XDG
// config directory, with defaults rooted in the XDG data directory.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

type Config struct {
	DataDir       string `toml:"data_dir"`
	StoreDir      string `toml:"store_dir"`
	BinDir        string `toml:"bin_dir"`
	ToolchainsDir string `toml:"toolchains_dir"`
	ManifestFile  string `toml:"manifest_file"`
	RuntimeFile   string `toml:"runtime_file"`
	CacheFile     string `toml:"cache_file"`

	NpmURL       string `toml:"npm_url"`
	CratesURL    string `toml:"crates_url"`
	GithubAPIURL string `toml:"github_api_url"`

	NodeDistURL       string `toml:"node_dist_url"`
	PnpmLatestURL     string `toml:"pnpm_latest_url"`
	PnpmDownloadURL   string `toml:"pnpm_download_url"`
	BinstallLatestURL string `toml:"binstall_latest_url"`

	CacheTTLMinutes int `toml:"cache_ttl_minutes"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

func Default() *Config {
	base := filepath.Join(xdg.DataHome, "binq")

	return &Config{
		DataDir:       base,
		StoreDir:      filepath.Join(base, "store"),
		BinDir:        filepath.Join(base, "bin"),
		ToolchainsDir: filepath.Join(base, "toolchains"),
		ManifestFile:  filepath.Join(base, "manifest.json"),
		RuntimeFile:   filepath.Join(base, "runtime.json"),
		CacheFile:     filepath.Join(base, "cache.db"),

		NpmURL:       "https://registry.npmjs.org",
		CratesURL:    "https://crates.io",
		GithubAPIURL: "https://api.github.com",

		NodeDistURL:       "https://nodejs.org/dist",
		PnpmLatestURL:     "https://api.github.com/repos/pnpm/pnpm/releases/latest",
		PnpmDownloadURL:   "https://github.com/pnpm/pnpm/releases/download",
		BinstallLatestURL: "https://api.github.com/repos/cargo-bins/cargo-binstall/releases/latest",

		CacheTTLMinutes: 15,
		TimeoutSeconds:  300,
	}
}

// Load reads config.toml when present; absent files and absent keys fall back
// to defaults.
func Load() (*Config, error) {
	cfg := Default()

	path := filepath.Join(xdg.ConfigHome, "binq", "config.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
