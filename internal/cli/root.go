// Package cli wires the cobra command tree and the service construction
// behind it.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/teamcutter/binq/internal/config"
	"github.com/teamcutter/binq/internal/download"
	"github.com/teamcutter/binq/internal/manager"
	"github.com/teamcutter/binq/internal/metacache"
	"github.com/teamcutter/binq/internal/platform"
	"github.com/teamcutter/binq/internal/runtime"
	"github.com/teamcutter/binq/internal/source"
	"github.com/teamcutter/binq/internal/state"
	"github.com/teamcutter/binq/internal/store"
)

func Execute() error {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "binq",
		Short: "Install single-binary tools from npm, crates.io, and GitHub releases",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).With().Timestamp().Logger()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newInstallCmd(),
		newListCmd(),
		newUpdateCmd(),
		newRemoveCmd(),
		newClearCmd(),
		newVersionCmd(),
	)
	return rootCmd.Execute()
}

// newManager builds the full pipeline from config. The returned cleanup
// closes the metadata cache.
func newManager() (*manager.Manager, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	plat, err := platform.Current()
	if err != nil {
		return nil, nil, nil, err
	}

	client := download.New(cfg.Timeout())
	cleanup := func() {}
	if cache, err := metacache.Open(cfg.CacheFile, cfg.CacheTTL()); err == nil {
		client = client.WithCache(cache)
		cleanup = func() { cache.Close() }
	} else {
		log.Warn().Err(err).Msg("metadata cache unavailable")
	}

	pool, err := runtime.New(cfg.ToolchainsDir, cfg.RuntimeFile, client, plat, runtime.Endpoints{
		NodeDistURL:       cfg.NodeDistURL,
		PnpmLatestURL:     cfg.PnpmLatestURL,
		PnpmDownloadURL:   cfg.PnpmDownloadURL,
		BinstallLatestURL: cfg.BinstallLatestURL,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	mgr := manager.New(
		store.New(cfg.StoreDir, cfg.BinDir),
		state.New(cfg.ManifestFile),
		pool,
		source.Options{
			Client:       client,
			Plat:         plat,
			NpmURL:       cfg.NpmURL,
			CratesURL:    cfg.CratesURL,
			GithubAPIURL: cfg.GithubAPIURL,
		},
	)
	return mgr, cfg, cleanup, nil
}
