// Package cli implements the bperks command: the offline sync client and
// its map tile cache, driven from a terminal.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/briangreenhill/bperks/cache"
	"github.com/briangreenhill/bperks/internal/config"
	"github.com/briangreenhill/bperks/internal/offline"
	"github.com/briangreenhill/bperks/internal/remote"
	"github.com/briangreenhill/bperks/internal/tiles"
)

// Set by the linker at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app carries what every subcommand needs once flags and env are resolved.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	db  cache.DB

	verbose bool
	noColor bool
}

func Execute(ctx context.Context) error {
	root, a := newRoot()
	defer a.close() //nolint:errcheck
	return root.ExecuteContext(ctx)
}

func newRoot() (*cobra.Command, *app) {
	a := &app{}
	var (
		backend, user, token, cacheDir, cacheBackend string
	)

	root := &cobra.Command{
		Use:           "bperks",
		Short:         "Offline-first client for the B-Perks community rewards API.",
		Long:          `bperks keeps a local copy of events, rewards and news, queues changes made while offline and replays them once the backend is reachable.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.Client.BackendURL = backend
			}
			if flags.Changed("user") {
				cfg.Client.UserID = user
			}
			if flags.Changed("token") {
				cfg.Client.Token = token
			}
			if flags.Changed("cache-dir") {
				cfg.Client.CacheDir = cacheDir
			}
			if flags.Changed("cache-backend") {
				cfg.Client.CacheBackend = cacheBackend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, a.verbose)
			if a.noColor {
				color.NoColor = true
			}
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.close()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&backend, "backend", "", "backend base URL (BPERKS_BACKEND_URL)")
	pf.StringVar(&user, "user", "", "user id to act as (BPERKS_USER_ID)")
	pf.StringVar(&token, "token", "", "bearer token (BPERKS_TOKEN)")
	pf.StringVar(&cacheDir, "cache-dir", "", "directory for the local cache (BPERKS_CACHE_DIR)")
	pf.StringVar(&cacheBackend, "cache-backend", "", "bolt or file (BPERKS_CACHE_BACKEND)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newLoginCmd(a),
		newMeCmd(a),
		newEventsCmd(a),
		newNewsCmd(a),
		newRewardsCmd(a),
		newHistoryCmd(a),
		newInboxCmd(a),
		newJoinCmd(a),
		newReportCmd(a),
		newClaimCmd(a),
		newSyncCmd(a),
		newWatchCmd(a),
		newQueueCmd(a),
		newCacheCmd(a),
		newTilesCmd(a),
		newVersionCmd(),
	)
	return root, a
}

// close releases the cache. Post-run hooks are skipped when a command fails,
// so Execute calls it too.
func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func newLogger(w io.Writer, level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(lvl)
}

// openDB opens the local cache once per invocation.
func (a *app) openDB() (cache.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	dir := a.cfg.Client.CacheDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	var (
		db  cache.DB
		err error
	)
	switch a.cfg.Client.CacheBackend {
	case "file":
		db, err = cache.OpenFileDB(filepath.Join(dir, "store"), a.log)
	default:
		db, err = cache.OpenBolt(filepath.Join(dir, "cache.db"), cache.BoltOptions{Timeout: 2 * time.Second, Logger: a.log})
	}
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *app) remoteClient() (*remote.Client, error) {
	opts := []remote.Option{remote.WithTimeout(a.cfg.Client.Timeout)}
	if a.cfg.Client.Token != "" {
		opts = append(opts, remote.WithToken(a.cfg.Client.Token))
	}
	return remote.New(a.cfg.Client.BackendURL, opts...)
}

func (a *app) client() (*offline.Client, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	rc, err := a.remoteClient()
	if err != nil {
		return nil, err
	}
	return offline.New(offline.Options{
		DB:            db,
		Remote:        rc,
		UserID:        a.cfg.Client.UserID,
		ProbeInterval: a.cfg.Client.ProbeInterval,
		AlwaysQueue:   a.cfg.Client.AlwaysQueue,
		Logger:        a.log,
	})
}

// onlineClient builds a client and probes the backend once, so reads and
// writes pick the right path straight away.
func (a *app) onlineClient(ctx context.Context) (*offline.Client, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	c.Probe(ctx)
	return c, nil
}

func (a *app) tileManager() (*tiles.Manager, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	t := a.cfg.Tiles
	return tiles.NewManager(db.Namespace(offline.TilesNamespace), tiles.Options{
		Template:    t.URL,
		Subdomains:  t.Subdomains,
		TTL:         t.TTL,
		Concurrency: t.Concurrency,
		Rate:        t.Rate,
		MaxTiles:    t.MaxTiles,
		Logger:      a.log,
		Responses:   db.Namespace(offline.TileResponsesNamespace),
	}), nil
}
