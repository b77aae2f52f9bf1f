package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/bperks/internal/tiles"
)

func newTilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Download and serve map tiles for offline use.",
	}
	cmd.AddCommand(newTilesPrefetchCmd(a), newTilesStatsCmd(a), newTilesClearCmd(a), newTilesServeCmd(a))
	return cmd
}

func newTilesPrefetchCmd(a *app) *cobra.Command {
	var (
		b          tiles.Bounds
		minZ, maxZ int
	)
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Cache every tile covering a bounding box.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.tileManager()
			if err != nil {
				return err
			}
			cmd.Printf("fetching %d tile(s) for zoom %d-%d\n", tiles.CountTiles(b, minZ, maxZ), minZ, maxZ)
			sum, err := m.CacheTilesForArea(cmd.Context(), b, minZ, maxZ)
			if err != nil {
				return err
			}
			msg := green
			if sum.Failed > 0 {
				msg = yellow
			}
			cmd.Println(msg(sprintSummary(sum)))
			return nil
		},
	}
	f := cmd.Flags()
	f.Float64Var(&b.North, "north", 0, "northern latitude")
	f.Float64Var(&b.South, "south", 0, "southern latitude")
	f.Float64Var(&b.East, "east", 0, "eastern longitude")
	f.Float64Var(&b.West, "west", 0, "western longitude")
	f.IntVar(&minZ, "min-zoom", 12, "lowest zoom level")
	f.IntVar(&maxZ, "max-zoom", 16, "highest zoom level")
	for _, name := range []string{"north", "south", "east", "west"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func sprintSummary(s tiles.Summary) string {
	out := fmt.Sprintf("stored %d of %d tile(s), %d failed", s.Stored, s.Requested, s.Failed)
	if s.FromCache > 0 {
		out += fmt.Sprintf(", %d unchanged since last download", s.FromCache)
	}
	return out
}

func newTilesStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many tiles are cached.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.tileManager()
			if err != nil {
				return err
			}
			st := m.GetCacheStats()
			return renderTable(cmd.OutOrStdout(), []string{"Tiles", "Size", "TTL"}, [][]string{
				{strconv.Itoa(st.TileCount), humanBytes(st.SizeBytes), m.TTL().String()},
			})
		},
	}
}

func newTilesClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached tile.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.tileManager()
			if err != nil {
				return err
			}
			m.ClearCache()
			cmd.Println("tile cache cleared")
			return nil
		},
	}
}

func newTilesServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached tiles over HTTP for a local map view.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.tileManager()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Tiles.ListenAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           tiles.NewHandler(m).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.log.Info().Str("addr", addr).Msg("serving tiles")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (BPERKS_TILE_LISTEN)")
	return cmd
}
