package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/bperks/internal/localcache"
	"github.com/briangreenhill/bperks/internal/offline"
	"github.com/briangreenhill/bperks/internal/queue"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes once, if the backend is reachable.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if !c.Probe(cmd.Context()) {
				cmd.Println(yellow(fmt.Sprintf("backend unreachable, %d change(s) still pending", c.PendingCount())))
				return nil
			}
			res, err := c.Drain(cmd.Context())
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("replayed %d of %d, %d failed, %d pending", res.Replayed, res.Attempted, res.Failed, c.PendingCount())
			if res.Failed > 0 {
				cmd.Println(red(msg))
			} else {
				cmd.Println(green(msg))
			}
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Probe the backend and replay the queue on every reconnect until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			unsub := c.Monitor().Subscribe(func(online bool) {
				state := red("offline")
				if online {
					state = green("online")
				}
				cmd.Printf("%s %s, %d pending\n", time.Now().Format(time.TimeOnly), state, c.PendingCount())
			})
			defer unsub()

			c.Start(ctx)
			<-ctx.Done()
			c.Stop()
			return nil
		},
	}
}

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect changes waiting to be sent.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending changes in replay order.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			actions := queue.New(db, queue.WithLogger(a.log)).PeekAll()
			if len(actions) == 0 {
				cmd.Println(green("queue is empty"))
				return nil
			}
			rows := make([][]string, 0, len(actions))
			for i, act := range actions {
				rows = append(rows, []string{
					strconv.Itoa(i + 1), act.ID, string(act.Kind), act.Method, act.Endpoint,
					act.EnqueuedAt.Local().Format(time.DateTime),
				})
			}
			return renderTable(cmd.OutOrStdout(), []string{"#", "ID", "Kind", "Method", "Endpoint", "Queued"}, rows)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every pending change without sending it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			q := queue.New(db, queue.WithLogger(a.log))
			n := q.Len()
			q.Clear()
			cmd.Printf("dropped %d pending change(s)\n", n)
			return nil
		},
	})
	return cmd
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local data cache.",
	}
	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget cached data. Pending changes and map tiles are kept unless --all.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			if all {
				for _, ns := range db.Namespaces() {
					db.Namespace(ns).Clear()
				}
				cmd.Println("cleared everything")
				return nil
			}
			localcache.New(db,
				localcache.WithLogger(a.log),
				localcache.WithPreserve(queue.Namespace, offline.TilesNamespace, offline.TileResponsesNamespace),
			).Clear()
			cmd.Println("cleared cached data")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "also drop pending changes and map tiles")
	cmd.AddCommand(clearCmd)
	return cmd
}
