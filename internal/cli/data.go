package cli

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/bperks/internal/entities"
)

type loginResponse struct {
	Token string        `json:"token"`
	User  entities.User `json:"user"`
}

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and print the environment for later commands.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.remoteClient()
			if err != nil {
				return err
			}
			resp, err := rc.Do(cmd.Context(), http.MethodPost, "/api/auth/login", map[string]string{"username": args[0]}, nil)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			var lr loginResponse
			if err := resp.Decode(&lr); err != nil {
				return fmt.Errorf("decode login: %w", err)
			}
			cmd.Printf("export BPERKS_USER_ID=%s\n", lr.User.ID)
			cmd.Printf("export BPERKS_TOKEN=%s\n", lr.Token)
			return nil
		},
	}
}

func newMeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user and points balance.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			u, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			offlineNotice(cmd.OutOrStdout(), c.Monitor().IsOffline(), time.Time{})
			cmd.Printf("%s (%s)\n", u.Username, u.Role)
			cmd.Printf("points: %s\n", green(strconv.Itoa(u.Points)))
			if n := c.PendingCount(); n > 0 {
				cmd.Printf("pending changes: %s\n", yellow(strconv.Itoa(n)))
			}
			return nil
		},
	}
}

func newEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List community events.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Events(cmd.Context())
			if err != nil {
				return err
			}
			offlineNotice(cmd.OutOrStdout(), res.Offline, res.StoredAt)
			rows := make([][]string, 0, len(res.Data))
			for _, ev := range res.Data {
				capacity := strconv.Itoa(len(ev.Participants))
				if ev.Capacity > 0 {
					capacity += "/" + strconv.Itoa(ev.Capacity)
				}
				rows = append(rows, []string{
					ev.ID, ev.Title, ev.StartsAt.Local().Format(time.DateTime),
					strconv.Itoa(ev.PointsReward), capacity, syncLabel(ev.SyncState),
				})
			}
			return renderTable(cmd.OutOrStdout(), []string{"ID", "Title", "Starts", "Points", "Joined", "Sync"}, rows)
		},
	}
}

func newNewsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "news",
		Short: "List news and alerts, newest first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.News(cmd.Context())
			if err != nil {
				return err
			}
			offlineNotice(cmd.OutOrStdout(), res.Offline, res.StoredAt)
			rows := make([][]string, 0, len(res.Data))
			for _, n := range res.Data {
				kind := string(n.Kind)
				if n.Kind == entities.KindAlert {
					kind = red(kind)
				}
				rows = append(rows, []string{n.PublishedAt.Local().Format(time.DateTime), kind, n.Title})
			}
			return renderTable(cmd.OutOrStdout(), []string{"Published", "Kind", "Title"}, rows)
		},
	}
}

func newRewardsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "List the rewards catalog.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Rewards(cmd.Context())
			if err != nil {
				return err
			}
			offlineNotice(cmd.OutOrStdout(), res.Offline, res.StoredAt)
			rows := make([][]string, 0, len(res.Data))
			for _, r := range res.Data {
				stock := strconv.Itoa(r.Stock)
				if r.Stock <= 0 {
					stock = red("sold out")
				}
				rows = append(rows, []string{r.ID, r.Name, strconv.Itoa(r.PointsCost), stock})
			}
			return renderTable(cmd.OutOrStdout(), []string{"ID", "Reward", "Cost", "Stock"}, rows)
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the points ledger of the signed-in user.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Transactions(cmd.Context())
			if err != nil {
				return err
			}
			offlineNotice(cmd.OutOrStdout(), res.Offline, res.StoredAt)
			rows := make([][]string, 0, len(res.Data))
			for _, tx := range res.Data {
				delta := strconv.Itoa(tx.Delta)
				if tx.Delta > 0 {
					delta = green("+" + delta)
				} else if tx.Delta < 0 {
					delta = red(delta)
				}
				rows = append(rows, []string{tx.CreatedAt.Local().Format(time.DateTime), delta, tx.Reason})
			}
			return renderTable(cmd.OutOrStdout(), []string{"When", "Points", "Reason"}, rows)
		},
	}
}

func newInboxCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "List notifications for the signed-in user.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			res, err := c.Notifications(cmd.Context())
			if err != nil {
				return err
			}
			offlineNotice(cmd.OutOrStdout(), res.Offline, res.StoredAt)
			rows := make([][]string, 0, len(res.Data))
			for _, n := range res.Data {
				kind := string(n.Kind)
				if n.Kind == entities.KindAlert {
					kind = red(kind)
				}
				read := ""
				if !n.Read {
					read = yellow("new")
				}
				rows = append(rows, []string{n.CreatedAt.Local().Format(time.DateTime), kind, n.Title, read})
			}
			return renderTable(cmd.OutOrStdout(), []string{"Received", "Kind", "Title", ""}, rows)
		},
	}
}

func newJoinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join <event-id>",
		Short: "Join an event. Queued when offline.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			out, err := c.JoinEvent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out.Queued && c.Monitor().IsOffline() {
				cmd.Println(yellow("offline: join queued and will be sent when the backend is reachable"))
				return nil
			}
			if out.Queued {
				cmd.Println(yellow("join queued behind earlier pending changes, run sync to send it"))
				return nil
			}
			cmd.Println(green("joined"))
			return nil
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	var r entities.Report
	cmd := &cobra.Command{
		Use:   "report <title>",
		Short: "File an issue report. Queued when offline.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			r.Title = args[0]
			rep, err := c.CreateReport(cmd.Context(), r)
			if err != nil {
				return err
			}
			cmd.Printf("report %s %s\n", rep.ID, syncLabel(rep.SyncState))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&r.Description, "desc", "", "details")
	f.StringVar(&r.Category, "category", "", "category, e.g. lighting or waste")
	f.Float64Var(&r.Lat, "lat", 0, "latitude")
	f.Float64Var(&r.Lng, "lng", 0, "longitude")
	return cmd
}

func newClaimCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <reward-id>",
		Short: "Exchange points for a reward. Needs a connection.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.onlineClient(cmd.Context())
			if err != nil {
				return err
			}
			cl, err := c.ClaimReward(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("claimed, show this code at pickup: %s\n", green(cl.Code))
			return nil
		},
	}
}
