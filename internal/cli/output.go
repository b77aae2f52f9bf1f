package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/briangreenhill/bperks/internal/entities"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func syncLabel(s entities.SyncState) string {
	switch s {
	case entities.SyncPending:
		return yellow("pending")
	case entities.SyncFailed:
		return red("failed")
	case entities.SyncConfirmed:
		return green("synced")
	}
	return ""
}

// offlineNotice is printed above data served from the local cache. A
// non-zero storedAt adds how old that copy is.
func offlineNotice(w io.Writer, offline bool, storedAt time.Time) {
	if !offline {
		return
	}
	if storedAt.IsZero() {
		fmt.Fprintln(w, yellow("offline: showing cached data"))
		return
	}
	age := time.Since(storedAt).Round(time.Second)
	fmt.Fprintln(w, yellow(fmt.Sprintf("offline: showing cached data from %s ago", age)))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
