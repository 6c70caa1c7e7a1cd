package monitorctl

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const timeLayout = "2006-01-02 15:04:05"

// WriteStatsTable renders one row per node, most available first.
func WriteStatsTable(out io.Writer, stats []shared.NodeStats) error {
	sorted := make([]shared.NodeStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Availability > sorted[j].Availability
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHOST\tAVAIL\tSTATUS\tHEIGHT\tVERSION\tFEE\tCONNS\tLAST_POLL")
	for _, s := range sorted {
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%d\t%s\t%s\t%d/%d\t%s\n",
			s.Name,
			hostPort(s.Node),
			s.Availability,
			status(s.Info),
			s.Info.Height,
			versionLabel(s),
			fee(s.Info),
			s.Info.ConnectionsIn, s.Info.ConnectionsOut,
			s.Info.Timestamp.Local().Format(timeLayout),
		)
	}
	return w.Flush()
}

// WriteNodeDetail renders a single node's latest snapshot and history.
func WriteNodeDetail(out io.Writer, s *shared.NodeStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintf(w, "ID\t%s\n", s.ID)
	fmt.Fprintf(w, "NAME\t%s\n", s.Name)
	fmt.Fprintf(w, "HOST\t%s\n", hostPort(s.Node))
	fmt.Fprintf(w, "SSL\t%t\n", s.SSL)
	fmt.Fprintf(w, "CACHE\t%t\n", s.Cache)
	fmt.Fprintf(w, "AVAILABILITY\t%.2f%%\n", s.Availability)
	fmt.Fprintf(w, "STATUS\t%s\n", status(s.Info))
	fmt.Fprintf(w, "VERSION\t%s\n", versionLabel(*s))
	fmt.Fprintf(w, "HEIGHT\t%d\n", s.Info.Height)
	fmt.Fprintf(w, "DIFFICULTY\t%d\n", s.Info.Difficulty)
	fmt.Fprintf(w, "HASHRATE\t%d\n", s.Info.Hashrate)
	fmt.Fprintf(w, "TX_POOL\t%d\n", s.Info.TransactionPoolSize)
	fmt.Fprintf(w, "FEE\t%s\n", fee(s.Info))
	fmt.Fprintf(w, "LAST_POLL\t%s\n", s.Info.Timestamp.Local().Format(timeLayout))
	fmt.Fprintf(w, "HISTORY\t%s\n", historyBar(s.History))
	return w.Flush()
}

func WriteNodesTable(out io.Writer, nodes []shared.Node) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tHOST\tSSL\tCACHE")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", n.ID, n.Name, hostPort(n), n.SSL, n.Cache)
	}
	return w.Flush()
}

func hostPort(n shared.Node) string {
	return fmt.Sprintf("%s:%d", n.Hostname, n.Port)
}

func status(ev shared.PollingEvent) string {
	switch {
	case ev.Offline():
		return "offline"
	case ev.Synced:
		return "synced"
	default:
		return "syncing"
	}
}

func versionLabel(s shared.NodeStats) string {
	if s.VersionOK != nil && !*s.VersionOK && !s.Info.Offline() {
		return s.Info.Version + " (outdated)"
	}
	return s.Info.Version
}

func fee(ev shared.PollingEvent) string {
	if ev.FeeAmount == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f TRTL", float64(ev.FeeAmount)/100)
}

// historyBar renders oldest to newest, one character per sample.
func historyBar(history []shared.StatusHistory) string {
	bar := make([]byte, len(history))
	for i, h := range history {
		c := byte('.')
		if h.Synced {
			c = '#'
		}
		bar[len(history)-1-i] = c
	}
	return string(bar)
}
