package monitorctl

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

func TestWriteStatsTableOrdersByAvailability(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000)
	outdated := false
	stats := []shared.NodeStats{
		{Node: shared.Node{ID: "b", Name: "Bravo", Hostname: "b.example", Port: 11898}, Availability: 10, Info: shared.OfflineEvent("b", ts)},
		{
			Node:         shared.Node{ID: "a", Name: "Alpha", Hostname: "a.example", Port: 11898},
			Availability: 100,
			Info:         shared.PollingEvent{NodeID: "a", Timestamp: ts, Synced: true, Version: "0.9.0", FeeAmount: 1000},
			VersionOK:    &outdated,
		},
	}

	var buf bytes.Buffer
	if err := WriteStatsTable(&buf, stats); err != nil {
		t.Fatalf("WriteStatsTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "Alpha") || !strings.HasPrefix(lines[2], "Bravo") {
		t.Errorf("unexpected order:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], "0.9.0 (outdated)") || !strings.Contains(lines[1], "10.00 TRTL") {
		t.Errorf("unexpected alpha row %q", lines[1])
	}
	if !strings.Contains(lines[2], "offline") {
		t.Errorf("unexpected bravo row %q", lines[2])
	}
}

func TestHistoryBarOldestFirst(t *testing.T) {
	history := []shared.StatusHistory{{Synced: true}, {Synced: false}, {Synced: false}}
	if got := historyBar(history); got != "..#" {
		t.Errorf("historyBar = %q", got)
	}
}

func TestWriteNodeDetail(t *testing.T) {
	s := &shared.NodeStats{
		Node:         shared.Node{ID: "a", Name: "Alpha", Hostname: "a.example", Port: 11898, SSL: true},
		Availability: 87.5,
		Info:         shared.PollingEvent{NodeID: "a", Synced: false, Version: "1.0.0", Height: 5},
	}
	var buf bytes.Buffer
	if err := WriteNodeDetail(&buf, s); err != nil {
		t.Fatalf("WriteNodeDetail: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"a.example:11898", "87.50%", "syncing", "SSL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
