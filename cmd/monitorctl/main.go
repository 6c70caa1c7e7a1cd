package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/monitorctl"
	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

var (
	monitorURL = flag.String("monitor-url", "http://localhost:8430", "Node monitor API URL (or set MONITORCTL_URL env var)")
	authToken  = flag.String("auth-token", "", "Authentication token (or set MONITORCTL_AUTH_TOKEN env var)")
	format     = flag.String("format", "table", "Output format: table or json")
	timeout    = flag.Duration("timeout", 30*time.Second, "Request timeout")
)

func main() {
	flag.Parse()

	if *authToken == "" {
		*authToken = os.Getenv("MONITORCTL_AUTH_TOKEN")
	}
	if v := os.Getenv("MONITORCTL_URL"); v != "" && !flagSet("monitor-url") {
		*monitorURL = v
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	client := monitorctl.NewHTTPClient(*monitorURL, *authToken)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch args[0] {
	case "stats":
		err = handleStats(ctx, client)
	case "nodes":
		err = handleNodes(ctx, client)
	case "node":
		err = handleNode(ctx, client, args[1:])
	case "health":
		err = handleHealth(ctx, client)
	case "watch":
		cancel()
		err = handleWatch(client)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleStats(ctx context.Context, client *monitorctl.HTTPClient) error {
	stats, err := monitorctl.ListStats(ctx, client)
	if err != nil {
		return err
	}
	if *format == "json" {
		return printJSON(stats)
	}
	return monitorctl.WriteStatsTable(os.Stdout, stats)
}

func handleNodes(ctx context.Context, client *monitorctl.HTTPClient) error {
	nodes, err := monitorctl.ListNodes(ctx, client)
	if err != nil {
		return err
	}
	if *format == "json" {
		return printJSON(nodes)
	}
	return monitorctl.WriteNodesTable(os.Stdout, nodes)
}

func handleNode(ctx context.Context, client *monitorctl.HTTPClient, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("node command requires a node id (node <id> | node delete <id>)")
	}

	if args[0] == "delete" {
		if len(args) < 2 {
			return fmt.Errorf("node delete requires a node id")
		}
		if err := monitorctl.DeleteNode(ctx, client, args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted node %s\n", args[1])
		return nil
	}

	stats, err := monitorctl.GetStats(ctx, client, args[0])
	if err != nil {
		return err
	}
	if *format == "json" {
		return printJSON(stats)
	}
	return monitorctl.WriteNodeDetail(os.Stdout, stats)
}

func handleHealth(ctx context.Context, client *monitorctl.HTTPClient) error {
	r, err := monitorctl.GetReadiness(ctx, client)
	if err != nil {
		return err
	}
	if *format == "json" {
		return printJSON(r)
	}
	fmt.Printf("status: %s\n", r.Status)
	for name, c := range r.Components {
		if c.Error != "" {
			fmt.Printf("  %-10s %s (%s)\n", name, c.Status, c.Error)
			continue
		}
		fmt.Printf("  %-10s %s\n", name, c.Status)
	}
	if r.Status != "healthy" {
		os.Exit(2)
	}
	return nil
}

func handleWatch(client *monitorctl.HTTPClient) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return client.Watch(ctx, nil, func(env *shared.Envelope) error {
		if *format == "json" {
			return printJSON(env)
		}
		ts := time.UnixMilli(env.Timestamp).Local().Format("15:04:05")
		switch shared.EventType(env.Type) {
		case shared.EventTypePolling:
			var events []shared.PollingEvent
			if err := json.Unmarshal(env.Payload, &events); err != nil {
				return err
			}
			online := 0
			for _, ev := range events {
				if !ev.Offline() {
					online++
				}
			}
			fmt.Printf("%s polling  %d/%d nodes online\n", ts, online, len(events))
		case shared.EventTypeUpdate:
			var nodes []shared.Node
			if err := json.Unmarshal(env.Payload, &nodes); err != nil {
				return err
			}
			fmt.Printf("%s update   %d nodes listed\n", ts, len(nodes))
		default:
			var message string
			json.Unmarshal(env.Payload, &message)
			fmt.Printf("%s %-8s %s\n", ts, env.Type, message)
		}
		return nil
	}, func(err error, wait time.Duration) {
		fmt.Fprintf(os.Stderr, "event stream lost (%v), reconnecting in %s\n", err, wait.Round(time.Millisecond))
	})
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `monitorctl - TurtleCoin node monitor CLI

Usage:
  monitorctl [global-flags] <command> [args]

Global Flags:
  -monitor-url string
        Node monitor API URL (default "http://localhost:8430")
  -auth-token string
        Authentication token (or set MONITORCTL_AUTH_TOKEN env var)
  -format string
        Output format: table or json (default "table")
  -timeout duration
        Request timeout (default 30s)

Commands:
  stats                 Availability and latest snapshot for every node
  nodes                 List known nodes
  node <id>             Show one node with its recent history
  node delete <id>      Remove a node and its polling history
  health                Show collector readiness
  watch                 Stream update, polling and error events

  help                  Show this help message

Examples:
  monitorctl stats
  monitorctl -format json node 3f2a...
  MONITORCTL_AUTH_TOKEN=secret monitorctl node delete 3f2a...
`)
}
