// Command brokerctl is a small CLI for inspecting a running brokerd:
// broker capabilities, connections, asset-class detection, and routing
// dry-runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"brokerhub/internal/domain"
	"brokerhub/internal/router"
	"brokerhub/pkg/brokerhub"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: brokerctl <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  health               Show brokerd status\n")
		fmt.Fprintf(os.Stderr, "  brokers              List known brokers and capabilities\n")
		fmt.Fprintf(os.Stderr, "  connections [user]   List broker connections\n")
		fmt.Fprintf(os.Stderr, "  detect <symbol>      Classify a symbol's asset class\n")
		fmt.Fprintf(os.Stderr, "  route <symbol>       Dry-run broker selection for a symbol\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  BROKERD_URL          brokerd base URL (default http://localhost:8080)\n\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	baseURL := "http://localhost:8080"
	if u := os.Getenv("BROKERD_URL"); u != "" {
		baseURL = u
	}
	client := brokerhub.NewClient(baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "version":
		fmt.Printf("brokerctl %s\n", version)

	case "health":
		health, err := client.Health(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("status: %s, live connections: %d\n", health.Status, health.Connections)

	case "brokers":
		brokers, err := client.ListBrokers(ctx)
		if err != nil {
			fatal(err)
		}
		for _, b := range brokers {
			state := "not configured"
			if b.Configured {
				state = "configured"
			}
			classes := make([]string, 0, len(b.Capabilities.AssetClasses))
			for _, ac := range b.Capabilities.AssetClasses {
				classes = append(classes, string(ac))
			}
			fmt.Printf("%-10s %-22s auth=%-16s %s  [%s]\n",
				b.Type, b.Name, b.AuthKind, state, strings.Join(classes, ", "))
		}

	case "connections":
		userID := ""
		if len(os.Args) > 2 {
			userID = os.Args[2]
		}
		conns, err := client.ListConnections(ctx, userID)
		if err != nil {
			fatal(err)
		}
		if len(conns) == 0 {
			fmt.Println("no connections")
			return
		}
		for _, c := range conns {
			mode := "live-trading"
			if c.IsPaper {
				mode = "paper"
			}
			fmt.Printf("%s  %-10s user=%-12s %s active=%v live=%v\n",
				c.ID, c.BrokerType, c.UserID, mode, c.IsActive, c.Live)
		}

	case "detect":
		if len(os.Args) < 3 {
			fatal(fmt.Errorf("usage: brokerctl detect <symbol>"))
		}
		symbol := os.Args[2]
		fmt.Printf("%s -> %s\n", symbol, domain.DetectAssetClass(symbol))

	case "route":
		if len(os.Args) < 3 {
			fatal(fmt.Errorf("usage: brokerctl route <symbol> [stock-broker] [crypto-broker]"))
		}
		var prefs *router.Preferences
		if len(os.Args) > 3 {
			prefs = &router.Preferences{StockBroker: domain.BrokerType(os.Args[3])}
			if len(os.Args) > 4 {
				prefs.CryptoBroker = domain.BrokerType(os.Args[4])
			}
		}
		route, err := client.Route(ctx, os.Args[2], prefs)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s (%s) -> %s, confidence %d\n",
			route.Symbol, route.Selection.AssetClass,
			route.Selection.SelectedBroker, route.Selection.Confidence)
		if len(route.Selection.Alternatives) > 0 {
			alts := make([]string, 0, len(route.Selection.Alternatives))
			for _, a := range route.Selection.Alternatives {
				alts = append(alts, string(a))
			}
			fmt.Printf("alternatives: %s\n", strings.Join(alts, ", "))
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
	os.Exit(1)
}
