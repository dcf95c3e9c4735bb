//go:build ignore

// probe-gateway.go runs the gateway diagnostic against a running server and
// triggers one reminder sweep, printing both responses.
//
// Run with: go run scripts/probe-gateway.go -phone +15551234567
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jmerrifield20/docchaser/pkg/client"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "docchaser server URL")
	phone := flag.String("phone", "", "phone number for the diagnostic SMS")
	email := flag.String("email", "", "address for the diagnostic email")
	sweep := flag.Bool("sweep", false, "also run one reminder sweep")
	flag.Parse()

	c, err := client.New(*server, client.WithBearerToken(os.Getenv("CRON_SECRET")))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *phone != "" || *email != "" {
		results, err := c.TestGateway(ctx, *phone, *email)
		if err != nil {
			fmt.Fprintln(os.Stderr, "test gateway:", err)
			os.Exit(1)
		}
		_ = enc.Encode(results)
	}

	if *sweep {
		out, err := c.RunReminders(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run reminders:", err)
			os.Exit(1)
		}
		_ = enc.Encode(out)
	}
}
