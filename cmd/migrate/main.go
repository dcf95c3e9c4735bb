// cmd/migrate applies the embedded schema migrations with goose.
//
// Usage:
//
//	go run ./cmd/migrate            # up
//	go run ./cmd/migrate down       # revert the latest migration
//	go run ./cmd/migrate status
//	DATABASE_URL=postgres://... go run ./cmd/migrate
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmerrifield20/docchaser/internal/config"
	"github.com/jmerrifield20/docchaser/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("DOCCHASER_CONFIG"))
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver is %q; migrations only apply to postgres", cfg.Database.Driver)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	case "down":
		if err := db.Rollback(ctx, pool); err != nil {
			return err
		}
	case "status":
		return db.Status(ctx, pool)
	default:
		return fmt.Errorf("unknown command %q (want up, down or status)", cmd)
	}

	v, err := db.Version(ctx, pool)
	if err != nil {
		return err
	}
	fmt.Printf("schema at version %d\n", v)
	return nil
}
