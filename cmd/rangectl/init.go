package main

import (
	"context"
	"fmt"

	"github.com/r3e-network/cyberrange/internal/config"
	"github.com/r3e-network/cyberrange/internal/platform/database"
	"github.com/r3e-network/cyberrange/internal/platform/migrations"
	"github.com/r3e-network/cyberrange/internal/seed"
	"github.com/r3e-network/cyberrange/internal/store/postgres"
)

// handleInit applies every embedded schema migration and seeds the exploit
// library, in that order, so a fresh deployment is ready for "rangectl
// serve" without a separate database bootstrap step.
func handleInit(ctx context.Context, cfg *config.Config, args []string) error {
	db, err := database.Open(ctx, cfg.Database.DSNOrDefault())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")

	store := postgres.New(db)
	n, err := seed.Apply(ctx, store)
	if err != nil {
		return fmt.Errorf("seed exploit library: %w", err)
	}
	fmt.Printf("seeded %d exploits\n", n)
	return nil
}
