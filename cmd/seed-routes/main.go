// seed-routes inserts the default Slade360 route table. Rows an operator
// has already customized are left untouched.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-routes
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if err := db.AutoMigrate(&models.EtimsRoute{}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate routes table: %v\n", err)
		os.Exit(1)
	}

	if err := models.SeedRoutes(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed routes: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d routes\n", len(models.DefaultRoutes))
}
