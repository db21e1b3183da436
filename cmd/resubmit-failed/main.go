// resubmit-failed re-queues the pipeline step for every failed gateway
// request from the last 24 hours. Safe to run repeatedly: each step
// re-derives document state before acting.
//
// Usage:
//   DB_* and PUBSUB_* env vars set, then: go run ./cmd/resubmit-failed
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/etims"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	requeued, err := etims.ResubmitFailedRequests(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resubmission failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d failed requests\n", requeued)
}
