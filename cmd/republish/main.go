// Command republish pushes the journaled snapshot of a payment to its push
// channel, so open tracking pages pick it up without waiting for a poll.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"paytrack/internal/infra/checkout"
	"paytrack/internal/infra/pubsub"
	"paytrack/internal/infra/sqlite3"
	"paytrack/internal/storage"
	"paytrack/internal/stories/payment"
)

func main() {
	dbPath := flag.String("db", "./data/paytrack.db", "path to SQLite database")
	redisAddr := flag.String("redis", "127.0.0.1:6379", "redis address")
	paymentID := flag.String("payment", "", "payment id")
	checkoutURL := flag.String("checkout", "", "checkout API base URL; when set the snapshot is fetched fresh")
	dryRun := flag.Bool("dry-run", false, "print the snapshot without publishing")
	flag.Parse()

	if *paymentID == "" {
		log.Fatal("payment id is required: -payment <id>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	snap, err := loadSnapshot(ctx, *dbPath, *checkoutURL, *paymentID, logger)
	if err != nil {
		log.Fatalf("failed to load snapshot: %v", err)
	}
	fmt.Printf("Payment %s: status=%s updated_at=%s\n", snap.PaymentID, snap.Status, snap.UpdatedAt.Format(time.RFC3339))

	if *dryRun {
		return
	}

	client, err := pubsub.NewClient(ctx, pubsub.Options{Addr: *redisAddr}, logger)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer client.Close()

	if err := client.Publish(ctx, snap); err != nil {
		log.Fatalf("failed to publish: %v", err)
	}
	fmt.Printf("Published to %s\n", pubsub.ChannelName(snap.PaymentID))
}

func loadSnapshot(ctx context.Context, dbPath, checkoutURL, paymentID string, logger *slog.Logger) (*payment.Snapshot, error) {
	db, err := sqlite3.New(ctx, sqlite3.WithPath(dbPath))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	store := storage.New(db.DB)

	if checkoutURL == "" {
		snap, err := store.GetSnapshot(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("no journaled snapshot for %s", paymentID)
		}
		return snap, nil
	}

	gateway, err := checkout.NewClient(checkoutURL, 10*time.Second, logger)
	if err != nil {
		return nil, err
	}
	return payment.NewService(gateway, store, time.Now, logger).FetchStatus(ctx, paymentID)
}
