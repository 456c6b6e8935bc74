// Command admin is a small operations CLI against the matchmaking
// database: it inspects the waiting pool and runs cleanup by hand.
//
//	admin pool          list current waiting entries
//	admin sweep         evict entries older than the waiting TTL
//	admin purge <user>  drop a user's waiting entry and mailboxes
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"pairwave/backend/internal/config"
	"pairwave/backend/internal/models"
	"pairwave/backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	_ = godotenv.Load()
	dsn := os.Getenv("PAIRWAVE_POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("PAIRWAVE_POSTGRES_DSN is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	store := storage.NewService(db)
	ctx := context.Background()

	switch os.Args[1] {
	case "pool":
		var entries []models.WaitingEntry
		if err := db.WithContext(ctx).Order("enqueued_at asc").Find(&entries).Error; err != nil {
			log.Fatalf("list waiting pool: %v", err)
		}
		for _, entry := range entries {
			fmt.Println(formatEntry(entry))
		}
		fmt.Printf("%d waiting\n", len(entries))

	case "sweep":
		cutoff := time.Now().Add(-config.WaitingTTL)
		evicted, err := store.EvictWaitingBefore(ctx, cutoff)
		if err != nil {
			log.Fatalf("sweep: %v", err)
		}
		fmt.Printf("evicted %d stale entries\n", evicted)

	case "purge":
		if len(os.Args) < 3 {
			usage()
		}
		userID := os.Args[2]
		if err := store.DeleteWaitingEntry(ctx, userID); err != nil {
			log.Fatalf("delete waiting entry: %v", err)
		}
		if err := store.PurgeNotifications(ctx, userID); err != nil {
			log.Fatalf("purge notifications: %v", err)
		}
		if err := store.PurgeSignals(ctx, userID); err != nil {
			log.Fatalf("purge signals: %v", err)
		}
		fmt.Printf("purged %s\n", userID)

	default:
		usage()
	}
}

// formatEntry renders one waiting-pool row for the pool listing.
func formatEntry(entry models.WaitingEntry) string {
	return fmt.Sprintf("%s\tenqueued %s\tgender=%s filter=%s interests=%v",
		entry.UserID,
		entry.EnqueuedAt.Format(time.RFC3339),
		entry.Preferences.Gender,
		entry.Preferences.GenderFilter,
		[]string(entry.Preferences.Interests))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin pool | sweep | purge <user-id>")
	os.Exit(2)
}
